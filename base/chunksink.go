package base

// ChunkSink sends completed chunks to the event collector endpoint
//
// SendChunk returns nil only if the collector accepted the whole chunk. Implementations classify
// their errors so the delivery retry loop can tell transient from permanent failures
type ChunkSink interface {
	SendChunk(chunk BatchChunk) error
}

// PermanentError marks a delivery error that retrying cannot fix, e.g. a rejected token
//
// Errors not implementing the interface (or returning false) are treated as transient
type PermanentError interface {
	error
	Permanent() bool
}
