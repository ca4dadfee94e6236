package base

// RecordStatus is the per-record disposition returned by a BatchTransformer
type RecordStatus int8

const (
	// StatusOk marks a record transformed successfully and ready to forward
	StatusOk RecordStatus = iota

	// StatusDropped marks a record excluded on purpose, e.g. from a control message; not an error
	StatusDropped

	// StatusProcessingFailed marks a record the transformer could not process; it goes to the failure path
	StatusProcessingFailed
)

func (status RecordStatus) String() string {
	switch status {
	case StatusOk:
		return "Ok"
	case StatusDropped:
		return "Dropped"
	case StatusProcessingFailed:
		return "ProcessingFailed"
	default:
		return "Unknown"
	}
}

// TransformedRecord is the result for a single log event inside a transformed batch
type TransformedRecord struct {
	RecordID string       // ID of the source log event
	Status   RecordStatus // disposition deciding the record's path
	Data     []byte       // delivery-ready payload, nil unless Status is StatusOk
	Reason   string       // failure reason, empty unless Status is StatusProcessingFailed
}

// TransformResult is the outcome of one transformer invocation over one raw batch
//
// A returned result means the invocation itself succeeded; batch-level failures are reported
// as an error from TransformBatch instead
type TransformResult struct {
	Records []TransformedRecord
}

// CountByStatus returns the numbers of records with the given disposition
func (result TransformResult) CountByStatus(status RecordStatus) int {
	count := 0
	for _, record := range result.Records {
		if record.Status == status {
			count++
		}
	}
	return count
}

// BatchTransformer turns one raw (compressed) batch payload into delivery-ready records,
// one disposition per source event
//
// The input payload is the unmodified envelope as appended to the ingest stream. Implementations
// must be stateless across invocations; the same payload must yield the same result
type BatchTransformer interface {

	// TransformBatch transforms the raw payload of a whole batch
	//
	// An error return fails the entire batch: no record of it may be forwarded
	TransformBatch(raw []byte) (TransformResult, error)
}

// RecordSerializer formats one log event of a batch into a delivery-ready record payload
type RecordSerializer interface {

	// SerializeRecord returns the collector-ready bytes for the given event
	//
	// The returned buffer is owned by the caller
	SerializeRecord(batch *EventBatch, event LogEvent) ([]byte, error)
}
