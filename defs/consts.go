package defs

// Common labels for logging
const (
	LabelComponent = "component"
	LabelName      = "name"
	LabelPart      = "part"

	LabelLogGroup  = "logGroup"
	LabelLogStream = "logStream"
	LabelRemote    = "remote"
)

// ChunkIDSuffix is the file extension of generated chunk IDs, shared by the
// chunk maker and the backup store scanner
const ChunkIDSuffix = ".hec"

// CloudWatch subscription envelope message types
const (
	// MessageTypeData marks an envelope carrying log events
	MessageTypeData = "DATA_MESSAGE"

	// MessageTypeControl marks a probe envelope sent to verify the destination; carries no deliverable events
	MessageTypeControl = "CONTROL_MESSAGE"
)
