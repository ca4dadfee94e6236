package base

// DeliveryOutcome is the terminal result of delivering one chunk
type DeliveryOutcome int8

const (
	// OutcomeDelivered means the collector accepted the chunk
	OutcomeDelivered DeliveryOutcome = iota

	// OutcomePartial means some records were accepted and the rest went to the failure path
	OutcomePartial

	// OutcomeFailed means the chunk was not accepted and must be backed up
	OutcomeFailed
)

func (outcome DeliveryOutcome) String() string {
	switch outcome {
	case OutcomeDelivered:
		return "Delivered"
	case OutcomePartial:
		return "PartiallyDelivered"
	case OutcomeFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
