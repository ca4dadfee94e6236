package base

import (
	"github.com/relex/gotils/channels"
)

// PipelineWorker represents a background worker in a stage of the processing pipeline, e.g. a delivery worker
type PipelineWorker interface {
	Launch()
	Stopped() channels.Awaitable
}
