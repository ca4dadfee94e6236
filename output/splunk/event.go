package splunk

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/relex/loghose/base"
)

// hecEvent is one line of the HEC event endpoint payload
//
// The endpoint accepts concatenated JSON documents; no array wrapping and no
// separator is required, but the chunk maker joins them with newlines anyway
// for readability in captures
type hecEvent struct {
	Time       json.Number       `json:"time"`
	Host       string            `json:"host,omitempty"`
	Source     string            `json:"source"`
	SourceType string            `json:"sourcetype"`
	Index      string            `json:"index,omitempty"`
	Event      json.RawMessage   `json:"event"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// EventSerializer formats log events as HEC event JSON documents
//
// A message that is itself a JSON object or array is embedded unmodified so
// field extraction works on the destination; anything else becomes a JSON
// string. Events are never concatenated or split.
type EventSerializer struct {
	index      string
	sourceType string
}

// NewEventSerializer creates an EventSerializer for the configured destination
func NewEventSerializer(cfg Config) *EventSerializer {
	return &EventSerializer{
		index:      cfg.Index,
		sourceType: cfg.SourceType,
	}
}

// SerializeRecord implements base.RecordSerializer
func (s *EventSerializer) SerializeRecord(batch *base.EventBatch, event base.LogEvent) ([]byte, error) {
	return json.Marshal(hecEvent{
		Time:       formatEpochMillis(event.Timestamp),
		Host:       batch.Owner,
		Source:     batch.LogGroup,
		SourceType: s.sourceType,
		Index:      s.index,
		Event:      embedMessage(event.Message),
		Fields: map[string]string{
			"log_stream": batch.LogStream,
			"event_id":   event.ID,
		},
	})
}

// formatEpochMillis renders epoch milliseconds as HEC epoch seconds with
// millisecond precision, e.g. 1656000000412 => 1656000000.412
func formatEpochMillis(millis int64) json.Number {
	return json.Number(strconv.FormatInt(millis/1000, 10) + "." + padMillis(millis%1000))
}

func padMillis(remainder int64) string {
	s := strconv.FormatInt(remainder, 10)
	return strings.Repeat("0", 3-len(s)) + s
}

// embedMessage keeps structured messages structured: a message that parses as a
// JSON object or array is passed through, everything else is quoted
func embedMessage(message string) json.RawMessage {
	trimmed := strings.TrimSpace(message)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(message)
	return quoted
}
