// Package envelope encodes and decodes the CloudWatch-style subscription envelope:
// a JSON document with batch routing metadata and the ordered list of log events,
// optionally gzip-compressed, optionally wrapped in base64 for transports that
// cannot carry binary payloads.
package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
)

// gzipMagic is the two-byte header of any gzip stream, used to tell compressed payloads
// from plain JSON without trusting transport headers
var gzipMagic = []byte{0x1f, 0x8b}

// IsCompressed tells whether the given payload is a gzip stream
func IsCompressed(data []byte) bool {
	return len(data) >= 2 && bytes.HasPrefix(data, gzipMagic)
}

// Decode parses a raw envelope payload, gunzipping it first when needed
func Decode(data []byte) (*base.EventBatch, error) {
	if IsCompressed(data) {
		reader, gerr := gzip.NewReader(bytes.NewReader(data))
		if gerr != nil {
			return nil, fmt.Errorf("bad gzip header: %w", gerr)
		}
		uncompressed, rerr := io.ReadAll(reader)
		if rerr != nil {
			return nil, fmt.Errorf("bad gzip payload: %w", rerr)
		}
		data = uncompressed
	}

	batch := &base.EventBatch{}
	if err := json.Unmarshal(data, batch); err != nil {
		return nil, fmt.Errorf("bad envelope JSON: %w", err)
	}
	if err := verifyBatch(batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// DecodeBase64 parses a base64-wrapped envelope payload, e.g. the data field of a Firehose record
func DecodeBase64(data string) (*base.EventBatch, error) {
	raw, derr := base64.StdEncoding.DecodeString(data)
	if derr != nil {
		return nil, fmt.Errorf("bad base64 payload: %w", derr)
	}
	return Decode(raw)
}

// Encode serializes a batch back into an envelope payload, gzip-compressed if requested
//
// Mostly for tests and log-source simulation; the pipeline itself keeps original payloads around
func Encode(batch *base.EventBatch, compress bool) ([]byte, error) {
	plain, merr := json.Marshal(batch)
	if merr != nil {
		return nil, merr
	}
	if !compress {
		return plain, nil
	}

	buffer := &bytes.Buffer{}
	writer, werr := gzip.NewWriterLevel(buffer, gzip.BestSpeed)
	if werr != nil {
		return nil, werr
	}
	if _, err := writer.Write(plain); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func verifyBatch(batch *base.EventBatch) error {
	switch batch.MessageType {
	case defs.MessageTypeData:
		if batch.LogGroup == "" || batch.LogStream == "" {
			return fmt.Errorf("envelope without log group or log stream: group='%s' stream='%s'",
				batch.LogGroup, batch.LogStream)
		}
	case defs.MessageTypeControl:
		// probe envelopes may omit routing metadata
	default:
		return fmt.Errorf("unsupported envelope message type: '%s'", batch.MessageType)
	}
	return nil
}
