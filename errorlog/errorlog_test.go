package errorlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"

	"github.com/relex/loghose/base"
)

func TestLogAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.jsonl")
	mfactory := base.NewMetricFactory("test_errorlog_append_", nil, nil)
	log, err := NewLog(logger.Root(), Config{Path: path}, mfactory)
	assert.NoError(t, err)

	assert.NoError(t, log.Append(Entry{
		ChunkID:   "001.hec",
		Class:     ClassDeliveryFailure,
		LogGroup:  "/ecs/app",
		LogStream: "app/web/1",
		Message:   "collector returned status 403",
	}))
	assert.NoError(t, log.Append(Entry{
		Class:   ClassTransformFailure,
		Message: "undecodable payload",
	}))
	log.Close()

	content, rerr := os.ReadFile(path)
	assert.NoError(t, rerr)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	assert.Equal(t, 2, len(lines))

	first := Entry{}
	assert.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "001.hec", first.ChunkID)
	assert.Equal(t, ClassDeliveryFailure, first.Class)
	assert.False(t, first.Time.IsZero())
}

func TestLogAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.jsonl")
	mfactory := base.NewMetricFactory("test_errorlog_reopen_", nil, nil)

	log1, _ := NewLog(logger.Root(), Config{Path: path}, mfactory)
	assert.NoError(t, log1.Append(Entry{Class: ClassDeliveryFailure, Message: "first run"}))
	log1.Close()

	log2, _ := NewLog(logger.Root(), Config{Path: path}, mfactory)
	assert.NoError(t, log2.Append(Entry{Class: ClassDeliveryFailure, Message: "second run"}))
	log2.Close()

	content, _ := os.ReadFile(path)
	assert.Equal(t, 2, strings.Count(string(content), "\n"))
}

func TestLogClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.jsonl")
	mfactory := base.NewMetricFactory("test_errorlog_closed_", nil, nil)
	log, _ := NewLog(logger.Root(), Config{Path: path}, mfactory)
	log.Close()
	log.Close() // idempotent
	assert.Error(t, log.Append(Entry{Class: ClassDeliveryFailure, Message: "too late", Time: time.Now()}))
}
