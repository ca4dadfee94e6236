package backup

import (
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"

	"github.com/relex/loghose/base"
)

func newTestStore(t *testing.T, prefix string, maxSize datasize.ByteSize) *Store {
	mfactory := base.NewMetricFactory(prefix, nil, nil)
	store, err := NewStore(logger.Root(), Config{Dir: t.TempDir(), MaxSize: maxSize}, mfactory)
	assert.NoError(t, err)
	return store
}

func newTestMeta(chunkID string, reason string) Meta {
	return Meta{
		ChunkID:    chunkID,
		LogGroup:   "/ecs/app",
		LogStream:  "app/web/1",
		NumRecords: 3,
		Arrived:    time.Now().Truncate(time.Millisecond),
		Reason:     reason,
	}
}

func TestStorePersistAndLoad(t *testing.T) {
	store := newTestStore(t, "test_backup_persist_", 0)
	defer store.Close()

	data := []byte("gzipped chunk payload")
	meta := newTestMeta("0000000000000000001-00000000.hec", "collector returned status 403")
	assert.NoError(t, store.Persist(meta, data))

	loadedMeta, loadedData, lerr := store.Load(meta.ChunkID)
	assert.NoError(t, lerr)
	assert.Equal(t, data, loadedData)
	assert.Equal(t, meta.LogGroup, loadedMeta.LogGroup)
	assert.Equal(t, meta.NumRecords, loadedMeta.NumRecords)
	assert.Equal(t, meta.Reason, loadedMeta.Reason)
}

func TestStorePersistIdempotent(t *testing.T) {
	store := newTestStore(t, "test_backup_idempotent_", 0)
	defer store.Close()

	meta := newTestMeta("0000000000000000002-00000000.hec", "first")
	assert.NoError(t, store.Persist(meta, []byte("original")))

	// second persist with different content must not overwrite
	meta.Reason = "second"
	assert.NoError(t, store.Persist(meta, []byte("replacement")))

	loadedMeta, loadedData, _ := store.Load(meta.ChunkID)
	assert.Equal(t, []byte("original"), loadedData)
	assert.Equal(t, "first", loadedMeta.Reason)
}

func TestStoreScanOrder(t *testing.T) {
	store := newTestStore(t, "test_backup_scan_", 0)
	defer store.Close()

	// persisted out of order on purpose
	assert.NoError(t, store.Persist(newTestMeta("0000000000000000005-00000000.hec", "r"), []byte("b")))
	assert.NoError(t, store.Persist(newTestMeta("0000000000000000003-00000000.hec", "r"), []byte("a")))
	assert.NoError(t, store.Persist(newTestMeta("0000000000000000003-00000001.hec", "r"), []byte("c")))

	metaList, serr := store.Scan()
	assert.NoError(t, serr)
	assert.Equal(t, 3, len(metaList))
	assert.Equal(t, "0000000000000000003-00000000.hec", metaList[0].ChunkID)
	assert.Equal(t, "0000000000000000003-00000001.hec", metaList[1].ChunkID)
	assert.Equal(t, "0000000000000000005-00000000.hec", metaList[2].ChunkID)
}

func TestStoreSizeLimit(t *testing.T) {
	store := newTestStore(t, "test_backup_limit_", 1*datasize.KB)
	defer store.Close()

	assert.NoError(t, store.Persist(newTestMeta("0000000000000000006-00000000.hec", "r"), make([]byte, 10)))
	assert.Error(t, store.Persist(newTestMeta("0000000000000000007-00000000.hec", "r"), make([]byte, 2000)))
}

func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()
	mfactory := base.NewMetricFactory("test_backup_reopen_", nil, nil)

	store1, _ := NewStore(logger.Root(), Config{Dir: dir}, mfactory)
	assert.NoError(t, store1.Persist(newTestMeta("0000000000000000008-00000000.hec", "r"), []byte("kept")))
	store1.Close()

	store2, err := NewStore(logger.Root(), Config{Dir: dir}, base.NewMetricFactory("test_backup_reopen2_", nil, nil))
	assert.NoError(t, err)
	defer store2.Close()
	metaList, _ := store2.Scan()
	assert.Equal(t, 1, len(metaList))
	_, data, lerr := store2.Load("0000000000000000008-00000000.hec")
	assert.NoError(t, lerr)
	assert.Equal(t, []byte("kept"), data)
}
