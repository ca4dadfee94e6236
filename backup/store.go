// Package backup persists undeliverable chunks to local disk so no record is
// lost when the destination rejects them or stays unreachable past the retry
// budget.
//
// Objects are write-once: a chunk ID is persisted at most once and never
// overwritten, making the failure paths idempotent under worker restarts. The
// store never deletes objects on its own; cleanup after replay is an operator
// action.
package backup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/xattr"
	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"
	"github.com/vmihailenco/msgpack/v4"
	"golang.org/x/exp/slices"

	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
	"github.com/relex/loghose/util"
)

const xattrStoreID = "user.loghoseBackupID"

// Meta describes one backed-up chunk, enough to trace it back to its source
type Meta struct {
	ChunkID    string    `msgpack:"chunkId"`
	LogGroup   string    `msgpack:"logGroup"`
	LogStream  string    `msgpack:"logStream"`
	NumRecords int       `msgpack:"numRecords"`
	Arrived    time.Time `msgpack:"arrived"` // ingest time of the source batch
	Reason     string    `msgpack:"reason"`  // why the chunk ended up here
}

// storedObject is the on-disk layout: metadata envelope around the original chunk payload
type storedObject struct {
	Meta Meta   `msgpack:"meta"`
	Data []byte `msgpack:"data"`
}

// Config defines the backup store location and bounds
type Config struct {
	Dir     string            `yaml:"dir"`
	MaxSize datasize.ByteSize `yaml:"maxSize"` // total object bytes before new persists are refused, 0 = unlimited
}

// VerifyConfig verifies backup store config
func (cfg *Config) VerifyConfig() error {
	if cfg.Dir == "" {
		return fmt.Errorf(".dir is unspecified")
	}
	return nil
}

// Store is the on-disk backup location shared by all delivery workers
type Store struct {
	logger    logger.Logger
	dir       *os.File
	sizeLimit int64
	metrics   storeMetrics
}

type storeMetrics struct {
	objects       promexporter.RWGauge
	objectBytes   promexporter.RWGauge
	ioErrorsTotal promexporter.RWCounter
	refusedTotal  promexporter.RWCounter
}

// NewStore creates or reopens the backup directory
//
// The directory is labelled with an extended attribute so a later scan can tell
// a real backup dir from an unrelated one given by misconfiguration
func NewStore(parentLogger logger.Logger, cfg Config, metricFactory *base.MetricFactory) (*Store, error) {
	slogger := parentLogger.WithField(defs.LabelComponent, "BackupStore")
	if derr := os.MkdirAll(cfg.Dir, 0o755); derr != nil {
		return nil, fmt.Errorf("failed to create backup dir '%s': %w", cfg.Dir, derr)
	}
	if xerr := xattr.Set(cfg.Dir, xattrStoreID, []byte("loghose")); xerr != nil {
		// not fatal: some filesystems have no xattr support
		slogger.Warnf("failed to label backup dir '%s': %s", cfg.Dir, xerr.Error())
	}
	dir, oerr := os.Open(cfg.Dir)
	if oerr != nil {
		return nil, fmt.Errorf("failed to open backup dir '%s': %w", cfg.Dir, oerr)
	}

	store := &Store{
		logger:    slogger,
		dir:       dir,
		sizeLimit: int64(cfg.MaxSize.Bytes()),
		metrics: storeMetrics{
			objects:       metricFactory.AddOrGetGauge("backup_objects", "Numbers of backed-up chunks on disk", nil, nil),
			objectBytes:   metricFactory.AddOrGetGauge("backup_object_bytes", "Bytes of backed-up chunks on disk", nil, nil),
			ioErrorsTotal: metricFactory.AddOrGetCounter("backup_io_errors_total", "Numbers of I/O errors on backup operations", nil, nil),
			refusedTotal:  metricFactory.AddOrGetCounter("backup_refused_total", "Numbers of persists refused due to the size limit", nil, nil),
		},
	}
	store.initUsage()
	return store, nil
}

// Persist writes one chunk with its metadata; persisting the same chunk ID again is a no-op
func (store *Store) Persist(meta Meta, data []byte) error {
	if _, serr := util.StatFileAt(store.dir, meta.ChunkID); serr == nil {
		store.logger.Infof("skip persisting existing chunk id=%s", meta.ChunkID)
		return nil
	}

	if store.sizeLimit > 0 && store.metrics.objectBytes.Get()+int64(len(data)) > store.sizeLimit {
		store.metrics.refusedTotal.Inc()
		return fmt.Errorf("backup store is full: limit=%d used=%d chunk=%d bytes",
			store.sizeLimit, store.metrics.objectBytes.Get(), len(data))
	}

	payload, merr := msgpack.Marshal(storedObject{Meta: meta, Data: data})
	if merr != nil {
		return fmt.Errorf("failed to encode chunk id=%s: %w", meta.ChunkID, merr)
	}
	if werr := util.WriteFileAt(store.dir, meta.ChunkID, payload, 0o644); werr != nil {
		store.metrics.ioErrorsTotal.Inc()
		return fmt.Errorf("failed to write chunk id=%s: %w", meta.ChunkID, werr)
	}

	store.metrics.objects.Inc()
	store.metrics.objectBytes.Add(int64(len(payload)))
	store.logger.Infof("persisted chunk id=%s records=%d bytes=%d reason=%s",
		meta.ChunkID, meta.NumRecords, len(payload), meta.Reason)
	return nil
}

// Scan lists the metadata of all backed-up chunks in chunk ID order, which is creation order
func (store *Store) Scan() ([]Meta, error) {
	names, derr := store.listObjectNames()
	if derr != nil {
		return nil, derr
	}

	metaList := make([]Meta, 0, len(names))
	for _, name := range names {
		meta, _, lerr := store.Load(name)
		if lerr != nil {
			store.logger.Warnf("skip unreadable chunk id=%s: %s", name, lerr.Error())
			continue
		}
		metaList = append(metaList, meta)
	}
	return metaList, nil
}

// Load reads one backed-up chunk by ID
func (store *Store) Load(chunkID string) (Meta, []byte, error) {
	payload, rerr := util.ReadFileAt(store.dir, chunkID)
	if rerr != nil {
		store.metrics.ioErrorsTotal.Inc()
		return Meta{}, nil, fmt.Errorf("failed to read chunk id=%s: %w", chunkID, rerr)
	}
	obj := storedObject{}
	if uerr := msgpack.Unmarshal(payload, &obj); uerr != nil {
		return Meta{}, nil, fmt.Errorf("failed to decode chunk id=%s: %w", chunkID, uerr)
	}
	return obj.Meta, obj.Data, nil
}

// Close closes the directory handle
func (store *Store) Close() {
	if err := store.dir.Close(); err != nil {
		store.logger.Errorf("failed to close backup dir: %s", err.Error())
	}
}

// initUsage primes the usage gauges from objects left by previous runs
func (store *Store) initUsage() {
	names, derr := store.listObjectNames()
	if derr != nil {
		store.logger.Errorf("failed to scan backup dir: %s", derr.Error())
		return
	}
	totalBytes := int64(0)
	for _, name := range names {
		stat, serr := util.StatFileAt(store.dir, name)
		if serr != nil {
			continue
		}
		totalBytes += stat.Size
	}
	store.metrics.objects.Set(int64(len(names)))
	store.metrics.objectBytes.Set(totalBytes)
	if len(names) > 0 {
		store.logger.Infof("found existing backup objects count=%d bytes=%d", len(names), totalBytes)
	}
}

func (store *Store) listObjectNames() ([]string, error) {
	// rewind or subsequent scans only see new entries
	if _, serr := store.dir.Seek(0, 0); serr != nil {
		store.metrics.ioErrorsTotal.Inc()
		return nil, serr
	}
	names, derr := store.dir.Readdirnames(0)
	if derr != nil {
		store.metrics.ioErrorsTotal.Inc()
		return nil, derr
	}
	filtered := names[:0]
	for _, name := range names {
		if strings.HasSuffix(name, defs.ChunkIDSuffix) {
			filtered = append(filtered, name)
		}
	}
	slices.Sort(filtered)
	return filtered, nil
}
