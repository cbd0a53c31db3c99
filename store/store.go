// Package store orchestrates the write-ahead log, memtable, SSTables, and
// catalog into the embedded key-value engine: one writer path per
// process, many concurrent readers, and a compactor that can run
// synchronously or through the async driver in async.go.
package store

import (
	"bytes"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kodelabs-dev/lsmgo/catalog"
	"github.com/kodelabs-dev/lsmgo/compaction"
	"github.com/kodelabs-dev/lsmgo/memtable"
	"github.com/kodelabs-dev/lsmgo/sstable"
	"github.com/kodelabs-dev/lsmgo/wal"
)

// Store is the embedded LSM key-value engine. The zero value is not
// usable; construct one with Open.
type Store struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	closed   bool
	mem      *memtable.Memtable
	memBytes int
	tsClock  uint64

	walDir  string
	sstDir  string
	metaDir string

	w        *wal.WAL
	walSeq   uint64

	cat     *catalog.Catalog
	sstSeq  atomic.Uint64

	driver *asyncDriver
}

var sstNamePattern = regexp.MustCompile(`^sst-\d+-(\d+)\.data$`)

// Open creates data_dir's directory structure if needed, replays the WAL
// into a fresh memtable, and loads the catalog. A malformed WAL or
// catalog is a fatal *RecoveryError.
func Open(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("store: DataDir is required")
	}
	cfg.withDefaults()

	walDir := filepath.Join(cfg.DataDir, "wal")
	sstDir := filepath.Join(cfg.DataDir, "sst")
	metaDir := filepath.Join(cfg.DataDir, "meta")
	for _, d := range []string{walDir, sstDir, metaDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, &RecoveryError{Err: err}
		}
	}

	cat, err := catalog.Open(filepath.Join(metaDir, "catalog.json"))
	if err != nil {
		return nil, &RecoveryError{Err: err}
	}
	if err := compaction.CleanupTemp(sstDir); err != nil {
		return nil, &RecoveryError{Err: err}
	}

	s := &Store{
		cfg:     cfg,
		log:     cfg.Logger,
		mem:     memtable.New(),
		walDir:  walDir,
		sstDir:  sstDir,
		metaDir: metaDir,
		cat:     cat,
	}

	s.sstSeq.Store(maxSSTCounter(cat, cfg.MaxLevels))

	walPath := filepath.Join(walDir, "wal-current.wal")
	maxTs, err := wal.Replay(walPath, func(r wal.Record) error {
		switch r.Op {
		case wal.OpPut:
			s.mem.Put(r.Key, r.Value, r.Ts)
		case wal.OpDelete:
			s.mem.Delete(r.Key, r.Ts)
		default:
			return &CorruptionError{Err: wal.ErrCorrupt}
		}
		s.memBytes += len(r.Key) + len(r.Value) + 32
		return nil
	})
	if err != nil {
		return nil, &RecoveryError{Err: err}
	}
	s.tsClock = max(uint64(time.Now().UnixMilli()), maxTs+1)

	w, err := wal.Open(walPath, cfg.WALFlushEveryWrite)
	if err != nil {
		return nil, &RecoveryError{Err: err}
	}
	s.w = w

	s.driver = newAsyncDriver(s, cfg.MaxLevels)
	s.log.Info("store opened", zap.String("data_dir", cfg.DataDir), zap.Uint64("recovered_ts", maxTs))
	return s, nil
}

func maxSSTCounter(cat *catalog.Catalog, maxLevels int) uint64 {
	var max uint64
	for l := 0; l < maxLevels; l++ {
		for _, d := range cat.ListLevel(l) {
			base := filepath.Base(d.DataPath)
			m := sstNamePattern.FindStringSubmatch(base)
			if m == nil {
				continue
			}
			n, err := strconv.ParseUint(m[1], 10, 64)
			if err == nil && n >= max {
				max = n + 1
			}
		}
	}
	return max
}

func (s *Store) nextTs() uint64 {
	now := uint64(time.Now().UnixMilli())
	if now > s.tsClock {
		s.tsClock = now
	} else {
		s.tsClock++
	}
	return s.tsClock
}

func (s *Store) nextSSTID() uint64 { return s.sstSeq.Add(1) - 1 }

// Put durably records key=value and applies it to the memtable, flushing
// to a new L0 SSTable if the memtable has grown past MemtableMaxBytes.
func (s *Store) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ts := s.nextTs()
	if _, err := s.w.Append(wal.OpPut, key, value, ts); err != nil {
		return err
	}
	s.mem.Put(key, value, ts)
	s.memBytes += len(key) + len(value) + 32
	return s.maybeFlushLocked()
}

// Delete durably records a tombstone for key.
func (s *Store) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ts := s.nextTs()
	if _, err := s.w.Append(wal.OpDelete, key, nil, ts); err != nil {
		return err
	}
	s.mem.Delete(key, ts)
	s.memBytes += len(key) + 32
	return s.maybeFlushLocked()
}

// Get returns key's current value. ok=false covers both "never written"
// and "deleted by tombstone".
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	value, _, ok, err := s.GetWithMeta(key)
	return value, ok, err
}

// GetWithMeta is Get plus the timestamp the surviving write or delete was
// assigned, for callers that need to reason about recency.
func (s *Store) GetWithMeta(key []byte) ([]byte, uint64, bool, error) {
	if len(key) == 0 {
		return nil, 0, false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, false, ErrClosed
	}

	if r, ok := s.mem.Get(key); ok {
		if r.Tombstone {
			return nil, r.Ts, false, nil
		}
		return r.Value, r.Ts, true, nil
	}

	for level := 0; level < s.cfg.MaxLevels; level++ {
		descs := s.cat.ListLevel(level)
		for i := len(descs) - 1; i >= 0; i-- {
			d := descs[i]
			if bytes.Compare(key, d.MinKey) < 0 || bytes.Compare(key, d.MaxKey) > 0 {
				continue
			}
			r, err := sstable.Open(d)
			if err != nil {
				return nil, 0, false, &CorruptionError{Err: err}
			}
			if !r.MayContain(key) {
				continue
			}
			rec, found, err := r.Get(key)
			if err != nil {
				return nil, 0, false, &CorruptionError{Err: err}
			}
			if !found {
				continue
			}
			if rec.Tombstone {
				return nil, rec.Ts, false, nil
			}
			return rec.Value, rec.Ts, true, nil
		}
	}
	return nil, 0, false, nil
}

// Range yields every live key in [start, end) in ascending order, merged
// across the memtable and every SSTable. A nil start or end is
// unbounded on that side.
func (s *Store) Range(start, end []byte) (iter.Seq2[[]byte, []byte], error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	sources, err := s.collectRangeSourcesLocked(start, end)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return func(yield func([]byte, []byte) bool) {
		for _, r := range sources {
			defer r.close()
		}
		merged := mergeRecords(sources)
		for rec := range merged {
			if rec.Tombstone {
				continue
			}
			if !yield(rec.Key, rec.Value) {
				return
			}
		}
	}, nil
}

func (s *Store) collectRangeSourcesLocked(start, end []byte) ([]recordSource, error) {
	var sources []recordSource
	sources = append(sources, memtableSource(s.mem, start, end))

	for level := 0; level < s.cfg.MaxLevels; level++ {
		descs := s.cat.ListLevel(level)
		for i := len(descs) - 1; i >= 0; i-- {
			r, err := sstable.Open(descs[i])
			if err != nil {
				return nil, &CorruptionError{Err: err}
			}
			sources = append(sources, sstableSource(r, start, end))
		}
	}
	return sources, nil
}

// FlushMemtable drains the current memtable into a new L0 SSTable. It is
// a no-op if the memtable is empty. The visible order is: SSTable
// visible in the catalog, memtable cleared, WAL rotated, so a crash
// between the first two steps is harmless on replay.
func (s *Store) FlushMemtable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

func (s *Store) maybeFlushLocked() error {
	if s.mem.SizeBytes() <= s.cfg.MemtableMaxBytes {
		return nil
	}
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if s.mem.SizeBytes() == 0 {
		return nil
	}

	id := s.nextSSTID()
	dataPath := filepath.Join(s.sstDir, fmt.Sprintf("sst-%d-%d.data", 0, id))
	metaPath := filepath.Join(s.sstDir, fmt.Sprintf("sst-%d-%d.meta", 0, id))
	w, err := sstable.NewWriter(dataPath, metaPath, s.cfg.IndexInterval, s.cfg.BloomFalsePositiveRate)
	if err != nil {
		return err
	}
	for rec := range s.mem.Items() {
		if err := w.Add(rec.Key, rec.Value, rec.Tombstone, rec.Ts); err != nil {
			w.Abort()
			return &SSTableError{Err: err}
		}
	}
	desc, err := w.Finalize()
	if err != nil {
		return err
	}
	if err := s.cat.AddSSTable(0, desc); err != nil {
		return err
	}

	s.mem.Clear()
	s.memBytes = 0
	s.log.Info("flushed memtable", zap.String("data_path", desc.DataPath), zap.Uint64("count", desc.Count))

	if err := s.rotateWALLocked(); err != nil {
		return err
	}
	s.MaybeScheduleCompaction(0)
	return nil
}

// LevelCounts returns, for each level 0..MaxLevels-1, the number of live
// SSTables the catalog currently lists there.
func (s *Store) LevelCounts() []int {
	counts := make([]int, s.cfg.MaxLevels)
	for l := range counts {
		counts[l] = len(s.cat.ListLevel(l))
	}
	return counts
}

func (s *Store) rotateWALLocked() error {
	if err := s.w.Close(); err != nil {
		return err
	}
	currentPath := filepath.Join(s.walDir, "wal-current.wal")
	archivePath := filepath.Join(s.walDir, fmt.Sprintf("wal-%d.wal", s.walSeq))
	s.walSeq++
	if err := os.Rename(currentPath, archivePath); err != nil {
		return err
	}
	w, err := wal.Open(currentPath, s.cfg.WALFlushEveryWrite)
	if err != nil {
		return err
	}
	s.w = w
	_ = os.Remove(archivePath)
	return nil
}

// CompactLevel synchronously merges every SSTable at level into level+1
// and blocks until the catalog has been updated. level must lie in
// 0..MaxLevels-2, so that level+1 is still a level Get and Range read.
func (s *Store) CompactLevel(level int) error {
	if level < 0 || level >= s.cfg.MaxLevels-1 {
		return fmt.Errorf("store: cannot compact level %d: target level must be below MaxLevels (%d)", level, s.cfg.MaxLevels)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	inputs := s.cat.ListLevel(level)
	s.mu.Unlock()

	if len(inputs) == 0 {
		return nil
	}

	outputs, err := compaction.Run(compaction.Job{
		SourceLevel:               level,
		TargetLevel:               level + 1,
		Inputs:                    inputs,
		OutputDir:                 s.sstDir,
		NextID:                    s.nextSSTID,
		MaxOutputBytes:            s.cfg.SSTableMaxBytes,
		TombstoneRetentionSeconds: s.cfg.TombstoneRetentionSeconds,
		IndexInterval:             s.cfg.IndexInterval,
		BloomFPR:                  s.cfg.BloomFalsePositiveRate,
		NowMillis:                 time.Now().UnixMilli(),
	})
	if err != nil {
		return &CompactionError{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cat.Swap(level+1, outputs, inputs); err != nil {
		return err
	}
	for _, d := range inputs {
		_ = os.Remove(d.DataPath)
		_ = os.Remove(d.MetaPath)
	}
	s.log.Info("compacted level",
		zap.Int("source_level", level),
		zap.Int("target_level", level+1),
		zap.Int("inputs", len(inputs)),
		zap.Int("outputs", len(outputs)))
	return nil
}

// Close stops the async driver and closes the WAL.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.driver != nil {
		s.driver.shutdown()
	}
	return s.w.Close()
}
