package store

import "go.uber.org/zap"

// Config controls one Store's durability, sizing, and logging behavior.
// DataDir is the only required field; everything else has a sane default
// via DefaultConfig.
type Config struct {
	// DataDir is the root directory holding wal/, sst/, and meta/.
	DataDir string

	// MemtableMaxBytes triggers a flush once the active memtable's
	// estimated size exceeds it.
	MemtableMaxBytes int

	// WALFlushEveryWrite forces an fsync after every WAL append.
	WALFlushEveryWrite bool

	// BloomFalsePositiveRate is the target false-positive rate for newly
	// written SSTables.
	BloomFalsePositiveRate float64

	// SSTableMaxBytes bounds the size of one compaction output file.
	SSTableMaxBytes uint64

	// TombstoneRetentionSeconds is the minimum age a tombstone must reach
	// before compaction is allowed to drop it.
	TombstoneRetentionSeconds int64

	// MaxLevels is the number of levels the catalog tracks.
	MaxLevels int

	// WALFileRotateBytes is an advisory size hint; it is currently
	// informational since rotation is driven by memtable flushes.
	WALFileRotateBytes uint64

	// CompactionTriggerCount is the number of SSTables at a level that
	// causes the async driver to schedule that level for compaction.
	CompactionTriggerCount int

	// IndexInterval controls how often a sparse index sample is taken in
	// new SSTables.
	IndexInterval int

	// Logger receives structured diagnostics for flush, compaction, and
	// recovery. A disabled logger is installed if nil.
	Logger *zap.Logger
}

// DefaultConfig returns the configuration described in the engine's
// external interface table, rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:                   dataDir,
		MemtableMaxBytes:          64 << 20,
		WALFlushEveryWrite:        true,
		BloomFalsePositiveRate:    0.01,
		SSTableMaxBytes:           64 << 20,
		TombstoneRetentionSeconds: 86400,
		MaxLevels:                 6,
		WALFileRotateBytes:        64 << 20,
		CompactionTriggerCount:    4,
		IndexInterval:             100,
		Logger:                    zap.NewNop(),
	}
}

func (c *Config) withDefaults() {
	if c.MemtableMaxBytes <= 0 {
		c.MemtableMaxBytes = 64 << 20
	}
	if c.BloomFalsePositiveRate <= 0 {
		c.BloomFalsePositiveRate = 0.01
	}
	if c.SSTableMaxBytes == 0 {
		c.SSTableMaxBytes = 64 << 20
	}
	if c.TombstoneRetentionSeconds == 0 {
		c.TombstoneRetentionSeconds = 86400
	}
	if c.MaxLevels <= 0 {
		c.MaxLevels = 6
	}
	if c.CompactionTriggerCount <= 0 {
		c.CompactionTriggerCount = 4
	}
	if c.IndexInterval <= 0 {
		c.IndexInterval = 100
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
