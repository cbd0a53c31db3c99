package store

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Put, Delete, Get, GetWithMeta, Range,
// FlushMemtable, and CompactLevel once Close has been called.
var ErrClosed = errors.New("store: closed")

// ErrEmptyKey is returned by Put, Delete, and Get for a zero-length key.
var ErrEmptyKey = errors.New("store: empty key")

// CorruptionError wraps a WAL or SSTable framing failure: a bad magic,
// CRC mismatch, or unknown Bloom filter version. It is fatal during
// recovery and surfaced as a read failure otherwise; it is never
// silently swallowed.
type CorruptionError struct{ Err error }

func (e *CorruptionError) Error() string { return fmt.Sprintf("store: corruption: %v", e.Err) }
func (e *CorruptionError) Unwrap() error { return e.Err }

// SSTableError wraps a programmer error surfaced from the sstable
// package: an out-of-order Add, or use of a writer after Finalize.
type SSTableError struct{ Err error }

func (e *SSTableError) Error() string { return fmt.Sprintf("store: sstable: %v", e.Err) }
func (e *SSTableError) Unwrap() error { return e.Err }

// RecoveryError wraps any failure encountered while replaying the WAL or
// loading the catalog during Open. It is always fatal to Open.
type RecoveryError struct{ Err error }

func (e *RecoveryError) Error() string { return fmt.Sprintf("store: recovery: %v", e.Err) }
func (e *RecoveryError) Unwrap() error { return e.Err }

// CompactionError wraps a merge-phase failure. The job's catalog entries
// and input files are left untouched; any temporary output is unlinked
// before this error is returned.
type CompactionError struct{ Err error }

func (e *CompactionError) Error() string { return fmt.Sprintf("store: compaction: %v", e.Err) }
func (e *CompactionError) Unwrap() error { return e.Err }
