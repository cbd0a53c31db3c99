// Package sstable implements the immutable, sorted on-disk tables that
// memtable flushes and compactions produce: a .data file of framed records
// plus a sidecar .meta file carrying a JSON descriptor and a Bloom filter.
package sstable

import "errors"

// ErrCorrupt is returned when a .data record is cut short or a .meta file
// is too short for its length-prefixed descriptor. Bloom filter decoding
// failures are returned as the bloom package's own errors.
var ErrCorrupt = errors.New("sstable: corrupt")

// ErrOutOfOrder is returned by Writer.Add when a key is not strictly
// greater than the previously added key.
var ErrOutOfOrder = errors.New("sstable: keys must be added in strictly ascending order")

// ErrWriterClosed is returned by Add or Finalize once the writer has
// already been finalized.
var ErrWriterClosed = errors.New("sstable: writer already finalized")

// DefaultIndexInterval is how often (in records) a sparse index sample is
// taken: every Nth record, starting with the first.
const DefaultIndexInterval = 100

// IndexEntry is one sparse-index sample: a key and the byte offset in the
// .data file where its record begins.
type IndexEntry struct {
	Key    []byte `json:"sample_key"`
	Offset uint64 `json:"file_offset"`
}

// Descriptor is the JSON-serialized metadata describing one SSTable. It is
// the unit the catalog persists and compares.
type Descriptor struct {
	DataPath string       `json:"data_path"`
	MetaPath string       `json:"meta_path"`
	MinKey   []byte       `json:"min_key"`
	MaxKey   []byte       `json:"max_key"`
	MinTs    uint64       `json:"min_ts"`
	MaxTs    uint64       `json:"max_ts"`
	Count    uint64       `json:"count"`
	DataSize uint64       `json:"data_size"`
	Index    []IndexEntry `json:"index"`
}
