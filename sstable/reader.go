package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"iter"
	"os"
	"sort"

	"github.com/kodelabs-dev/lsmgo/bloom"
	"github.com/kodelabs-dev/lsmgo/memtable"
)

// Reader is a handle to one SSTable's metadata and Bloom filter. It does
// not keep the .data file open between calls: Get and IterRange each open
// their own *os.File for the duration of the read, the way the rest of
// this engine treats SSTables as read-only files shared across many
// concurrent readers.
type Reader struct {
	desc  Descriptor
	bloom *bloom.Filter
}

// Open loads a table's Bloom filter from its .meta file. desc is normally
// the value the catalog already holds for this table.
func Open(desc Descriptor) (*Reader, error) {
	b, err := os.ReadFile(desc.MetaPath)
	if err != nil {
		return nil, err
	}
	if len(b) < 4 {
		return nil, ErrCorrupt
	}
	jsonLen := binary.LittleEndian.Uint32(b[:4])
	rest := b[4:]
	if uint64(len(rest)) < uint64(jsonLen) {
		return nil, ErrCorrupt
	}
	bloomBytes := rest[jsonLen:]

	bf, err := bloom.Deserialize(bloomBytes)
	if err != nil {
		return nil, err
	}

	return &Reader{desc: desc, bloom: bf}, nil
}

// Descriptor returns the table's metadata.
func (r *Reader) Descriptor() Descriptor { return r.desc }

// MayContain reports whether key might be present. A false return is a
// reliable proof of absence; a true return only means "maybe".
func (r *Reader) MayContain(key []byte) bool {
	if bytes.Compare(key, r.desc.MinKey) < 0 || bytes.Compare(key, r.desc.MaxKey) > 0 {
		return false
	}
	if r.bloom == nil {
		return true
	}
	return r.bloom.Contains(key)
}

// Close releases any resources held by the reader. It is a no-op today
// because Reader never keeps the .data file open between calls, but it
// keeps the type usable as an io.Closer for callers that defer it.
func (r *Reader) Close() error { return nil }

// floorOffset returns the largest index offset at or before key, or 0 if
// key precedes every sample (the scan must then start at the file head).
func (r *Reader) floorOffset(key []byte) uint64 {
	idx := r.desc.Index
	i := sort.Search(len(idx), func(i int) bool {
		return bytes.Compare(idx[i].Key, key) > 0
	})
	if i == 0 {
		return 0
	}
	return idx[i-1].Offset
}

// Get looks up key, returning ok=false if this table holds no record for
// it. A key deleted in this table is found (ok=true); callers distinguish
// the tombstone via Record.Tombstone.
func (r *Reader) Get(key []byte) (memtable.Record, bool, error) {
	if !r.MayContain(key) {
		return memtable.Record{}, false, nil
	}
	if bytes.Compare(key, r.desc.MinKey) < 0 || bytes.Compare(key, r.desc.MaxKey) > 0 {
		return memtable.Record{}, false, nil
	}

	f, err := os.Open(r.desc.DataPath)
	if err != nil {
		return memtable.Record{}, false, err
	}
	defer func() { _ = f.Close() }()

	off := r.floorOffset(key)
	if off > 0 {
		if _, err := f.Seek(int64(off), io.SeekStart); err != nil {
			return memtable.Record{}, false, err
		}
	}

	br := bufio.NewReaderSize(f, 64*1024)
	for {
		rec, ok, err := readRecord(br)
		if err != nil {
			return memtable.Record{}, false, err
		}
		if !ok {
			return memtable.Record{}, false, nil
		}
		cmp := bytes.Compare(rec.Key, key)
		if cmp == 0 {
			return rec, true, nil
		}
		if cmp > 0 {
			return memtable.Record{}, false, nil
		}
	}
}

// IterRange yields every record with key in [start, end) in ascending
// order. A nil start scans from the beginning; a nil end scans to the
// end of the table.
func (r *Reader) IterRange(start, end []byte) iter.Seq[memtable.Record] {
	return func(yield func(memtable.Record) bool) {
		if end != nil && bytes.Compare(r.desc.MinKey, end) >= 0 {
			return
		}
		if start != nil && bytes.Compare(start, r.desc.MaxKey) > 0 {
			return
		}

		f, err := os.Open(r.desc.DataPath)
		if err != nil {
			return
		}
		defer func() { _ = f.Close() }()

		var off uint64
		if start != nil {
			off = r.floorOffset(start)
		}
		if off > 0 {
			if _, err := f.Seek(int64(off), io.SeekStart); err != nil {
				return
			}
		}

		br := bufio.NewReaderSize(f, 64*1024)
		for {
			rec, ok, err := readRecord(br)
			if err != nil || !ok {
				return
			}
			if start != nil && bytes.Compare(rec.Key, start) < 0 {
				continue
			}
			if end != nil && bytes.Compare(rec.Key, end) >= 0 {
				return
			}
			if !yield(rec) {
				return
			}
		}
	}
}
