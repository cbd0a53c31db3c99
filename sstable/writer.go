package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"

	"github.com/kodelabs-dev/lsmgo/bloom"
	"github.com/kodelabs-dev/lsmgo/memtable"
)

// Writer builds one SSTable. Add must be called with strictly ascending
// keys; Finalize closes the data file, builds the Bloom filter, and writes
// the sidecar .meta file.
type Writer struct {
	dataPath, metaPath string
	f                  *os.File
	bw                 *bufio.Writer

	indexInterval int
	fpr           float64

	offset    uint64
	count     uint64
	index     []IndexEntry
	bloomKeys [][]byte

	haveKey          bool
	lastKey          []byte
	minKey, maxKey   []byte
	minTs, maxTs     uint64

	done bool
}

// NewWriter creates the .data file at dataPath. metaPath is recorded for
// use at Finalize time. indexInterval <= 0 uses DefaultIndexInterval.
func NewWriter(dataPath, metaPath string, indexInterval int, fpr float64) (*Writer, error) {
	if indexInterval <= 0 {
		indexInterval = DefaultIndexInterval
	}
	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{
		dataPath:      dataPath,
		metaPath:      metaPath,
		f:             f,
		bw:            bufio.NewWriterSize(f, 64*1024),
		indexInterval: indexInterval,
		fpr:           fpr,
	}, nil
}

// Add appends one record. Keys must be strictly ascending across calls.
func (w *Writer) Add(key, value []byte, tombstone bool, ts uint64) error {
	if w.done {
		return ErrWriterClosed
	}
	if w.haveKey && bytes.Compare(key, w.lastKey) <= 0 {
		return ErrOutOfOrder
	}

	if uint64(w.count)%uint64(w.indexInterval) == 0 {
		w.index = append(w.index, IndexEntry{Key: cloneBytes(key), Offset: w.offset})
	}
	w.bloomKeys = append(w.bloomKeys, cloneBytes(key))

	if !w.haveKey {
		w.minKey = cloneBytes(key)
		w.minTs = ts
		w.maxTs = ts
	}
	w.maxKey = cloneBytes(key)
	if ts < w.minTs {
		w.minTs = ts
	}
	if ts > w.maxTs {
		w.maxTs = ts
	}

	n, err := writeRecord(w.bw, memtable.Record{Key: key, Value: value, Tombstone: tombstone, Ts: ts})
	if err != nil {
		return err
	}
	w.offset += uint64(n)
	w.count++
	w.haveKey = true
	w.lastKey = cloneBytes(key)
	return nil
}

// Finalize closes the data file, builds the Bloom filter, and writes the
// .meta sidecar. The writer is dead afterward.
func (w *Writer) Finalize() (Descriptor, error) {
	if w.done {
		return Descriptor{}, ErrWriterClosed
	}
	w.done = true

	if err := w.bw.Flush(); err != nil {
		_ = w.f.Close()
		return Descriptor{}, err
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return Descriptor{}, err
	}
	if err := w.f.Close(); err != nil {
		return Descriptor{}, err
	}

	bf := bloom.New(len(w.bloomKeys), w.fpr)
	for _, k := range w.bloomKeys {
		bf.Add(k)
	}

	desc := Descriptor{
		DataPath: w.dataPath,
		MetaPath: w.metaPath,
		MinKey:   w.minKey,
		MaxKey:   w.maxKey,
		MinTs:    w.minTs,
		MaxTs:    w.maxTs,
		Count:    w.count,
		DataSize: w.offset,
		Index:    w.index,
	}

	jsonBytes, err := json.Marshal(desc)
	if err != nil {
		return Descriptor{}, err
	}
	bloomBytes := bf.Serialize()

	mf, err := os.OpenFile(w.metaPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Descriptor{}, err
	}
	defer func() { _ = mf.Close() }()

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(jsonBytes)))
	if _, err := mf.Write(lenBuf[:]); err != nil {
		return Descriptor{}, err
	}
	if _, err := mf.Write(jsonBytes); err != nil {
		return Descriptor{}, err
	}
	if _, err := mf.Write(bloomBytes); err != nil {
		return Descriptor{}, err
	}
	if err := mf.Sync(); err != nil {
		return Descriptor{}, err
	}

	return desc, nil
}

// Abort discards a writer that will never be finalized, removing its
// partial data file. Used by the compactor to clean up on failure.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.f.Close()
	_ = os.Remove(w.dataPath)
}

// Size reports bytes written to the data file so far, for the compactor's
// output-sharding decision.
func (w *Writer) Size() uint64 { return w.offset }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
