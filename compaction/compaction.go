// Package compaction merges the SSTables at one level into the next,
// discarding records shadowed by a newer write and tombstones old enough
// to be safely forgotten.
package compaction

import (
	"container/heap"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/kodelabs-dev/lsmgo/memtable"
	"github.com/kodelabs-dev/lsmgo/sstable"
)

// Job describes one compaction run: merge Inputs (all understood to
// belong to SourceLevel) into zero or more new SSTables at TargetLevel.
type Job struct {
	SourceLevel int
	TargetLevel int
	Inputs      []sstable.Descriptor

	OutputDir string
	NextID    func() uint64

	MaxOutputBytes            uint64
	TombstoneRetentionSeconds int64
	IndexInterval             int
	BloomFPR                  float64

	// NowMillis is the wall-clock time, in the same millisecond
	// resolution as record timestamps, that a tombstone's age is
	// measured against. Callers pass time.Now().UnixMilli(); tests pin
	// it to exercise retention boundaries deterministically.
	NowMillis int64
}

// Run performs the merge described by job and returns the resulting
// output descriptors. It never touches the catalog: installing the
// result (and removing job.Inputs) is the caller's responsibility, via a
// single atomic catalog.Swap, so a crash mid-compaction never leaves the
// catalog referencing a file compaction has already superseded.
//
// On any error, any output files started but not finalized are removed
// and the error is wrapped as *Error.
func Run(job Job) (outputs []sstable.Descriptor, err error) {
	if len(job.Inputs) == 0 {
		return nil, nil
	}

	readers := make([]*sstable.Reader, 0, len(job.Inputs))
	defer func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}()
	for _, d := range job.Inputs {
		r, oerr := sstable.Open(d)
		if oerr != nil {
			return nil, &Error{Op: "open input", Err: oerr}
		}
		readers = append(readers, r)
	}

	iters := make([]*mergeIter, 0, len(readers))
	defer func() {
		for _, it := range iters {
			it.stop()
		}
	}()
	for i, r := range readers {
		it := newMergeIter(r, i)
		if it.advance() {
			iters = append(iters, it)
		}
	}

	h := make(iterHeap, 0, len(iters))
	for _, it := range iters {
		h = append(h, it)
	}
	heap.Init(&h)

	var w *sstable.Writer
	defer func() {
		if err != nil && w != nil {
			w.Abort()
		}
	}()

	newWriter := func() error {
		id := job.NextID()
		dataPath := filepath.Join(job.OutputDir, fmt.Sprintf("sst-%d-%d.data", job.TargetLevel, id))
		metaPath := filepath.Join(job.OutputDir, fmt.Sprintf("sst-%d-%d.meta", job.TargetLevel, id))
		nw, werr := sstable.NewWriter(dataPath, metaPath, job.IndexInterval, job.BloomFPR)
		if werr != nil {
			return werr
		}
		w = nw
		return nil
	}
	finalizeCurrent := func() error {
		if w == nil {
			return nil
		}
		desc, ferr := w.Finalize()
		w = nil
		if ferr != nil {
			return ferr
		}
		outputs = append(outputs, desc)
		return nil
	}

	var curKey []byte
	var best memtable.Record
	haveBest := false

	retentionMillis := job.TombstoneRetentionSeconds * 1000
	emit := func(r memtable.Record) error {
		if r.Tombstone && job.NowMillis-int64(r.Ts) >= retentionMillis {
			return nil
		}
		if w == nil {
			if werr := newWriter(); werr != nil {
				return werr
			}
		}
		if werr := w.Add(r.Key, r.Value, r.Tombstone, r.Ts); werr != nil {
			return werr
		}
		if job.MaxOutputBytes > 0 && w.Size() >= job.MaxOutputBytes {
			return finalizeCurrent()
		}
		return nil
	}

	for h.Len() > 0 {
		it := heap.Pop(&h).(*mergeIter)
		rec := it.cur

		switch {
		case !haveBest:
			curKey, best, haveBest = rec.Key, rec, true
		case bytesEqual(rec.Key, curKey):
			if rec.Ts > best.Ts {
				best = rec
			}
		default:
			if err := emit(best); err != nil {
				return nil, &Error{Op: "merge", Err: err}
			}
			curKey, best = rec.Key, rec
		}

		if it.advance() {
			heap.Push(&h, it)
		}
	}
	if haveBest {
		if err := emit(best); err != nil {
			return nil, &Error{Op: "merge", Err: err}
		}
	}
	if err := finalizeCurrent(); err != nil {
		return nil, &Error{Op: "finalize", Err: err}
	}

	return outputs, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Error wraps a compaction failure. The caller treats its presence as a
// signal that no catalog mutation has happened and any partial output is
// already cleaned up.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("compaction: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// mergeIter pulls records out of one input table's full-range scan in
// ascending key order, and remembers which input it came from so the
// heap comparator can use input order as a tiebreak (unused today since
// timestamps are unique, but keeps the ordering well-defined).
type mergeIter struct {
	next  func() (memtable.Record, bool)
	stop  func()
	cur   memtable.Record
	input int
}

func newMergeIter(r *sstable.Reader, input int) *mergeIter {
	next, stop := iter.Pull(r.IterRange(nil, nil))
	return &mergeIter{next: next, stop: stop, input: input}
}

func (it *mergeIter) advance() bool {
	rec, ok := it.next()
	if !ok {
		return false
	}
	it.cur = rec
	return true
}

type iterHeap []*mergeIter

func (h iterHeap) Len() int { return len(h) }
func (h iterHeap) Less(i, j int) bool {
	c := compareBytes(h[i].cur.Key, h[j].cur.Key)
	if c != 0 {
		return c < 0
	}
	if h[i].cur.Ts != h[j].cur.Ts {
		return h[i].cur.Ts > h[j].cur.Ts
	}
	return h[i].input < h[j].input
}
func (h iterHeap) Swap(i, j int)   { h[i], h[j] = h[j], h[i] }
func (h *iterHeap) Push(x any)     { *h = append(*h, x.(*mergeIter)) }
func (h *iterHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// CleanupTemp removes .data files left behind by a compaction or flush
// that was interrupted before Finalize wrote the matching .meta sidecar.
// A Writer is only ever registered with the catalog after Finalize
// succeeds, so any .data file without a sibling .meta is guaranteed to
// be orphaned, never referenced, and safe to delete on startup.
func CleanupTemp(dir string) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range ents {
		if e.IsDir() || filepath.Ext(e.Name()) != ".data" {
			continue
		}
		metaPath := filepath.Join(dir, e.Name()[:len(e.Name())-len(".data")]+".meta")
		if _, err := os.Stat(metaPath); os.IsNotExist(err) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}
