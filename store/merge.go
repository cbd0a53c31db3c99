package store

import (
	"bytes"
	"container/heap"
	"iter"

	"github.com/kodelabs-dev/lsmgo/memtable"
	"github.com/kodelabs-dev/lsmgo/sstable"
)

// recordSource is one ascending-ordered input to a range merge: the
// memtable or one SSTable reader, already bounded to the requested key
// range. prio breaks ties between equal keys at equal timestamps; it is
// otherwise unused since timestamps are unique per write.
type recordSource struct {
	next  func() (memtable.Record, bool)
	prio  int
	close func()
}

// memtableSource snapshots the matching records into a slice while the
// caller still holds the store lock, rather than iterating the live
// skiplist after the lock is released: Range() hands its result back to
// the caller before the memtable can be guaranteed not to mutate
// underneath it.
func memtableSource(m *memtable.Memtable, start, end []byte) recordSource {
	var snapshot []memtable.Record
	for rec := range m.IterRange(start, end) {
		snapshot = append(snapshot, rec)
	}
	i := 0
	next := func() (memtable.Record, bool) {
		if i >= len(snapshot) {
			return memtable.Record{}, false
		}
		rec := snapshot[i]
		i++
		return rec, true
	}
	return recordSource{next: next, prio: 1 << 30, close: func() {}}
}

func sstableSource(r *sstable.Reader, start, end []byte) recordSource {
	next, stop := iter.Pull(r.IterRange(start, end))
	return recordSource{next: next, close: func() { stop(); _ = r.Close() }}
}

type mergeItem struct {
	rec  memtable.Record
	src  *recordSource
	prio int
}

type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	return bytes.Compare(h[i].rec.Key, h[j].rec.Key) < 0
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// mergeRecords performs a k-way merge across sources in ascending key
// order, keeping only the highest-timestamp record for each key. Callers
// filter out tombstones from the result themselves; mergeRecords
// preserves them so the merge can tell a live write from a shadowed one.
func mergeRecords(sources []recordSource) iter.Seq[memtable.Record] {
	return func(yield func(memtable.Record) bool) {
		h := &mergeHeap{}
		for i := range sources {
			s := &sources[i]
			if rec, ok := s.next(); ok {
				heap.Push(h, &mergeItem{rec: rec, src: s, prio: s.prio})
			}
		}

		var curKey []byte
		var best memtable.Record
		var bestPrio int
		haveBest := false

		for h.Len() > 0 {
			it := heap.Pop(h).(*mergeItem)
			switch {
			case !haveBest:
				curKey, best, bestPrio, haveBest = it.rec.Key, it.rec, it.prio, true
			case bytes.Equal(it.rec.Key, curKey):
				if betterCandidate(it.rec, it.prio, best, bestPrio) {
					best, bestPrio = it.rec, it.prio
				}
			default:
				if !yield(best) {
					return
				}
				curKey, best, bestPrio = it.rec.Key, it.rec, it.prio
			}
			if rec, ok := it.src.next(); ok {
				heap.Push(h, &mergeItem{rec: rec, src: it.src, prio: it.src.prio})
			}
		}
		if haveBest {
			yield(best)
		}
	}
}

func betterCandidate(rec memtable.Record, prio int, best memtable.Record, bestPrio int) bool {
	if rec.Ts != best.Ts {
		return rec.Ts > best.Ts
	}
	return prio > bestPrio
}
