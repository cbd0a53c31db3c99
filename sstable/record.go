package sstable

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/kodelabs-dev/lsmgo/memtable"
)

// writeRecord emits one data-file record:
// [key_len u64][key][tombstone u8][value_len u64][value][ts u64].
//
// The tombstone byte is this implementation's one addition to the wire
// layout described for .data files: without it, an empty value and a
// deleted key would both serialize as value_len=0 and become
// indistinguishable after a flush, which would violate the
// empty-value-is-not-a-tombstone invariant. See DESIGN.md.
func writeRecord(w io.Writer, r memtable.Record) (int, error) {
	n := 0
	var u64Buf [8]byte

	binary.LittleEndian.PutUint64(u64Buf[:], uint64(len(r.Key)))
	nw, err := w.Write(u64Buf[:])
	n += nw
	if err != nil {
		return n, err
	}
	nw, err = w.Write(r.Key)
	n += nw
	if err != nil {
		return n, err
	}

	tomb := byte(0)
	if r.Tombstone {
		tomb = 1
	}
	nw, err = w.Write([]byte{tomb})
	n += nw
	if err != nil {
		return n, err
	}

	valLen := 0
	if !r.Tombstone {
		valLen = len(r.Value)
	}
	binary.LittleEndian.PutUint64(u64Buf[:], uint64(valLen))
	nw, err = w.Write(u64Buf[:])
	n += nw
	if err != nil {
		return n, err
	}
	if valLen > 0 {
		nw, err = w.Write(r.Value)
		n += nw
		if err != nil {
			return n, err
		}
	}

	binary.LittleEndian.PutUint64(u64Buf[:], r.Ts)
	nw, err = w.Write(u64Buf[:])
	n += nw
	if err != nil {
		return n, err
	}

	return n, nil
}

// readRecord reads one data-file record from r. It returns ok=false and a
// nil error on a clean EOF at the start of a record; any other short read
// or framing problem is ErrCorrupt.
func readRecord(r *bufio.Reader) (memtable.Record, bool, error) {
	var u64Buf [8]byte

	if _, err := io.ReadFull(r, u64Buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return memtable.Record{}, false, nil
		}
		return memtable.Record{}, false, ErrCorrupt
	}
	keyLen := binary.LittleEndian.Uint64(u64Buf[:])
	key := make([]byte, keyLen)
	if keyLen > 0 {
		if _, err := io.ReadFull(r, key); err != nil {
			return memtable.Record{}, false, ErrCorrupt
		}
	}

	tombBuf, err := r.ReadByte()
	if err != nil {
		return memtable.Record{}, false, ErrCorrupt
	}

	if _, err := io.ReadFull(r, u64Buf[:]); err != nil {
		return memtable.Record{}, false, ErrCorrupt
	}
	valLen := binary.LittleEndian.Uint64(u64Buf[:])
	var value []byte
	if valLen > 0 {
		value = make([]byte, valLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return memtable.Record{}, false, ErrCorrupt
		}
	}

	if _, err := io.ReadFull(r, u64Buf[:]); err != nil {
		return memtable.Record{}, false, ErrCorrupt
	}
	ts := binary.LittleEndian.Uint64(u64Buf[:])

	return memtable.Record{
		Key:       key,
		Value:     value,
		Tombstone: tombBuf == 1,
		Ts:        ts,
	}, true, nil
}
