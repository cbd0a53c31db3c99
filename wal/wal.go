// Package wal implements the durable, append-only write-ahead log that
// every store mutation passes through before it touches the memtable.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
)

// Op identifies the kind of mutation a WAL record represents.
type Op uint8

const (
	OpPut    Op = 0
	OpDelete Op = 1
)

const magic uint32 = 0x4C534D01

// ErrCorrupt is returned by Replay when a record's magic or CRC does not
// match. It is never returned for a short read at EOF, which is the
// expected shape of a torn tail after a crash.
var ErrCorrupt = errors.New("wal: corrupt record")

// ErrClosed is returned by Append once the WAL has been closed.
var ErrClosed = errors.New("wal: closed")

// Record is a single WAL entry recovered by Replay.
type Record struct {
	Op    Op
	Key   []byte
	Value []byte
	Ts    uint64
}

// WAL is the durable append-only log backing a single store's current
// writer path. It owns its file handle exclusively while open.
type WAL struct {
	f               *os.File
	w               *bufio.Writer
	flushEveryWrite bool
	seq             uint64
	closed          bool
}

// Open creates or reopens the log at path. When flushEveryWrite is true,
// every Append forces the record to stable storage before returning.
func Open(path string, flushEveryWrite bool) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &WAL{
		f:               f,
		w:               bufio.NewWriter(f),
		flushEveryWrite: flushEveryWrite,
	}, nil
}

// Append encodes and writes one record, returning its per-file sequence
// number. The sequence number is for observability only; it is not
// persisted anywhere.
func (w *WAL) Append(op Op, key, value []byte, ts uint64) (uint64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if op == OpDelete {
		value = nil
	}

	keyLen := uint64(len(key))
	valLen := uint64(len(value))

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w.w, crc)

	var magicBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], magic)
	if _, err := mw.Write(magicBuf[:]); err != nil {
		return 0, err
	}

	var u64Buf [8]byte
	binary.LittleEndian.PutUint64(u64Buf[:], keyLen)
	if _, err := mw.Write(u64Buf[:]); err != nil {
		return 0, err
	}
	if _, err := mw.Write(key); err != nil {
		return 0, err
	}

	binary.LittleEndian.PutUint64(u64Buf[:], valLen)
	if _, err := mw.Write(u64Buf[:]); err != nil {
		return 0, err
	}
	if len(value) > 0 {
		if _, err := mw.Write(value); err != nil {
			return 0, err
		}
	}

	binary.LittleEndian.PutUint64(u64Buf[:], ts)
	if _, err := mw.Write(u64Buf[:]); err != nil {
		return 0, err
	}

	if _, err := mw.Write([]byte{byte(op)}); err != nil {
		return 0, err
	}

	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc.Sum32())
	if _, err := w.w.Write(crcBuf[:]); err != nil {
		return 0, err
	}

	if err := w.w.Flush(); err != nil {
		return 0, err
	}
	if w.flushEveryWrite {
		if err := w.f.Sync(); err != nil {
			return 0, err
		}
	}

	w.seq++
	return w.seq, nil
}

// Sync forces any buffered records to stable storage.
func (w *WAL) Sync() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// readField reads exactly len(buf) bytes, treating any short read
// (including a clean EOF at a field boundary) as the expected torn tail
// rather than an error. It reports ok=false in that case.
func readField(r io.Reader, buf []byte) (ok bool, err error) {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func decodeOne(r *bufio.Reader) (Record, bool, error) {
	crc := crc32.NewIEEE()
	tr := io.TeeReader(r, crc)

	var magicBuf [4]byte
	if ok, err := readField(tr, magicBuf[:]); !ok || err != nil {
		return Record{}, false, err
	}
	if binary.LittleEndian.Uint32(magicBuf[:]) != magic {
		return Record{}, false, ErrCorrupt
	}

	var u64Buf [8]byte
	if ok, err := readField(tr, u64Buf[:]); !ok || err != nil {
		return Record{}, false, err
	}
	keyLen := binary.LittleEndian.Uint64(u64Buf[:])
	key := make([]byte, keyLen)
	if keyLen > 0 {
		if ok, err := readField(tr, key); !ok || err != nil {
			return Record{}, false, err
		}
	}

	if ok, err := readField(tr, u64Buf[:]); !ok || err != nil {
		return Record{}, false, err
	}
	valLen := binary.LittleEndian.Uint64(u64Buf[:])
	var value []byte
	if valLen > 0 {
		value = make([]byte, valLen)
		if ok, err := readField(tr, value); !ok || err != nil {
			return Record{}, false, err
		}
	}

	if ok, err := readField(tr, u64Buf[:]); !ok || err != nil {
		return Record{}, false, err
	}
	ts := binary.LittleEndian.Uint64(u64Buf[:])

	var opBuf [1]byte
	if ok, err := readField(tr, opBuf[:]); !ok || err != nil {
		return Record{}, false, err
	}
	op := Op(opBuf[0])
	if op != OpPut && op != OpDelete {
		return Record{}, false, ErrCorrupt
	}

	wantCRC := crc.Sum32()
	var crcBuf [4]byte
	if ok, err := readField(r, crcBuf[:]); !ok || err != nil {
		return Record{}, false, err
	}
	if binary.LittleEndian.Uint32(crcBuf[:]) != wantCRC {
		return Record{}, false, ErrCorrupt
	}

	return Record{Op: op, Key: key, Value: value, Ts: ts}, true, nil
}

// Replay reads every well-formed record from path in append order, calling
// fn for each. A short read at EOF stops the iteration cleanly; a magic or
// CRC mismatch anywhere else returns ErrCorrupt. A missing file is treated
// as an empty log. It returns the maximum timestamp observed, for the
// store's timestamp-counter recovery.
func Replay(path string, fn func(Record) error) (maxTs uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		rec, ok, err := decodeOne(r)
		if err != nil {
			return maxTs, err
		}
		if !ok {
			return maxTs, nil
		}
		if rec.Ts > maxTs {
			maxTs = rec.Ts
		}
		if err := fn(rec); err != nil {
			return maxTs, err
		}
	}
}
