package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := w.Append(OpPut, []byte("k1"), []byte("v1"), 1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := w.Append(OpPut, []byte("k2"), []byte("v2"), 2); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := w.Append(OpDelete, []byte("k3"), nil, 3); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []Record
	maxTs, err := Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if maxTs != 3 {
		t.Fatalf("expected maxTs 3, got %d", maxTs)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if string(got[0].Key) != "k1" || string(got[0].Value) != "v1" || got[0].Op != OpPut {
		t.Fatalf("unexpected record 0: %+v", got[0])
	}
	if !got[2].Op.isDelete() || string(got[2].Key) != "k3" {
		t.Fatalf("unexpected record 2: %+v", got[2])
	}
}

func (op Op) isDelete() bool { return op == OpDelete }

func TestReplayMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	maxTs, err := Replay(filepath.Join(dir, "missing.wal"), func(Record) error { return nil })
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if maxTs != 0 {
		t.Fatalf("expected maxTs 0, got %d", maxTs)
	}
}

func TestReplayTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := w.Append(OpPut, []byte("a"), []byte("1"), 1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := w.Append(OpPut, []byte("b"), []byte("2"), 2); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-10); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	var got []Record
	_, err = Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("expected clean stop on truncated tail, got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 surviving record, got %d", len(got))
	}
}

func TestReplayCRCCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := w.Append(OpPut, []byte("a"), []byte("1234567890"), 1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Flip a byte inside the value payload, well before the trailing CRC.
	b[25] ^= 0xFF
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err = Replay(path, func(Record) error { return nil })
	if err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")
	w, err := Open(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := w.Append(OpPut, []byte("a"), []byte("b"), 1); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
