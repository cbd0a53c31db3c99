package store

import (
	"fmt"
	"testing"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.MemtableMaxBytes = 0 // falls back to the 64 MiB default, which no test here reaches
	return cfg
}

func TestBasicOverwrite(t *testing.T) {
	s, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Put([]byte("k"), []byte("a")); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := s.Put([]byte("k"), []byte("b")); err != nil {
		t.Fatalf("put b: %v", err)
	}
	v, ok, err := s.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(v) != "b" {
		t.Fatalf("expected b, got %q", v)
	}
}

func TestDeleteMasksValue(t *testing.T) {
	s, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Put([]byte("k"), []byte("a")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.FlushMemtable(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := s.Get([]byte("k")); err != nil || ok {
		t.Fatalf("expected absence after delete: ok=%v err=%v", ok, err)
	}

	if err := s.CompactLevel(0); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if _, ok, err := s.Get([]byte("k")); err != nil || ok {
		t.Fatalf("expected absence after compaction within retention: ok=%v err=%v", ok, err)
	}
}

func TestRecoveryAfterReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemtableMaxBytes = 0

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("put k1: %v", err)
	}
	if err := s.Put([]byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("put k2: %v", err)
	}
	if err := s.Delete([]byte("k3")); err != nil {
		t.Fatalf("delete k3: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()

	if v, ok, err := s2.Get([]byte("k1")); err != nil || !ok || string(v) != "v1" {
		t.Fatalf("k1: v=%q ok=%v err=%v", v, ok, err)
	}
	if v, ok, err := s2.Get([]byte("k2")); err != nil || !ok || string(v) != "v2" {
		t.Fatalf("k2: v=%q ok=%v err=%v", v, ok, err)
	}
	if _, ok, err := s2.Get([]byte("k3")); err != nil || ok {
		t.Fatalf("k3: expected absent, ok=%v err=%v", ok, err)
	}
}

func TestRangeOrder(t *testing.T) {
	s, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Put([]byte("c"), []byte("3")); err != nil {
		t.Fatalf("put c: %v", err)
	}
	if err := s.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := s.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("put b: %v", err)
	}

	seq, err := s.Range(nil, nil)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	var keys, values []string
	for k, v := range seq {
		keys = append(keys, string(k))
		values = append(values, string(v))
	}
	wantKeys := []string{"a", "b", "c"}
	wantValues := []string{"1", "2", "3"}
	for i := range wantKeys {
		if i >= len(keys) || keys[i] != wantKeys[i] || values[i] != wantValues[i] {
			t.Fatalf("expected %v/%v, got %v/%v", wantKeys, wantValues, keys, values)
		}
	}
}

func TestEmptyValueIsNotTombstone(t *testing.T) {
	s, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Put([]byte("k"), []byte{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := s.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("expected present: ok=%v err=%v", ok, err)
	}
	if len(v) != 0 {
		t.Fatalf("expected empty value, got %q", v)
	}

	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := s.Get([]byte("k")); err != nil || ok {
		t.Fatalf("expected absent after delete: ok=%v err=%v", ok, err)
	}
}

func TestCompactionDedup(t *testing.T) {
	s, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	for i := 0; i < 50; i++ {
		if err := s.Put([]byte("k"), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
		if err := s.FlushMemtable(); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
	}

	if err := s.CompactLevel(0); err != nil {
		t.Fatalf("compact: %v", err)
	}

	v, ok, err := s.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("get after compaction: ok=%v err=%v", ok, err)
	}
	if string(v) != "v49" {
		t.Fatalf("expected v49, got %q", v)
	}
	if got := s.cat.ListLevel(0); len(got) != 0 {
		t.Fatalf("expected L0 empty after compaction, got %d tables", len(got))
	}
}

func TestFlushEmptyMemtableIsNoop(t *testing.T) {
	s, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.FlushMemtable(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := s.cat.ListLevel(0); len(got) != 0 {
		t.Fatalf("expected no SSTable from flushing an empty memtable, got %d", len(got))
	}
}

func TestPutRejectsEmptyKey(t *testing.T) {
	s, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Put(nil, []byte("v")); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	s, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Put([]byte("k"), []byte("v")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
