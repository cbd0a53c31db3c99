package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kodelabs-dev/lsmgo/sstable"
)

func desc(path string) sstable.Descriptor {
	return sstable.Descriptor{DataPath: path, MetaPath: path + ".meta"}
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := c.ListLevel(0); len(got) != 0 {
		t.Fatalf("expected empty level 0, got %v", got)
	}
}

func TestOpenMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestAddSSTablePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")

	c, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d1 := desc(filepath.Join(dir, "000001.data"))
	if err := c.AddSSTable(0, d1); err != nil {
		t.Fatalf("add: %v", err)
	}

	c2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := c2.ListLevel(0)
	if len(got) != 1 || got[0].DataPath != d1.DataPath {
		t.Fatalf("unexpected level 0 after reopen: %v", got)
	}
}

func TestListLevelReturnsClone(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "catalog.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.AddSSTable(0, desc("a.data")); err != nil {
		t.Fatalf("add: %v", err)
	}
	got := c.ListLevel(0)
	got[0].DataPath = "mutated"
	again := c.ListLevel(0)
	if again[0].DataPath == "mutated" {
		t.Fatalf("ListLevel must return an independent clone")
	}
}

func TestRemoveSSTablesMatchesAnyLevel(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "catalog.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a := desc(filepath.Join(dir, "a.data"))
	b := desc(filepath.Join(dir, "b.data"))
	if err := c.AddSSTable(0, a); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := c.AddSSTable(1, b); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := c.RemoveSSTables([]sstable.Descriptor{a}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := c.ListLevel(0); len(got) != 0 {
		t.Fatalf("expected level 0 empty after removal, got %v", got)
	}
	if got := c.ListLevel(1); len(got) != 1 {
		t.Fatalf("expected level 1 untouched, got %v", got)
	}
}

func TestSwapInstallsAndRemovesAtomically(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "catalog.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	in1 := desc(filepath.Join(dir, "in1.data"))
	in2 := desc(filepath.Join(dir, "in2.data"))
	if err := c.AddSSTable(0, in1); err != nil {
		t.Fatalf("add in1: %v", err)
	}
	if err := c.AddSSTable(0, in2); err != nil {
		t.Fatalf("add in2: %v", err)
	}

	out := desc(filepath.Join(dir, "out1.data"))
	if err := c.Swap(1, []sstable.Descriptor{out}, []sstable.Descriptor{in1, in2}); err != nil {
		t.Fatalf("swap: %v", err)
	}

	if got := c.ListLevel(0); len(got) != 0 {
		t.Fatalf("expected level 0 empty after swap, got %v", got)
	}
	got1 := c.ListLevel(1)
	if len(got1) != 1 || got1[0].DataPath != out.DataPath {
		t.Fatalf("expected level 1 to hold the swap output, got %v", got1)
	}
}
