// Command lsmgo is a small CLI wrapper around the store package, useful
// for exercising the engine by hand and for scripting integration tests.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kodelabs-dev/lsmgo/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet("lsmgo", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	dir := fs.String("dir", "data", "data directory (wal/, sst/, meta/ live here)")
	memMax := fs.Int("mem-max-bytes", 64<<20, "memtable flush threshold in bytes")
	sstMax := fs.Int("sst-max-bytes", 64<<20, "compaction output file size cap in bytes")
	retention := fs.Int64("tombstone-retention-seconds", 86400, "minimum tombstone age before GC")
	sync := fs.Bool("sync", true, "fsync the WAL after each write")
	verbose := fs.Bool("verbose", false, "enable info-level structured logging")

	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}
	args := fs.Args()

	cfg := store.DefaultConfig(*dir)
	cfg.MemtableMaxBytes = *memMax
	cfg.SSTableMaxBytes = uint64(*sstMax)
	cfg.TombstoneRetentionSeconds = *retention
	cfg.WALFlushEveryWrite = *sync
	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fatal(err)
		}
		cfg.Logger = logger
	}

	s, err := store.Open(cfg)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = s.Close() }()

	switch cmd {
	case "put":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if err := s.Put([]byte(args[0]), []byte(args[1])); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
	case "get":
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		v, ok, err := s.Get([]byte(args[0]))
		if err != nil {
			fatal(err)
		}
		if !ok {
			fmt.Println("(not found)")
			os.Exit(1)
		}
		fmt.Println(string(v))
	case "del":
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		if err := s.Delete([]byte(args[0])); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
	case "range":
		var start, end []byte
		if len(args) > 0 && args[0] != "" {
			start = []byte(args[0])
		}
		if len(args) > 1 && args[1] != "" {
			end = []byte(args[1])
		}
		seq, err := s.Range(start, end)
		if err != nil {
			fatal(err)
		}
		for k, v := range seq {
			fmt.Printf("%s=%s\n", k, v)
		}
	case "flush":
		if err := s.FlushMemtable(); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
	case "compact":
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		var level int
		if _, err := fmt.Sscanf(args[0], "%d", &level); err != nil {
			usage()
			os.Exit(2)
		}
		if err := s.CompactLevel(level); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
	case "stat":
		for level, count := range s.LevelCounts() {
			fmt.Printf("level %d: %d sstables\n", level, count)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  lsmgo [flags] put <key> <value>")
	fmt.Fprintln(os.Stderr, "  lsmgo [flags] get <key>")
	fmt.Fprintln(os.Stderr, "  lsmgo [flags] del <key>")
	fmt.Fprintln(os.Stderr, "  lsmgo [flags] range [start] [end]")
	fmt.Fprintln(os.Stderr, "  lsmgo [flags] flush")
	fmt.Fprintln(os.Stderr, "  lsmgo [flags] compact <level>")
	fmt.Fprintln(os.Stderr, "  lsmgo [flags] stat")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	fs := flag.NewFlagSet("lsmgo", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.String("dir", "data", "data directory (wal/, sst/, meta/ live here)")
	fs.Int("mem-max-bytes", 64<<20, "memtable flush threshold in bytes")
	fs.Int("sst-max-bytes", 64<<20, "compaction output file size cap in bytes")
	fs.Int64("tombstone-retention-seconds", 86400, "minimum tombstone age before GC")
	fs.Bool("sync", true, "fsync the WAL after each write")
	fs.Bool("verbose", false, "enable info-level structured logging")
	fs.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
