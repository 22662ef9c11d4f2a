// levelbench is a CLI and REPL for creating, inspecting, and load-
// testing levelhash tables.
//
// Usage:
//
//	levelbench new [opts] <table-file>    Create a new table
//	levelbench <table-file>               Open an existing table
//
// Options for 'new':
//
//	-k, --key-len       Fixed key width in bytes (required)
//	    --value-len     Fixed value width in bytes (required)
//	-a, --assoc-num     Slots per bucket (default: 4)
//	-l, --level-size    Initial log2(L0 bucket count) (required)
//	    --log-length    Value/insert log ring length (default: 1024)
//	-c, --config        JSONC file with the above fields
//
// REPL commands:
//
//	put <key> <value>       Insert (key, value)
//	upsert <key> <value>    Insert, replacing any existing slot
//	get <key>               Static lookup
//	dget <key>              Dynamic lookup
//	update <key> <value>    Overwrite an existing key's value
//	del <key>               Delete a key
//	stats                   Show table dimensions and load
//	expand                  Double the top level
//	shrink                  Halve the top level
//	bulk <count> [prefix]   Insert count random entries
//	bench <count>           Benchmark insert+query throughput
//	checkpoint <path>       Durably write a JSON stats snapshot
//	help                    Show this help
//	exit / quit / q         Exit
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/efeslab/levelhash/pkg/fs"
	"github.com/efeslab/levelhash/pkg/levelhash"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return errors.New("missing command or table file path")
	}
	if os.Args[1] == "new" {
		return runNew(os.Args[2:])
	}
	return runOpen(os.Args[1:])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  levelbench new [opts] <table-file>    Create a new table")
	fmt.Fprintln(os.Stderr, "  levelbench <table-file>               Open an existing table")
	fmt.Fprintln(os.Stderr, "\nRun 'levelbench new --help' for options.")
}

func runNew(args []string) error {
	fset := flag.NewFlagSet("new", flag.ExitOnError)
	keyLen := fset.Uint32P("key-len", "k", 0, "fixed key width in bytes")
	valueLen := fset.Uint32("value-len", 0, "fixed value width in bytes")
	assocNum := fset.Uint32P("assoc-num", "a", levelhash.DefaultAssocNum, "slots per bucket")
	levelSize := fset.Uint32P("level-size", "l", 0, "initial log2(L0 bucket count)")
	logLength := fset.Uint32("log-length", levelhash.DefaultLogLength, "value/insert log ring length")
	configPath := fset.StringP("config", "c", "", "JSONC file with table dimensions")

	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: levelbench new [options] <table-file>")
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() < 1 {
		fset.Usage()
		return errors.New("missing table file path")
	}
	tablePath := fset.Arg(0)

	opts := levelhash.Options{
		KeyLen: *keyLen, ValueLen: *valueLen, AssocNum: *assocNum,
		LevelSize: *levelSize, LogLength: *logLength,
	}

	if *configPath != "" {
		cfg, err := loadTableConfig(fs.NewReal(), *configPath)
		if err != nil {
			return err
		}
		fileOpts := cfg.toOptions()
		if opts.KeyLen == 0 {
			opts.KeyLen = fileOpts.KeyLen
		}
		if opts.ValueLen == 0 {
			opts.ValueLen = fileOpts.ValueLen
		}
		if opts.LevelSize == 0 {
			opts.LevelSize = fileOpts.LevelSize
		}
		if fileOpts.AssocNum != 0 && !fset.Changed("assoc-num") {
			opts.AssocNum = fileOpts.AssocNum
		}
		if fileOpts.LogLength != 0 && !fset.Changed("log-length") {
			opts.LogLength = fileOpts.LogLength
		}
	}

	if opts.KeyLen == 0 || opts.ValueLen == 0 || opts.LevelSize == 0 {
		fset.Usage()
		return errors.New("key-len, value-len, and level-size are required (via flags or --config)")
	}

	tbl, err := levelhash.Init(tablePath, opts)
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}
	defer tbl.Close()

	fmt.Printf("Created table %s (key_len=%d value_len=%d assoc_num=%d level_size=%d)\n",
		tablePath, opts.KeyLen, opts.ValueLen, opts.AssocNum, opts.LevelSize)

	repl := &REPL{table: tbl}
	return repl.Run()
}

func runOpen(args []string) error {
	fset := flag.NewFlagSet("open", flag.ExitOnError)
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: levelbench <table-file>")
	}
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() < 1 {
		fset.Usage()
		return errors.New("missing table file path")
	}
	tablePath := fset.Arg(0)

	if _, err := os.Stat(tablePath); os.IsNotExist(err) {
		return fmt.Errorf("table file does not exist: %s (use 'levelbench new %s' to create it)", tablePath, tablePath)
	}

	tbl, err := levelhash.Open(tablePath)
	if err != nil {
		return fmt.Errorf("opening table: %w", err)
	}
	defer tbl.Close()

	repl := &REPL{table: tbl}
	return repl.Run()
}

// REPL drives an interactive session against an open table.
type REPL struct {
	table *levelhash.Table
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".levelbench_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()
	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("levelbench - level-hash table CLI")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("levelbench> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil
		case "help", "?":
			r.printHelp()
		case "put":
			r.cmdPut(args)
		case "upsert":
			r.cmdUpsert(args)
		case "get":
			r.cmdGet(args)
		case "dget":
			r.cmdDynamicGet(args)
		case "update":
			r.cmdUpdate(args)
		case "del", "delete":
			r.cmdDelete(args)
		case "stats", "info":
			r.cmdStats()
		case "expand":
			r.cmdExpand()
		case "shrink":
			r.cmdShrink()
		case "bulk":
			r.cmdBulk(args)
		case "bench":
			r.cmdBench(args)
		case "checkpoint":
			r.cmdCheckpoint(args)
		case "clear", "cls":
			fmt.Print("\033[H\033[2J")
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"put", "upsert", "get", "dget", "update", "del", "delete",
		"stats", "info", "expand", "shrink", "bulk", "bench", "checkpoint",
		"help", "clear", "cls", "exit", "quit", "q",
	}
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

func (r *REPL) printHelp() {
	fmt.Print(`Commands:
  put <key> <value>       Insert (key, value)
  upsert <key> <value>    Insert, replacing any existing slot
  get <key>                Static lookup
  dget <key>               Dynamic lookup
  update <key> <value>     Overwrite an existing key's value
  del <key>                Delete a key
  stats                    Show table dimensions and load
  expand                   Double the top level
  shrink                   Halve the top level
  bulk <count> [prefix]    Insert count random entries
  bench <count>            Benchmark insert+query throughput
  checkpoint <path>        Durably write a JSON stats snapshot
  help                     Show this help
  exit / quit / q          Exit
`)
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: put <key> <value>")
		return
	}
	if err := r.table.Insert([]byte(args[0]), []byte(args[1])); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (r *REPL) cmdUpsert(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: upsert <key> <value>")
		return
	}
	if err := r.table.Upsert([]byte(args[0]), []byte(args[1])); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: get <key>")
		return
	}
	v, err := r.table.StaticQuery([]byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("%s\n", strings.TrimRight(string(v), "\x00"))
}

func (r *REPL) cmdDynamicGet(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: dget <key>")
		return
	}
	v, err := r.table.DynamicQuery([]byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("%s\n", strings.TrimRight(string(v), "\x00"))
}

func (r *REPL) cmdUpdate(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: update <key> <value>")
		return
	}
	if err := r.table.Update([]byte(args[0]), []byte(args[1])); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: del <key>")
		return
	}
	if err := r.table.Delete([]byte(args[0])); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (r *REPL) cmdStats() {
	s, err := r.table.Stats()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("level_size:     %d\n", s.LevelSize)
	fmt.Printf("addr_capacity:  %d\n", s.AddrCapacity)
	fmt.Printf("total_capacity: %d\n", s.TotalCapacity)
	fmt.Printf("count0:         %d\n", s.Count0)
	fmt.Printf("count1:         %d\n", s.Count1)
	fmt.Printf("expand_time:    %d\n", s.ExpandTime)
	fmt.Printf("resizing:       %v\n", s.Resizing)
}

func (r *REPL) cmdExpand() {
	if err := r.table.Expand(); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (r *REPL) cmdShrink() {
	if err := r.table.Shrink(); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (r *REPL) cmdBulk(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: bulk <count> [prefix]")
		return
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count <= 0 {
		fmt.Println("count must be a positive integer")
		return
	}
	prefix := "k"
	if len(args) > 1 {
		prefix = args[1]
	}
	inserted := 0
	for i := 0; i < count; i++ {
		k := fmt.Sprintf("%s%08d", prefix, i)
		v := randomBytes(16)
		if err := r.table.Insert([]byte(k), v); err != nil {
			fmt.Printf("stopped after %d inserts: %v\n", inserted, err)
			return
		}
		inserted++
	}
	fmt.Printf("inserted %d entries\n", inserted)
}

func (r *REPL) cmdBench(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: bench <count>")
		return
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count <= 0 {
		fmt.Println("count must be a positive integer")
		return
	}

	keys := make([][]byte, 0, count)
	start := time.Now()
	for i := 0; i < count; i++ {
		k := []byte(fmt.Sprintf("bench%08d", i))
		if err := r.table.Insert(k, randomBytes(16)); err != nil {
			fmt.Printf("insert stopped after %d: %v\n", i, err)
			break
		}
		keys = append(keys, k)
	}
	insertElapsed := time.Since(start)

	start = time.Now()
	for _, k := range keys {
		if _, err := r.table.StaticQuery(k); err != nil {
			fmt.Printf("query error: %v\n", err)
			break
		}
	}
	queryElapsed := time.Since(start)

	fmt.Printf("insert: %d ops in %s (%.0f ops/s)\n", len(keys), insertElapsed, float64(len(keys))/insertElapsed.Seconds())
	fmt.Printf("query:  %d ops in %s (%.0f ops/s)\n", len(keys), queryElapsed, float64(len(keys))/queryElapsed.Seconds())
}

// cmdCheckpoint writes the table's current Stats as JSON to path, using
// the same durable rename-based write the teacher's stores use for their
// own on-disk records, so a reader never observes a half-written
// snapshot even if the process is killed mid-write.
func (r *REPL) cmdCheckpoint(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: checkpoint <path>")
		return
	}
	s, err := r.table.Stats()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	w := fs.NewAtomicWriter(fs.NewReal())
	if err := w.WriteWithDefaults(args[0], bytes.NewReader(data)); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
