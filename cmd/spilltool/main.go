package main

import (
	"bufio"
	"cmp"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/twlk9/spillmap"
	"github.com/twlk9/spillmap/codec"
	"github.com/twlk9/spillmap/filemap"
	"github.com/twlk9/spillmap/handler"
	"github.com/twlk9/spillmap/keys"
	"github.com/twlk9/spillmap/merge"
	"github.com/twlk9/spillmap/runfile"
)

const version = "1.0.0"

func main() {
	flag.Usage = printUsage

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "sort":
		err = sortCommand(args, os.Stdin, os.Stdout)
	case "dump":
		err = dumpCommand(args, os.Stdout)
	case "verify":
		err = verifyCommand(args, os.Stdout)
	case "version":
		fmt.Printf("spilltool version %s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`spilltool - Sort more lines than fit in memory and inspect run files

Usage:
  spilltool <command> [options]

Commands:
  sort [options] [file...]           Sort lines from files or stdin, spilling runs to disk
  dump [-limit N] <run_file>         Show the header and elements of a run file
  verify <run_file>...               Check checksums and counts of run files
  version                            Show version information
  help                               Show this help message

Sort options:
  -config FILE        YAML config file; flags override it
  -threshold N        Lines held in memory before a run is spilled
  -max-open-files N   Runs kept before they are compacted
  -dir DIR            Directory for runs (repeatable, default a temp dir)
  -unique             Drop repeated lines
  -reverse            Sort in descending order
  -keep               Keep the run files instead of removing them
  -stats              Print counters to stderr when done

Examples:
  spilltool sort -threshold 100000 -dir /mnt/scratch < big.txt > sorted.txt
  spilltool sort -config spilltool.yaml -unique access.log
  spilltool dump /mnt/scratch/4b8f...run
  spilltool verify /mnt/scratch/*.run

`)
}

// line is one input line with its input position, so that equal lines
// stay distinct elements.
type line = keys.Entry[string, uint64]

func textComparator(reverse bool) keys.Comparator[string] {
	c := keys.Natural[string]()
	if reverse {
		c = keys.Reverse(c)
	}
	return c
}

func lineComparator(reverse bool) keys.Comparator[line] {
	byText := textComparator(reverse)
	return keys.Func("lines:"+byText.Name(), func(a, b line) int {
		if c := byText.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
}

type dirList []string

func (d *dirList) String() string { return fmt.Sprint(*d) }
func (d *dirList) Set(v string) error { *d = append(*d, v); return nil }

func sortCommand(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("sort", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	threshold := fs.Int("threshold", 0, "lines held in memory before a spill")
	maxOpen := fs.Int("max-open-files", 0, "runs kept before compaction")
	unique := fs.Bool("unique", false, "drop repeated lines")
	reverse := fs.Bool("reverse", false, "descending order")
	keep := fs.Bool("keep", false, "keep run files")
	stats := fs.Bool("stats", false, "print counters to stderr")
	var dirs dirList
	fs.Var(&dirs, "dir", "run directory (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := defaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loadConfig(*configPath); err != nil {
			return err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threshold":
			cfg.BufferPersistThreshold = *threshold
		case "max-open-files":
			cfg.MaxOpenFiles = *maxOpen
		case "unique":
			cfg.Unique = *unique
		case "reverse":
			cfg.Reverse = *reverse
		case "dir":
			cfg.Dirs = dirs
		}
	})

	tiered, err := cfg.tiered()
	if err != nil {
		return err
	}
	logger, err := cfg.logger()
	if err != nil {
		return err
	}

	var factories []handler.Factory
	for _, dir := range cfg.Dirs {
		factories = append(factories, &handler.DirFactory{Dir: dir, Prefix: "spilltool-"})
	}
	if len(factories) == 0 {
		tmp, err := handler.NewTempDirFactory("spilltool")
		if err != nil {
			return err
		}
		if !*keep {
			defer tmp.Cleanup()
		}
		factories = append(factories, tmp)
	}

	reg := prometheus.NewRegistry()
	opts := spillmap.NewMapOptions[string, uint64](codec.String(), codec.Uint64(), factories...).EntryOptions()
	opts.Comparator = lineComparator(cfg.Reverse)
	opts.BufferPersistThreshold = cfg.BufferPersistThreshold
	opts.MaxOpenFiles = cfg.MaxOpenFiles
	opts.NumRetries = cfg.NumRetries
	opts.BlockSize = cfg.BlockSize
	opts.Compression = &tiered
	opts.Logger = logger
	opts.Metrics = spillmap.NewMetrics(reg, "spilltool")

	set, err := spillmap.New(opts)
	if err != nil {
		return err
	}
	if !*keep {
		defer set.Close()
	}

	var seq uint64
	err = readLines(fs.Args(), stdin, func(text string) error {
		seq++
		return set.Put(line{Key: text, Value: seq})
	})
	if err != nil {
		return err
	}
	if err := set.Persist(); err != nil {
		return err
	}

	w := bufio.NewWriter(stdout)
	it := set.Iterator()
	lines := it.All()
	if cfg.Unique {
		lines = merge.Dedup(lines, keys.EntryComparator[string, uint64](textComparator(cfg.Reverse)), nil)
	}
	for l := range lines {
		w.WriteString(l.Key)
		w.WriteByte('\n')
	}
	err = it.Err()
	if cerr := it.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("merge runs: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if *keep {
		for _, r := range set.Runs() {
			fmt.Fprintf(os.Stderr, "kept %s\n", r.Handler().Name())
		}
	}
	if *stats {
		printStats(reg)
	}
	return nil
}

func readLines(files []string, stdin io.Reader, put func(string) error) error {
	scan := func(r io.Reader) error {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for sc.Scan() {
			if err := put(sc.Text()); err != nil {
				return err
			}
		}
		return sc.Err()
	}
	if len(files) == 0 {
		return scan(stdin)
	}
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		err = scan(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func printStats(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gather stats: %v\n", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(os.Stderr, "%-45s %12.0f\n", mf.GetName(), m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(os.Stderr, "%-45s %12.0f\n", mf.GetName(), m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(os.Stderr, "%-45s %12d (%.3fs)\n", mf.GetName(), h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
}

func dumpCommand(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	limit := fs.Int("limit", 1000, "maximum elements shown")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("dump command requires a run file")
	}
	path := fs.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := runfile.NewReader(bufio.NewReader(f), nil)
	if err != nil {
		return fmt.Errorf("failed to open run: %w", err)
	}

	meta := r.Meta()
	fmt.Fprintf(stdout, "Run: %s\n", path)
	if fi, err := f.Stat(); err == nil {
		fmt.Fprintf(stdout, "File size: %s\n", formatBytes(uint64(fi.Size())))
	}
	fmt.Fprintf(stdout, "Comparator: %s\nCodec: %s\nCompression: %s\n\n", meta.Comparator, meta.Codec, meta.Compression)

	fmt.Fprintf(stdout, "%-6s %-60s %s\n", "Index", "Element", "Size")
	fmt.Fprintf(stdout, "%s\n", "---------------------------------------------------------------------------------")
	shown := 0
	for {
		rec, ok := r.Next()
		if !ok {
			break
		}
		if shown < *limit {
			shown++
			fmt.Fprintf(stdout, "%-6d %-60s %s\n", shown, formatElement(rec, 58), formatBytes(uint64(len(rec))))
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("read error: %w", err)
	}
	if uint64(shown) < r.Count() {
		fmt.Fprintf(stdout, "... (showing first %d elements)\n", shown)
	}
	fmt.Fprintf(stdout, "\nTotal elements: %d\n", r.Count())
	return nil
}

func verifyCommand(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("verify command requires at least one run file")
	}
	var failed int
	for _, path := range args {
		n, err := verifyRun(path)
		switch {
		case errors.Is(err, spillmap.ErrIncompatibleRun):
			fmt.Fprintf(stdout, "✗ %s: incompatible: %v\n", path, err)
			failed++
		case err != nil:
			fmt.Fprintf(stdout, "✗ %s: %v\n", path, err)
			failed++
		default:
			fmt.Fprintf(stdout, "✓ %s: %d elements\n", path, n)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed verification", failed, len(args))
	}
	return nil
}

// verifyRun reads a whole run. Runs of strings, and runs written by the
// sort command, are also opened as sets so that their order is checked.
func verifyRun(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	meta, err := runfile.ReadMeta(f)
	f.Close()
	if err != nil {
		return 0, err
	}

	reverse := meta.Comparator == textComparator(true).Name() || meta.Comparator == lineComparator(true).Name()
	switch meta.Codec {
	case codec.String().Name():
		return openCount(filemap.SetConfig[string]{Comparator: textComparator(reverse), Codec: codec.String()}, path)
	case codec.Pair(codec.String(), codec.Uint64()).Name():
		return openCount(filemap.SetConfig[line]{
			Comparator: lineComparator(reverse),
			Codec:      codec.Pair(codec.String(), codec.Uint64()),
		}, path)
	}

	f, err = os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r, err := runfile.NewReader(bufio.NewReader(f), nil)
	if err != nil {
		return 0, err
	}
	for {
		if _, ok := r.Next(); !ok {
			break
		}
	}
	return r.Count(), r.Err()
}

func openCount[E any](cfg filemap.SetConfig[E], path string) (uint64, error) {
	s, err := filemap.OpenSet(cfg, handler.NewFileHandler(path))
	if err != nil {
		return 0, err
	}
	return uint64(s.Len()), nil
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatElement shows printable bytes as is and the rest as hex escapes.
func formatElement(b []byte, maxLen int) string {
	if len(b) == 0 {
		return "<empty>"
	}
	str := ""
	for _, c := range b {
		if c >= 32 && c <= 126 {
			str += string(c)
		} else {
			str += fmt.Sprintf("\\x%02x", c)
		}
	}
	if len(str) > maxLen {
		return str[:maxLen-3] + "..."
	}
	return str
}
