// runcalc estimates the runs a container leaves on disk and the bytes it
// writes for a given workload.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/twlk9/spillmap"
)

const (
	KiB = 1024
	MiB = KiB * 1024
	GiB = MiB * 1024
	TiB = GiB * 1024
)

type Config struct {
	Elements               int64   // Elements put before the final Persist
	ElementSize            int64   // Average encoded element size
	BufferPersistThreshold int     // Elements per spilled run
	MaxOpenFiles           int     // Runs tolerated before Persist compacts
	CompressionRatio       float64 // Stored size / raw size
}

type Layout struct {
	Spilled      int     // runs written while putting
	RunsBefore   int     // runs at Persist
	Groups       [][]int // compaction plan, nil if none ran
	RunSizes     []int64 // elements per run after Persist
	BytesWritten int64
}

func main() {
	reader := bufio.NewReader(os.Stdin)
	cfg := Config{
		Elements:               10_000_000,
		ElementSize:            64,
		BufferPersistThreshold: spillmap.DefaultBufferPersistThreshold,
		MaxOpenFiles:           spillmap.DefaultMaxOpenFiles,
		CompressionRatio:       0.5,
	}

	fmt.Println("Spilled Run Calculator")
	fmt.Println("======================")
	fmt.Println("Press Enter to accept defaults shown in brackets.")
	fmt.Println()

	cfg.Elements = promptInt64(reader, "Elements", cfg.Elements)
	cfg.ElementSize = promptSize(reader, "Average element size", cfg.ElementSize)
	cfg.BufferPersistThreshold = int(promptInt64(reader, "Buffer persist threshold", int64(cfg.BufferPersistThreshold)))
	cfg.MaxOpenFiles = int(promptInt64(reader, "Max open files", int64(cfg.MaxOpenFiles)))
	cfg.CompressionRatio = promptFloat(reader, "Compression ratio (stored/raw)", cfg.CompressionRatio)

	fmt.Println()
	if cfg.BufferPersistThreshold <= 0 || cfg.MaxOpenFiles <= 0 {
		fmt.Println("Threshold and max open files must be positive.")
		os.Exit(1)
	}
	printLayout(cfg, computeLayout(cfg))
}

// computeLayout follows the container: a run is spilled every threshold
// elements, Persist writes the remainder and, past MaxOpenFiles runs,
// compacts down to CompactionTarget. Elements are assumed distinct.
func computeLayout(cfg Config) Layout {
	var l Layout
	var sizes []int64
	for left := cfg.Elements; left > 0; left -= int64(cfg.BufferPersistThreshold) {
		sizes = append(sizes, min(left, int64(cfg.BufferPersistThreshold)))
	}
	l.Spilled = int(cfg.Elements / int64(cfg.BufferPersistThreshold))
	l.RunsBefore = len(sizes)
	l.BytesWritten = cfg.Elements * cfg.ElementSize

	if len(sizes) <= cfg.MaxOpenFiles {
		l.RunSizes = sizes
		return l
	}

	ints := make([]int, len(sizes))
	persisted := make([]bool, len(sizes))
	for i, n := range sizes {
		ints[i] = int(n)
		persisted[i] = true
	}
	l.Groups = spillmap.PlanCompaction(ints, persisted, spillmap.CompactionTarget(cfg.MaxOpenFiles))
	for _, g := range l.Groups {
		var n int64
		for _, idx := range g {
			n += sizes[idx]
		}
		if len(g) > 1 {
			l.BytesWritten += n * cfg.ElementSize
		}
		l.RunSizes = append(l.RunSizes, n)
	}
	return l
}

func promptInt64(reader *bufio.Reader, prompt string, defaultVal int64) int64 {
	fmt.Printf("%s [%d]: ", prompt, defaultVal)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ReplaceAll(input, "_", ""))
	if input == "" {
		return defaultVal
	}
	val, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return defaultVal
	}
	return val
}

func promptSize(reader *bufio.Reader, prompt string, defaultVal int64) int64 {
	fmt.Printf("%s [%s]: ", prompt, formatSize(defaultVal))
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return parseSize(input, defaultVal)
}

func promptFloat(reader *bufio.Reader, prompt string, defaultVal float64) float64 {
	fmt.Printf("%s [%.2f]: ", prompt, defaultVal)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(input, 64)
	if err != nil {
		return defaultVal
	}
	return val
}

func parseSize(s string, defaultVal int64) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	multiplier := int64(1)

	if strings.HasSuffix(s, "TB") || strings.HasSuffix(s, "T") {
		multiplier = TiB
		s = strings.TrimSuffix(strings.TrimSuffix(s, "TB"), "T")
	} else if strings.HasSuffix(s, "GB") || strings.HasSuffix(s, "G") {
		multiplier = GiB
		s = strings.TrimSuffix(strings.TrimSuffix(s, "GB"), "G")
	} else if strings.HasSuffix(s, "MB") || strings.HasSuffix(s, "M") {
		multiplier = MiB
		s = strings.TrimSuffix(strings.TrimSuffix(s, "MB"), "M")
	} else if strings.HasSuffix(s, "KB") || strings.HasSuffix(s, "K") {
		multiplier = KiB
		s = strings.TrimSuffix(strings.TrimSuffix(s, "KB"), "K")
	} else {
		s = strings.TrimSuffix(s, "B")
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return defaultVal
	}
	return int64(val * float64(multiplier))
}

func formatSize(bytes int64) string {
	switch {
	case bytes >= TiB:
		return fmt.Sprintf("%.1fTB", float64(bytes)/float64(TiB))
	case bytes >= GiB:
		return fmt.Sprintf("%.1fGB", float64(bytes)/float64(GiB))
	case bytes >= MiB:
		return fmt.Sprintf("%.1fMB", float64(bytes)/float64(MiB))
	case bytes >= KiB:
		return fmt.Sprintf("%.1fKB", float64(bytes)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

func printLayout(cfg Config, l Layout) {
	raw := cfg.Elements * cfg.ElementSize
	stored := func(elements int64) int64 {
		return int64(float64(elements*cfg.ElementSize) * cfg.CompressionRatio)
	}

	fmt.Println("Run Layout")
	fmt.Println("==========")
	fmt.Printf("Data: %s raw, %s stored\n", formatSize(raw), formatSize(stored(cfg.Elements)))
	fmt.Printf("Runs spilled while putting: %d\n", l.Spilled)
	fmt.Printf("Runs at Persist: %d\n", l.RunsBefore)
	if l.Groups == nil {
		fmt.Printf("No compaction (%d <= %d max open files)\n\n", l.RunsBefore, cfg.MaxOpenFiles)
	} else {
		fmt.Printf("Compaction target: %d runs\n\n", spillmap.CompactionTarget(cfg.MaxOpenFiles))
	}

	fmt.Printf("%-6s  %8s  %15s  %12s\n", "Run", "Inputs", "Elements", "Stored")
	fmt.Printf("%-6s  %8s  %15s  %12s\n", "---", "------", "--------", "------")
	for i, n := range l.RunSizes {
		inputs := 1
		if l.Groups != nil {
			inputs = len(l.Groups[i])
		}
		fmt.Printf("%-6d  %8d  %15d  %12s\n", i, inputs, n, formatSize(stored(n)))
		if i == 19 && len(l.RunSizes) > 21 {
			fmt.Printf("%-6s\n", "...")
			i = len(l.RunSizes) - 1
			fmt.Printf("%-6d  %8s  %15d  %12s\n", i, "", l.RunSizes[i], formatSize(stored(l.RunSizes[i])))
			break
		}
	}

	fmt.Println()
	fmt.Printf("Bytes written: %s raw, %s stored (%.2fx write amplification)\n",
		formatSize(l.BytesWritten), formatSize(int64(float64(l.BytesWritten)*cfg.CompressionRatio)),
		float64(l.BytesWritten)/float64(max(raw, 1)))
}
