// Command lookup3gpu runs a GPU-accelerated brute-force search for the
// Jenkins lookup3 hash of every candidate produced by a pattern
// expression or read from a word-list file.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"lookup3gpu/internal/candidate"
	"lookup3gpu/internal/frame"
	"lookup3gpu/internal/gpudevice"
	"lookup3gpu/internal/metrics"
	"lookup3gpu/internal/pattern"
	"lookup3gpu/internal/pipeline"
	"lookup3gpu/internal/scheduler"
	"lookup3gpu/internal/source"
)

func main() {
	if err := run(); err != nil {
		slog.Error("lookup3gpu: " + err.Error())
		os.Exit(1)
	}
}

func run() error {
	var (
		inputPath      = flag.String("input", "", "path to a newline-delimited word list")
		patternStr     = flag.String("pattern", "", "pattern expression to enumerate candidates from")
		outputPath     = flag.String("output", "", "path to write each candidate and its hash to (default stdout)")
		frameCount     = flag.Int("frames", 3, "number of in-flight frame slots")
		workgroupCount = flag.String("workgroupCount", "3,1,1", "dispatch workgroup count, x,y,z")
		workgroupSize  = flag.String("workgroupSize", "64,1,1", "compute shader workgroup size, x,y,z")
		validate       = flag.Bool("validate", false, "cross-check every GPU hash against the CPU reference")
	)
	flag.Parse()

	if *inputPath == "" && *patternStr == "" {
		return fmt.Errorf("either --input or --pattern is required")
	}
	if *frameCount < 1 {
		return fmt.Errorf("--frames must be >= 1, got %d", *frameCount)
	}
	wgSize, err := parseTriple(*workgroupSize)
	if err != nil {
		return fmt.Errorf("--workgroupSize: %w", err)
	}
	wgCount, err := parseTriple(*workgroupCount)
	if err != nil {
		return fmt.Errorf("--workgroupCount: %w", err)
	}

	provider, err := buildProvider(*inputPath, *patternStr)
	if err != nil {
		return fmt.Errorf("build candidate provider: %w", err)
	}

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	sink := &lineSink{w: out}

	dev := gpudevice.New()
	if err := dev.Init(); err != nil {
		return fmt.Errorf("gpu init: %w", err)
	}
	defer dev.Close()
	slog.Info("lookup3gpu: gpu ready", "adapter", dev.AdapterName())

	pl, err := pipeline.New(dev.Device(), dev.Queue(), pipeline.Config{
		WorkgroupSize:  wgSize,
		WorkgroupCount: wgCount,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer pl.Close()

	batchSize := pl.BatchSize()
	slots := make([]*frame.Slot, *frameCount)
	for i := range slots {
		s, err := frame.New(dev.Device(), dev.Queue(), pl, batchSize, fmt.Sprintf("frame%d", i))
		if err != nil {
			for j := 0; j < i; j++ {
				slots[j].Release()
			}
			return fmt.Errorf("build frame %d: %w", i, err)
		}
		slots[i] = s
	}
	defer func() {
		for _, s := range slots {
			s.Release()
		}
	}()

	m := metrics.New()
	sched := scheduler.New(slots, provider, sink, m, *validate)
	if err := sched.Run(); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if err := dev.WaitIdle(); err != nil {
		slog.Warn("lookup3gpu: wait idle at shutdown", "error", err)
	}

	slog.Info("lookup3gpu: done", "summary", m.Summary())
	if mismatches := sched.Mismatches(); len(mismatches) > 0 {
		slog.Warn("lookup3gpu: validation mismatches found", "count", len(mismatches))
		for _, mm := range mismatches {
			fmt.Fprintf(os.Stderr, "mismatch: %q gpu=%#08x cpu=%#08x\n", mm.Candidate, mm.GPUHash, mm.CPUHash)
		}
	}
	return nil
}

// parseTriple parses a "x,y,z" flag value into three uint32s.
func parseTriple(s string) ([3]uint32, error) {
	var out [3]uint32
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("expected 3 comma-separated values, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return out, fmt.Errorf("invalid component %q: %w", p, err)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

// buildProvider selects the file or pattern candidate source. --pattern
// takes precedence when both are supplied.
func buildProvider(inputPath, patternStr string) (scheduler.Provider, error) {
	if patternStr != "" {
		pat, err := pattern.New(patternStr)
		if err != nil {
			return nil, fmt.Errorf("parse pattern: %w", err)
		}
		return source.NewPatternProvider(pat), nil
	}
	return source.NewFileProvider(inputPath)
}

// lineSink writes each completed candidate's text and hash as one line.
type lineSink struct {
	w *os.File
}

func (s *lineSink) Accept(batch []candidate.Record) {
	for i := range batch {
		fmt.Fprintf(s.w, "%s %08x\n", batch[i].Bytes(), batch[i].Hash)
	}
}
