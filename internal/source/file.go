// Package source provides the two candidate providers the scheduler
// pulls from: a plain-text line reader and a pattern-engine adapter.
// Both satisfy the scheduler's Provider contract structurally --
// Fill(batch []candidate.Record) int -- without importing the
// scheduler package.
package source

import (
	"bufio"
	"fmt"
	"os"

	"lookup3gpu/internal/candidate"
	"lookup3gpu/internal/pattern"
)

// ErrLineTooLong is returned by NewFileProvider when a line exceeds
// the candidate record's fixed text capacity.
var ErrLineTooLong = fmt.Errorf("source: line exceeds %d bytes", candidate.WordsSize)

// FileProvider serves candidates read from a text file, one per
// line, trailing newline stripped. Empty lines are valid candidates.
// The whole file is read up front, matching the line-reader this
// package replaces: the file is expected to be a static word list,
// not a live stream.
type FileProvider struct {
	lines [][]byte
	next  int
}

// NewFileProvider reads every line of path into memory and returns a
// provider positioned at the first line.
func NewFileProvider(path string) (*FileProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), candidate.WordsSize+1)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) > candidate.WordsSize {
			return nil, fmt.Errorf("source: %s:%d: %w", path, lineNo, ErrLineTooLong)
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}

	return &FileProvider{lines: lines}, nil
}

// Fill copies up to len(batch) remaining lines into batch and reports
// how many were written. Returning 0 signals end of stream.
func (p *FileProvider) Fill(batch []candidate.Record) int {
	n := 0
	for n < len(batch) && p.next < len(p.lines) {
		batch[n].SetBytes(p.lines[p.next])
		p.next++
		n++
	}
	return n
}

// Remaining reports how many lines have not yet been handed out.
func (p *FileProvider) Remaining() int {
	return len(p.lines) - p.next
}

// PatternProvider adapts a *pattern.Pattern to the Provider contract.
type PatternProvider struct {
	pat *pattern.Pattern
}

// NewPatternProvider wraps an already-parsed pattern.
func NewPatternProvider(pat *pattern.Pattern) *PatternProvider {
	return &PatternProvider{pat: pat}
}

// Fill renders up to len(batch) candidates from the pattern's
// odometer and reports how many were written.
func (p *PatternProvider) Fill(batch []candidate.Record) int {
	n := 0
	for n < len(batch) && p.pat.Write(&batch[n]) {
		n++
	}
	return n
}

// Remaining reports how many candidates the pattern has left to
// enumerate.
func (p *PatternProvider) Remaining() uint64 {
	return p.pat.Remaining()
}
