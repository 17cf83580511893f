// Package pattern lazily enumerates the Cartesian product described
// by a compact pattern expression -- literal runs, alternations, and
// character classes -- in constant memory and stable lexicographic
// order. It never materializes the product: each call to Write
// renders exactly one candidate and advances an odometer chained
// across the pattern's segments.
package pattern

import "lookup3gpu/internal/candidate"

// Pattern is a parsed pattern expression together with its current
// enumeration position.
type Pattern struct {
	nodes     []node
	tail      int
	total     uint64
	remaining uint64
}

// New parses patternStr into a Pattern ready for enumeration,
// positioned at the first candidate. It fails with a *ParseError on
// malformed input.
func New(patternStr string) (*Pattern, error) {
	nodes, err := parseNodes(patternStr)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		if i == 0 {
			nodes[i].prev = -1
		} else {
			nodes[i].prev = i - 1
		}
		if i == len(nodes)-1 {
			nodes[i].next = -1
		} else {
			nodes[i].next = i + 1
		}
	}

	p := &Pattern{nodes: nodes, tail: len(nodes) - 1}
	p.total = p.computeCount()
	p.remaining = p.total
	return p, nil
}

func (p *Pattern) computeCount() uint64 {
	total := uint64(1)
	for i := range p.nodes {
		total *= p.nodes[i].count()
	}
	return total
}

// Count returns the total number of distinct candidates this pattern
// enumerates.
func (p *Pattern) Count() uint64 {
	return p.total
}

// HasNext reports whether Write has anything left to emit.
func (p *Pattern) HasNext() bool {
	return p.remaining > 0
}

// Remaining returns the number of candidates left to enumerate.
func (p *Pattern) Remaining() uint64 {
	return p.remaining
}

// Reset rewinds the pattern to its first candidate, reproducing the
// exact sequence a fresh call to New would produce.
func (p *Pattern) Reset() {
	for i := range p.nodes {
		p.nodes[i].reset()
	}
	p.remaining = p.total
}

// Write renders the current candidate into rec -- setting Words and
// CharCount, zeroing the unused tail of Words -- then advances the
// odometer to the next candidate. It returns false if the pattern was
// already exhausted, in which case rec is left untouched.
func (p *Pattern) Write(rec *candidate.Record) bool {
	if p.remaining == 0 {
		return false
	}

	buf := make([]byte, 0, candidate.WordsSize)
	for i := range p.nodes {
		buf = p.nodes[i].appendBytes(buf)
	}
	if !rec.SetBytes(buf) {
		// Longer than a candidate record can hold; the pattern was
		// misconfigured for this record layout. Treat as exhaustion
		// rather than emitting a truncated candidate.
		p.remaining = 0
		return false
	}

	p.remaining--
	p.advance()
	return true
}

// advance performs one ripple-carry step over the odometer chain,
// starting at the tail (the fastest-changing, rightmost node) and
// walking toward the head for as long as nodes wrap. It mirrors
// standard place-value counting: the tail is the ones digit.
func (p *Pattern) advance() {
	cur := p.tail
	for cur != -1 {
		n := &p.nodes[cur]
		if n.moveNext() {
			return
		}
		n.reset()
		cur = n.prev
	}
}
