package pattern

import (
	"strconv"
	"strings"
)

// parseNodes turns a pattern string into a flat, ordered slice of
// nodes (prev/next links are filled in by the caller once the whole
// slice exists). Literal runs accumulate a byte buffer that flushes
// whenever an alternation or character class opens, and at the end
// of the string.
func parseNodes(s string) ([]node, error) {
	var nodes []node
	var lit []byte

	flush := func() {
		if len(lit) > 0 {
			nodes = append(nodes, node{kind: kindLiteral, literal: normalize(lit)})
			lit = nil
		}
	}

	i := 0
	for i < len(s) {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return nil, parseErrorf(i, "dangling escape at end of pattern")
			}
			lit = append(lit, s[i+1])
			i += 2
		case '(':
			flush()
			nd, consumed, err := parseAlt(s, i)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, nd)
			i += consumed
		case '[':
			flush()
			nd, consumed, err := parseClass(s, i)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, nd)
			i += consumed
		default:
			lit = append(lit, s[i])
			i++
		}
	}
	flush()

	if len(nodes) == 0 {
		return nil, parseErrorf(0, "empty pattern")
	}
	return nodes, nil
}

// parseAlt parses `( choice ('|' choice)* )` followed by an optional
// size modifier, starting at s[start] == '('. It returns the node and
// the number of bytes consumed from s[start:].
func parseAlt(s string, start int) (node, int, error) {
	rel := strings.IndexByte(s[start+1:], ')')
	if rel < 0 {
		return node{}, 0, parseErrorf(start, "unterminated alternation: missing ')'")
	}
	end := start + 1 + rel
	body := s[start+1 : end]
	if body == "" {
		return node{}, 0, parseErrorf(start, "alternation has no choices")
	}

	choices := strings.Split(body, "|")
	symbols := make([][]byte, len(choices))
	for i, c := range choices {
		if c == "" {
			return node{}, 0, parseErrorf(start, "alternation contains an empty choice")
		}
		symbols[i] = normalize([]byte(c))
	}

	sizePos := end + 1
	min, max, consumed, err := parseSize(s, sizePos, 1, 1)
	if err != nil {
		return node{}, 0, err
	}
	if min < 0 || max < min {
		return node{}, 0, parseErrorf(sizePos, "invalid size range {%d,%d}", min, max)
	}

	nd := node{kind: kindRepeater, symbols: symbols, min: min, max: max}
	nd.reset()
	return nd, (sizePos + consumed) - start, nil
}

// parseClass parses `[ range ('|' range)* ]` followed by an optional
// size modifier, starting at s[start] == '['.
func parseClass(s string, start int) (node, int, error) {
	rel := strings.IndexByte(s[start+1:], ']')
	if rel < 0 {
		return node{}, 0, parseErrorf(start, "unterminated character class: missing ']'")
	}
	end := start + 1 + rel
	body := s[start+1 : end]
	if body == "" {
		return node{}, 0, parseErrorf(start, "character class has no ranges")
	}

	var universe [][]byte
	for _, part := range strings.Split(body, "|") {
		chars, err := resolveRange(start, part)
		if err != nil {
			return node{}, 0, err
		}
		universe = append(universe, chars...)
	}
	if len(universe) == 0 {
		return node{}, 0, parseErrorf(start, "character class alphabet is empty")
	}

	sizePos := end + 1
	min, max, consumed, err := parseSize(s, sizePos, 1, 1)
	if err != nil {
		return node{}, 0, err
	}
	if min < 0 || max < min {
		return node{}, 0, parseErrorf(sizePos, "invalid size range {%d,%d}", min, max)
	}

	nd := node{kind: kindRepeater, symbols: universe, min: min, max: max}
	nd.reset()
	return nd, (sizePos + consumed) - start, nil
}

// resolveRange expands one '|'-separated range term: either a named
// alphabet (hex, alpha, num, alnum, alphanum, path) or a literal
// CHAR-CHAR span, uppercased, inclusive on both ends.
func resolveRange(pos int, r string) ([][]byte, error) {
	if alphabet, ok := namedRanges[strings.ToLower(r)]; ok {
		out := make([][]byte, len(alphabet))
		for i := 0; i < len(alphabet); i++ {
			out[i] = []byte{alphabet[i]}
		}
		return out, nil
	}

	if len(r) == 3 && r[1] == '-' {
		lo, hi := upper(r[0]), upper(r[2])
		if lo > hi {
			return nil, parseErrorf(pos, "character range %q runs backwards", r)
		}
		out := make([][]byte, 0, int(hi-lo)+1)
		for c := lo; c <= hi; c++ {
			out = append(out, []byte{c})
		}
		return out, nil
	}

	return nil, parseErrorf(pos, "unrecognized range %q", r)
}

// parseSize parses an optional `{n}` or `{min,max}` at s[pos:],
// returning (defMin, defMax, 0, nil) when no size modifier is
// present. The third return value is the number of bytes consumed.
func parseSize(s string, pos, defMin, defMax int) (int, int, int, error) {
	if pos >= len(s) || s[pos] != '{' {
		return defMin, defMax, 0, nil
	}

	rel := strings.IndexByte(s[pos:], '}')
	if rel < 0 {
		return 0, 0, 0, parseErrorf(pos, "unterminated size modifier: missing '}'")
	}
	end := pos + rel
	body := s[pos+1 : end]
	if body == "" {
		return 0, 0, 0, parseErrorf(pos, "empty size modifier")
	}

	if idx := strings.IndexByte(body, ','); idx >= 0 {
		lo, err := strconv.Atoi(body[:idx])
		if err != nil || lo < 0 {
			return 0, 0, 0, parseErrorf(pos, "invalid size minimum %q", body[:idx])
		}
		hi, err := strconv.Atoi(body[idx+1:])
		if err != nil || hi < lo {
			return 0, 0, 0, parseErrorf(pos, "invalid size maximum %q", body[idx+1:])
		}
		return lo, hi, (end - pos) + 1, nil
	}

	n, err := strconv.Atoi(body)
	if err != nil || n < 0 {
		return 0, 0, 0, parseErrorf(pos, "invalid size %q", body)
	}
	return n, n, (end - pos) + 1, nil
}

// normalize applies the literal-canonicalization rule uniformly to
// plain text and alternation choices: uppercase, and forward slashes
// rewritten to backslashes. Escape backslashes are already gone by
// the time text reaches here -- parseNodes strips them while
// scanning.
func normalize(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c == '/' {
			out[i] = '\\'
			continue
		}
		out[i] = upper(c)
	}
	return out
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
