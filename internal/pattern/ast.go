package pattern

// kind distinguishes the two node behaviors a pattern is built from.
// Both share the same odometer contract (moveNext/reset/appendBytes);
// a sum type keeps that contract in one place instead of spreading it
// across an inheritance hierarchy.
type kind int

const (
	kindLiteral kind = iota
	kindRepeater
)

// node is one link in the pattern's odometer chain. prev/next are
// indices into the owning Pattern's nodes slice (-1 at either end),
// not pointers: the chain's lifetime is exactly the Pattern's, so
// there is nothing a raw pointer buys that an index doesn't.
type node struct {
	kind kind
	prev int
	next int

	// kindLiteral: fixed text, rendered unchanged on every emission.
	literal []byte

	// kindRepeater: symbols is the universe -- each element is one
	// "digit" value, a literal choice for an alternation or a single
	// byte for a character class. min/max bound the repeated length;
	// length is the currently active length (min <= length <= max)
	// and idx holds one cursor per active position, each in
	// [0, len(symbols)).
	symbols [][]byte
	min     int
	max     int
	length  int
	idx     []int
}

// namedRanges maps the grammar's named character classes to their
// fixed alphabets. Order is significant: it fixes enumeration order
// within the class.
var namedRanges = map[string]string{
	"hex":      "ABCDEF0123456789",
	"alpha":    "ABCDEFGHIJKLMNOPQRSTUVWXYZ ",
	"num":      "0123456789",
	"alnum":    "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 ",
	"alphanum": "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 ",
	"path":     "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_.\\ ",
}

// reset restores the node to its first odometer value: a no-op for
// literals, the all-zero index vector at the minimum length for a
// repeater.
func (n *node) reset() {
	if n.kind != kindRepeater {
		return
	}
	n.length = n.min
	n.idx = make([]int, n.length)
}

// moveNext advances the node by one odometer step and reports whether
// it advanced within its own range (true) or ran past its last value
// (false); on false the caller resets it to its first value. A literal
// has exactly one value, so it always wraps.
func (n *node) moveNext() bool {
	if n.kind != kindRepeater {
		return false
	}
	width := len(n.symbols)
	for i := len(n.idx) - 1; i >= 0; i-- {
		n.idx[i]++
		if n.idx[i] < width {
			return true
		}
		n.idx[i] = 0
	}
	// every position in the current length wrapped: grow the length
	// by appending one more cursor at the universe's first symbol,
	// unless already at the configured maximum.
	if n.length < n.max {
		n.length++
		n.idx = make([]int, n.length)
		return true
	}
	return false
}

// appendBytes renders the node's current value onto dst.
func (n *node) appendBytes(dst []byte) []byte {
	if n.kind == kindLiteral {
		return append(dst, n.literal...)
	}
	for _, cursor := range n.idx {
		dst = append(dst, n.symbols[cursor]...)
	}
	return dst
}

// count returns the number of distinct values this node contributes,
// per the counting laws: 1 for a literal; |U|^min for a fixed-length
// repeater; the sum over k=min..max of |U|^k for a variable-length
// one.
func (n *node) count() uint64 {
	if n.kind == kindLiteral {
		return 1
	}
	u := uint64(len(n.symbols))
	if n.min == n.max {
		return ipow(u, n.min)
	}
	var total uint64
	for k := n.min; k <= n.max; k++ {
		total += ipow(u, k)
	}
	return total
}

func ipow(base uint64, exp int) uint64 {
	result := uint64(1)
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
