package lookup3

import (
	"encoding/binary"
	"testing"
)

// TestHashLittleEmpty pins the well-known lookup3 fixed point: a
// zero-length key with initval 0 hashes to 0xdeadbeef, since a, b and
// c never leave their seeded value.
func TestHashLittleEmpty(t *testing.T) {
	if got := HashLittle(nil, 0); got != 0xdeadbeef {
		t.Fatalf("HashLittle(nil, 0) = 0x%08x, want 0xdeadbeef", got)
	}
	if got := Hash([]byte{}); got != 0xdeadbeef {
		t.Fatalf("Hash(\"\") = 0x%08x, want 0xdeadbeef", got)
	}
}

func TestHashLittleDeterministic(t *testing.T) {
	cases := [][]byte{
		[]byte("FOO"),
		[]byte("BAR"),
		[]byte("BAZ"),
		[]byte("a"),
		[]byte("The quick brown fox jumps over the lazy dog"),
	}
	for _, c := range cases {
		first := Hash(c)
		for i := 0; i < 5; i++ {
			if got := Hash(c); got != first {
				t.Fatalf("Hash(%q) not deterministic: got 0x%08x, want 0x%08x", c, got, first)
			}
		}
	}
}

// TestHashLittleDistinct checks that distinct short strings, which the
// pattern engine is expected to emit in bulk, don't collapse to the
// same hash under the default seed.
func TestHashLittleDistinct(t *testing.T) {
	inputs := []string{"FOO", "BAR", "BAZ", "A0B", "A1B", "A2B"}
	seen := map[uint32]string{}
	for _, s := range inputs {
		h := Hash([]byte(s))
		if prev, ok := seen[h]; ok {
			t.Fatalf("hash collision between %q and %q: 0x%08x", s, prev, h)
		}
		seen[h] = s
	}
}

func TestHashSeedChangesOutput(t *testing.T) {
	key := []byte("collision-check")
	h0 := HashSeed(key, 0)
	h1 := HashSeed(key, 1)
	if h0 == h1 {
		t.Fatalf("HashSeed with different seeds produced the same hash: 0x%08x", h0)
	}
}

// TestHashLittleAllLengths walks every tail-length case lookup3's
// switch statement handles (0 through 12 bytes past the last full
// 12-byte block) to make sure none of the fallthrough arms panics or
// silently drops bytes added by its successor.
func TestHashLittleAllLengths(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = byte(i*7 + 3)
	}
	seen := map[int]uint32{}
	for n := 0; n <= len(buf); n++ {
		h := HashLittle(buf[:n], 0)
		seen[n] = h
		if n > 0 {
			shorter := HashLittle(buf[:n-1], 0)
			if shorter == h {
				t.Errorf("length %d and %d hashed identically (0x%08x); suspicious truncation", n-1, n, h)
			}
		}
	}
}

// TestHashWordMatchesHashLittleOnAlignedInput confirms the two entry
// points agree when the byte slice is a clean little-endian encoding
// of the uint32 slice and its length is an exact multiple of 4 -- the
// case the GPU kernel relies on when it reads storage buffers as
// arrays of u32.
func TestHashWordMatchesHashLittleOnAlignedInput(t *testing.T) {
	words := []uint32{0x11223344, 0xaabbccdd, 0x01020304, 0xdeadbeef, 0x0badc0de}
	raw := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(raw[i*4:], w)
	}
	if got, want := HashWord(words, 0), HashLittle(raw, 0); got != want {
		t.Fatalf("HashWord = 0x%08x, HashLittle = 0x%08x, want equal on aligned input", got, want)
	}
}

func BenchmarkHashLittleShort(b *testing.B) {
	key := []byte("benchmark-candidate")
	for i := 0; i < b.N; i++ {
		Hash(key)
	}
}
