// Package candidate defines the fixed-layout record exchanged across the
// CPU/GPU boundary.
package candidate

import "encoding/binary"

// WordsSize is the capacity, in bytes, of a candidate's raw text.
// This is a design ceiling: patterns and input lines longer than this
// are rejected rather than truncated.
const WordsSize = 384

// Size is the total wire size of a Record: 4 (CharCount) + 4 (Hash) + 384 (Words).
const Size = 4 + 4 + WordsSize

// Record is the sole data type exchanged between host and device. Both
// sides agree on this exact little-endian layout; the compute shader's
// storage buffer element type must match it field for field.
type Record struct {
	// CharCount is the number of valid bytes in Words.
	CharCount int32

	// Hash is the computed lookup3 hash; zero until the GPU (or the CPU
	// reference path) fills it in.
	Hash uint32

	// Words holds the raw candidate bytes, zero-padded on the right.
	Words [WordsSize]byte
}

// Bytes returns the candidate's valid text as a byte slice view.
func (r *Record) Bytes() []byte {
	return r.Words[:r.CharCount]
}

// SetBytes copies b into Words, zeroing the remainder, and sets CharCount.
// It reports false if b is longer than WordsSize.
func (r *Record) SetBytes(b []byte) bool {
	if len(b) > WordsSize {
		return false
	}
	r.CharCount = int32(len(b))
	n := copy(r.Words[:], b)
	for i := n; i < WordsSize; i++ {
		r.Words[i] = 0
	}
	return true
}

// MarshalTo encodes r into dst, which must be at least Size bytes long.
func (r *Record) MarshalTo(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(r.CharCount))
	binary.LittleEndian.PutUint32(dst[4:8], r.Hash)
	copy(dst[8:8+WordsSize], r.Words[:])
}

// UnmarshalFrom decodes r from src, which must be at least Size bytes long.
func (r *Record) UnmarshalFrom(src []byte) {
	r.CharCount = int32(binary.LittleEndian.Uint32(src[0:4]))
	r.Hash = binary.LittleEndian.Uint32(src[4:8])
	copy(r.Words[:], src[8:8+WordsSize])
}

// EncodeBatch marshals a slice of records into a contiguous byte buffer
// sized len(records)*Size, in order.
func EncodeBatch(records []Record, dst []byte) {
	for i := range records {
		records[i].MarshalTo(dst[i*Size : (i+1)*Size])
	}
}

// DecodeBatch unmarshals a contiguous byte buffer into records, in order.
// len(records) must equal len(src)/Size.
func DecodeBatch(src []byte, records []Record) {
	for i := range records {
		records[i].UnmarshalFrom(src[i*Size : (i+1)*Size])
	}
}
