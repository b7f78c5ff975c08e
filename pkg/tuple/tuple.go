// Package tuple implements the fixed-width block layout shared by every
// algorithm in blockq.
//
// A block is 64 bytes split into 8 slots of 8 bytes. Slots 0 through 6 carry
// data tuples; slot 7 is reserved and always zero. Each tuple field occupies 4
// bytes holding up to 4 ASCII decimal digits, left-aligned and zero-padded.
// Zero encodes as an all-zero field, so the all-zero slot doubles as the empty
// marker and the tuple (0,0) cannot be stored.
package tuple

import "fmt"

const (
	// BlockSize is the size of one disk block in bytes
	BlockSize = 64
	// SlotSize is the size of one tuple slot in bytes
	SlotSize = 8
	// FieldSize is the size of one encoded integer field
	FieldSize = 4
	// SlotsPerBlock is the number of physical slots in a block
	SlotsPerBlock = BlockSize / SlotSize
	// TuplesPerBlock is the number of data slots in a block; the last slot is reserved
	TuplesPerBlock = SlotsPerBlock - 1
	// MaxFieldValue is the exclusive upper bound of an encodable field
	MaxFieldValue = 10000
	// MaxKey is the inclusive upper bound of domain keys
	MaxKey = 999
)

// Sentinel marks an exhausted run in the merge head cache. It sorts after
// every domain tuple.
var Sentinel = Tuple{A: 1000, B: 1000}

// Tuple is an ordered pair of bounded non-negative integers
type Tuple struct {
	A int
	B int
}

// String formats the tuple as (a, b)
func (t Tuple) String() string {
	return fmt.Sprintf("(%d, %d)", t.A, t.B)
}

// IsZero reports whether t is the reserved empty tuple
func (t Tuple) IsZero() bool {
	return t.A == 0 && t.B == 0
}

// DecodeInt reads up to FieldSize ASCII digits, stopping at the first zero byte.
func DecodeInt(b []byte) int {
	v := 0
	for i := 0; i < FieldSize && i < len(b); i++ {
		if b[i] == 0 {
			break
		}
		v = v*10 + int(b[i]-'0')
	}
	return v
}

// EncodeInt writes the minimal decimal form of v left-aligned into b[:FieldSize]
// and zero-fills the rest. v must be in [0, MaxFieldValue).
func EncodeInt(v int, b []byte) {
	var digits [FieldSize]byte
	n := 0
	for x := v; x > 0 && n < FieldSize; x /= 10 {
		digits[n] = byte('0' + x%10)
		n++
	}
	for i := 0; i < FieldSize; i++ {
		if i < n {
			b[i] = digits[n-1-i]
		} else {
			b[i] = 0
		}
	}
}

// Get decodes the tuple stored in the given slot of block
func Get(block []byte, slot int) Tuple {
	off := slot * SlotSize
	return Tuple{
		A: DecodeInt(block[off : off+FieldSize]),
		B: DecodeInt(block[off+FieldSize : off+SlotSize]),
	}
}

// Set encodes t into the given slot of block
func Set(block []byte, slot int, t Tuple) {
	off := slot * SlotSize
	EncodeInt(t.A, block[off:off+FieldSize])
	EncodeInt(t.B, block[off+FieldSize:off+SlotSize])
}

// IsEmpty reports whether every byte of the slot is zero
func IsEmpty(block []byte, slot int) bool {
	off := slot * SlotSize
	for _, c := range block[off : off+SlotSize] {
		if c != 0 {
			return false
		}
	}
	return true
}

// Clear zeroes the whole block
func Clear(block []byte) {
	for i := range block {
		block[i] = 0
	}
}

// Live returns the non-empty data tuples of block in slot order
func Live(block []byte) []Tuple {
	out := make([]Tuple, 0, TuplesPerBlock)
	for i := 0; i < TuplesPerBlock; i++ {
		if IsEmpty(block, i) {
			continue
		}
		out = append(out, Get(block, i))
	}
	return out
}

// Valid reports whether t can be stored as a data tuple
func Valid(t Tuple) bool {
	if t.IsZero() {
		return false
	}
	return t.A >= 0 && t.A < MaxFieldValue && t.B >= 0 && t.B < MaxFieldValue
}
