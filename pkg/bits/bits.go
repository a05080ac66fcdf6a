package bits

import "fmt"

// BitField is a set of piece indices. The first byte
// corresponds to indices 0 - 7 from high bit to low bit,
// the next one 8 - 15, and so on.
type BitField []byte

func (b BitField) Bytes() []byte {
	return []byte(b)
}

// Count returns the total number of set (1) bits
func (b BitField) Count() int {
	var sum int
	for _, v := range b {
		for i := 0; i < 8; i++ {
			bitMask := byte(128 >> i)
			if (v & bitMask) == bitMask {
				sum++
			}
		}
	}

	return sum
}

// Indices returns the indices of the set bits in ascending
// order
//
// Example:
// BitField{0b11000000}.Indices() -> []int{0, 1}
// BitField{128, 128}.Indices() -> []int{0, 8}
func (b BitField) Indices() []int {
	var out []int
	for offset, v := range b {
		for i := 0; i < 8; i++ {
			bitMask := byte(128 >> i)
			if (v & bitMask) == bitMask {
				out = append(out, offset*8+i)
			}
		}
	}

	return out
}

func (b BitField) Get(index int) bool {
	var (
		offset     = index / 8
		localIndex = index % 8
		bitMask    = byte(128 >> localIndex)
	)

	if index < 0 || offset >= len(b) {
		return false
	}

	return (b[offset] & bitMask) == bitMask
}

func (b BitField) Set(index int) error {
	var (
		offset     = index / 8
		localIndex = index % 8
		bitMask    = byte(128 >> localIndex)
	)

	if index < 0 || offset >= len(b) {
		return fmt.Errorf("index %d out of bounds", index)
	}

	b[offset] |= bitMask

	return nil
}

func (b BitField) Unset(index int) error {
	var (
		offset     = index / 8
		localIndex = index % 8
		bitMask    = byte(128 >> localIndex)
	)

	if index < 0 || offset >= len(b) {
		return fmt.Errorf("index %d out of bounds", index)
	}

	b[offset] &^= bitMask
	return nil
}

// Len returns the number of bits in the bitfield
func (b BitField) Len() int {
	return len(b) * 8
}

// Ones returns an n-length bitfield with all bits set to 1
func Ones(n int) BitField {
	bf := NewBitField(n)
	for i := 0; i < n; i++ {
		bf.Set(i)
	}

	return bf
}

func NewBitField(bits int) BitField {
	if bits%8 == 0 {
		return make([]byte, bits/8)
	}

	return make([]byte, bits/8+1)
}
