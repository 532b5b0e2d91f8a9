package models

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CellLength is the byte length of a grid cell identifier.
const CellLength = 32

// Cell is a 256-bit grid cell identifier. The leading 2×precision bits hold
// a Z-order (bit-interleaved) encoding of a latitude index and a longitude
// index, each precision bits wide, latitude bit first in each pair. Trailing
// bits are zero.
type Cell [CellLength]byte

// CellFromGrid interleaves the given latitude and longitude grid indices
// into a cell identifier, left-aligned within the 256-bit value.
func CellFromGrid(latIdx, lonIdx uint64, precision uint) Cell {
	var c Cell
	for k := uint(0); k < precision; k++ {
		shift := precision - 1 - k
		c.setBit(2*k, (latIdx>>shift)&1)
		c.setBit(2*k+1, (lonIdx>>shift)&1)
	}
	return c
}

// Grid reverses CellFromGrid, extracting the latitude and longitude indices
// encoded in the leading 2×precision bits.
func (c Cell) Grid(precision uint) (latIdx, lonIdx uint64) {
	for k := uint(0); k < precision; k++ {
		latIdx = latIdx<<1 | c.bit(2*k)
		lonIdx = lonIdx<<1 | c.bit(2*k+1)
	}
	return latIdx, lonIdx
}

// HasPrefix reports whether the leading 2×precision bits of c and q are
// equal.
func (c Cell) HasPrefix(q Cell, precision uint) bool {
	bits := 2 * precision

	for i := uint(0); i < bits/8; i++ {
		if c[i] != q[i] {
			return false
		}
	}

	if rem := bits % 8; rem != 0 {
		mask := byte(0xff << (8 - rem))
		if c[bits/8]&mask != q[bits/8]&mask {
			return false
		}
	}
	return true
}

func (c *Cell) setBit(pos uint, v uint64) {
	if v == 1 {
		c[pos/8] |= 1 << (7 - pos%8)
	}
}

func (c Cell) bit(pos uint) uint64 {
	return uint64(c[pos/8]>>(7-pos%8)) & 1
}

// Hex returns the cell as a 0x-prefixed hex string.
func (c Cell) Hex() string {
	return hexutil.Encode(c[:])
}

// ParseCell decodes a 0x-prefixed hex string into a cell. Strings shorter
// than 32 bytes are left-aligned, which lets callers write cell prefixes
// such as "0x10".
func ParseCell(s string) (Cell, error) {
	var c Cell

	b, err := hexutil.Decode(s)
	if err != nil {
		return c, errors.New("decoding cell failed").
			WithType(ErrTypeInvalidRecord).
			Wrap(err)
	}
	if len(b) > CellLength {
		return c, errors.New("cell is longer than 32 bytes").
			WithType(ErrTypeInvalidRecord).
			WithTag("length", len(b))
	}

	copy(c[:], b)
	return c, nil
}

func (c Cell) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

func (c *Cell) UnmarshalText(b []byte) error {
	parsed, err := ParseCell(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
