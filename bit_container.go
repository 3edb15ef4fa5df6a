// bit_container.go - Fixed-width unsigned value box
//
// BitContainer is the storage cell behind every register and every physical
// address. It holds an unsigned value masked to size*8 bits and exposes the
// value split into a low half and a high half.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"github.com/pkg/errors"
)

// maxContainerSize is the native word width in bytes.
const maxContainerSize = 8

type BitContainer struct {
	size  int
	value uint64
}

// NewBitContainer creates a container of size bytes holding value.
func NewBitContainer(size int, value uint64) (*BitContainer, error) {
	if size < 1 || size > maxContainerSize {
		return nil, errors.Wrapf(ErrConfiguration, "container width %d bytes not in 1..%d", size, maxContainerSize)
	}
	b := &BitContainer{size: size}
	b.SetData(value)
	return b, nil
}

// newFixedContainer is used for the compile-time widths of the register file.
func newFixedContainer(size int) BitContainer {
	if size < 1 || size > maxContainerSize {
		panic(errors.Wrapf(ErrConfiguration, "container width %d bytes", size))
	}
	return BitContainer{size: size}
}

func (b *BitContainer) mask() uint64 {
	if b.size == maxContainerSize {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * uint(b.size))) - 1
}

func (b *BitContainer) halfBits() uint {
	return uint(b.size) * 4
}

func (b *BitContainer) lowMask() uint64 {
	return (uint64(1) << b.halfBits()) - 1
}

// Size returns the width in bytes.
func (b *BitContainer) Size() int {
	return b.size
}

// SetData overwrites the value, masked to the container width.
func (b *BitContainer) SetData(v uint64) {
	b.value = v & b.mask()
}

// SetBytes overwrites the value from a little-endian byte sequence. Bytes
// beyond the container width are ignored.
func (b *BitContainer) SetBytes(data []byte) {
	var v uint64
	n := len(data)
	if n > b.size {
		n = b.size
	}
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(data[i])
	}
	b.SetData(v)
}

// Add adds i and wraps silently at the container width.
func (b *BitContainer) Add(i int64) {
	b.SetData(b.value + uint64(i))
}

// Int returns the whole value.
func (b *BitContainer) Int() uint64 {
	return b.value
}

// Low returns the low half.
func (b *BitContainer) Low() uint64 {
	return b.value & b.lowMask()
}

// High returns the high half shifted down.
func (b *BitContainer) High() uint64 {
	return b.value >> b.halfBits()
}

// EffectiveHigh returns the high half left in place, so Low()|EffectiveHigh()
// is always the whole value.
func (b *BitContainer) EffectiveHigh() uint64 {
	return b.value &^ b.lowMask()
}

// Bytes returns the value as size little-endian bytes.
func (b *BitContainer) Bytes() []byte {
	out := make([]byte, b.size)
	v := b.value
	for i := range out {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
