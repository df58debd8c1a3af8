// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package memmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawMemoryMergeBothSides(t *testing.T) {
	var m RawMemory

	require.True(t, m.TryAdd(seg(t, 0x10, 1, 2)))
	require.True(t, m.TryAdd(seg(t, 0x12, 3)))    // appends
	require.True(t, m.TryAdd(seg(t, 0x0e, 9, 8))) // prepends

	require.Len(t, m.Segments(), 1)
	s := m.Segments()[0]
	assert.Equal(t, uint64(0x0e), s.Start())
	assert.Equal(t, []byte{9, 8, 1, 2, 3}, s.Data())
	assert.Equal(t, uint64(5), m.Size())
}

func TestRawMemoryRejectsOverlap(t *testing.T) {
	var m RawMemory

	require.True(t, m.TryAdd(seg(t, 0x100, 1, 2, 3, 4)))
	assert.False(t, m.TryAdd(seg(t, 0x102, 9)))
	assert.False(t, m.TryAdd(seg(t, 0x0fe, 9, 9, 9)))
	require.Len(t, m.Segments(), 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, m.Segments()[0].Data())
}

func TestRawMemorySortedInsert(t *testing.T) {
	var m RawMemory

	require.True(t, m.TryAdd(seg(t, 0x300, 3)))
	require.True(t, m.TryAdd(seg(t, 0x100, 1)))
	require.True(t, m.TryAdd(seg(t, 0x200, 2)))

	starts := []uint64{}
	for _, s := range m.Segments() {
		starts = append(starts, s.Start())
	}
	assert.Equal(t, []uint64{0x100, 0x200, 0x300}, starts)
	assert.Equal(t, uint64(0x100), m.Start())
	assert.Equal(t, uint64(0x300), m.End())
}

// After any sequence of adds, no two segments overlap, extend one another,
// or appear out of order.
func TestRawMemoryInvariants(t *testing.T) {
	var m RawMemory

	adds := []*Segment{
		seg(t, 0x20, 1, 2, 3, 4),
		seg(t, 0x10, 5, 6),
		seg(t, 0x24, 7),     // merges after the first
		seg(t, 0x0e, 8, 9),  // merges before the second
		seg(t, 0x40, 1),    // isolated
		seg(t, 0x10, 0xbb), // overlap, rejected
	}
	for _, s := range adds {
		m.TryAdd(s)
	}

	segs := m.Segments()
	for i, a := range segs {
		for j, b := range segs {
			if i == j {
				continue
			}
			assert.False(t, a.Overlaps(b), "%v overlaps %v", a, b)
			assert.False(t, a.Extends(b), "%v extends %v", a, b)
		}
		if i > 0 {
			assert.Less(t, segs[i-1].Start(), a.Start())
		}
	}
}

func TestNamedMemory(t *testing.T) {
	m := NamedMemory{Name: "Internal Flash"}
	require.True(t, m.TryAdd(seg(t, 0x08000000, 1, 2, 3)))
	assert.Contains(t, m.String(), "Internal Flash")
	assert.Equal(t, uint64(3), m.Size())
}
