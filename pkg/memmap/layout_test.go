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

func TestBlockOverlaps(t *testing.T) {
	a := NewBlock(0, 10, Readable)

	assert.True(t, a.Overlaps(NewBlock(5, 10, Readable)))
	assert.True(t, a.Overlaps(NewBlock(9, 1, Readable)))
	assert.False(t, a.Overlaps(NewBlock(10, 5, Readable)))
	assert.False(t, a.Overlaps(NewBlock(20, 5, Readable)))
}

func TestBlockContains(t *testing.T) {
	b := NewBlock(0x100, 0x10, Readable)

	assert.True(t, b.Contains(0x100))
	assert.True(t, b.Contains(0x10f))
	assert.False(t, b.Contains(0x110))
	assert.Equal(t, uint64(0x10f), b.End())
}

func TestPermissions(t *testing.T) {
	p := Readable | Eraseable

	assert.True(t, p.Can(Readable))
	assert.False(t, p.Can(Writeable))
	assert.True(t, p.Can(Readable|Eraseable))
	assert.Equal(t, "r-e", p.String())
	assert.Equal(t, "rwe", (Readable | Writeable | Eraseable).String())
	assert.Equal(t, "---", Permissions(0).String())
}

func TestLayoutAppend(t *testing.T) {
	var l Layout

	require.NoError(t, l.Append(NewBlock(0x100, 0x10, Writeable)))
	require.NoError(t, l.Append(NewBlock(0x110, 0x10, Writeable)))

	err := l.Append(NewBlock(0x200, 0x10, Writeable))
	assert.ErrorIs(t, err, ErrLayoutInconsistent)

	assert.Equal(t, uint64(0x100), l.StartAddress())
	assert.Equal(t, uint64(0x11f), l.EndAddress())
	assert.Equal(t, uint64(0x20), l.Size())
	assert.Len(t, l.Blocks(), 2)
}

func TestLayoutContainsAndBlockAt(t *testing.T) {
	var l Layout
	require.NoError(t, l.Append(NewBlock(0x100, 0x10, Writeable)))
	require.NoError(t, l.Append(NewBlock(0x110, 0x20, Writeable)))

	assert.True(t, l.Contains(0x100, 0x12f))
	assert.False(t, l.Contains(0x0ff, 0x12f))
	assert.False(t, l.Contains(0x100, 0x130))

	assert.Equal(t, 0, l.BlockAt(0x10f))
	assert.Equal(t, 1, l.BlockAt(0x110))
	assert.Equal(t, -1, l.BlockAt(0x130))
}
