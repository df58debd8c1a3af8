// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package memmap

import (
	"errors"
	"fmt"
)

// ErrLayoutInconsistent is returned when an appended block would leave a
// gap or overlap in a layout.
var ErrLayoutInconsistent = errors.New("memmap: layout blocks not contiguous")

// Layout is a device memory map: an ordered list of blocks in which each
// block starts exactly where the previous one ends.
type Layout struct {
	blocks []Block
}

// Blocks returns the layout's blocks in address order.
func (l *Layout) Blocks() []Block {
	return l.blocks
}

// Empty reports whether the layout holds no blocks.
func (l *Layout) Empty() bool {
	return len(l.blocks) == 0
}

// StartAddress returns the address of the first block. Only valid on a
// non-empty layout.
func (l *Layout) StartAddress() uint64 {
	return l.blocks[0].Start()
}

// EndAddress returns the last address covered. Only valid on a non-empty
// layout.
func (l *Layout) EndAddress() uint64 {
	return l.blocks[len(l.blocks)-1].End()
}

// Size returns the total number of bytes covered.
func (l *Layout) Size() uint64 {
	var n uint64
	for _, b := range l.blocks {
		n += b.Size()
	}
	return n
}

// Append adds a block to the end of the layout. The first block fixes the
// layout's start address; every later block must start exactly one past
// the current end.
func (l *Layout) Append(b Block) error {
	if len(l.blocks) > 0 && b.Start() != l.EndAddress()+1 {
		return fmt.Errorf("%w: block at %#x, layout ends at %#x",
			ErrLayoutInconsistent, b.Start(), l.EndAddress())
	}
	l.blocks = append(l.blocks, b)
	return nil
}

// Contains reports whether the address range [start,end] lies entirely
// within the layout.
func (l *Layout) Contains(start, end uint64) bool {
	if l.Empty() {
		return false
	}
	return start >= l.StartAddress() && end <= l.EndAddress() && start <= end
}

// BlockAt returns the index of the block containing addr, or -1.
func (l *Layout) BlockAt(addr uint64) int {
	for i, b := range l.blocks {
		if b.Contains(addr) {
			return i
		}
	}
	return -1
}

// NamedLayout is a Layout carrying the DfuSe target name from the
// alt-setting string descriptor.
type NamedLayout struct {
	Name string
	Layout
}
