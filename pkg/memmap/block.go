// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package memmap

import "fmt"

// Permissions is the access bit set a device advertises for a block of its
// memory.
type Permissions uint8

const (
	// Readable blocks may be uploaded.
	Readable Permissions = 1 << 0
	// Writeable blocks may be downloaded.
	Writeable Permissions = 1 << 1
	// Eraseable blocks accept the DfuSe erase command.
	Eraseable Permissions = 1 << 2
)

// Can reports whether all permissions in p are granted.
func (p Permissions) Can(want Permissions) bool {
	return p&want == want
}

func (p Permissions) String() string {
	buf := []byte("---")
	if p.Can(Readable) {
		buf[0] = 'r'
	}
	if p.Can(Writeable) {
		buf[1] = 'w'
	}
	if p.Can(Eraseable) {
		buf[2] = 'e'
	}
	return string(buf)
}

// Block is one run of equal-permission device memory.
type Block struct {
	start uint64
	size  uint64
	perms Permissions
}

// NewBlock returns a block of size bytes at start.
func NewBlock(start, size uint64, perms Permissions) Block {
	return Block{start: start, size: size, perms: perms}
}

// Start returns the block's first address.
func (b Block) Start() uint64 {
	return b.start
}

// Size returns the block's length in bytes.
func (b Block) Size() uint64 {
	return b.size
}

// End returns the block's last address.
func (b Block) End() uint64 {
	return b.start + b.size - 1
}

// Permissions returns the block's access bits.
func (b Block) Permissions() Permissions {
	return b.perms
}

// Contains reports whether addr falls within the block.
func (b Block) Contains(addr uint64) bool {
	return addr >= b.start && addr < b.start+b.size
}

// Overlaps reports whether the two blocks share any address, comparing
// half-open extents.
func (b Block) Overlaps(o Block) bool {
	return b.start < o.start+o.size && o.start < b.start+b.size
}

// Less orders blocks by start address.
func (b Block) Less(o Block) bool {
	return b.start < o.start
}

func (b Block) String() string {
	return fmt.Sprintf("[%#x,%#x] %s", b.start, b.End(), b.perms)
}
