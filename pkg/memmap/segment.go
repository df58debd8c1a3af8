// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

// Package memmap models firmware images and device memory maps: contiguous
// byte runs at absolute addresses on the host side, and permissioned block
// layouts on the device side.
package memmap

import (
	"bytes"
	"fmt"
)

// Segment is a contiguous run of bytes anchored at an absolute start
// address. A segment is never empty.
type Segment struct {
	start uint64
	data  []byte
}

// NewSegment returns a segment holding data at start. The segment takes
// ownership of data.
func NewSegment(start uint64, data []byte) (*Segment, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("segment at %#x: empty data", start)
	}
	return &Segment{start: start, data: data}, nil
}

// Start returns the address of the first byte.
func (s *Segment) Start() uint64 {
	return s.start
}

// End returns the address of the last byte.
func (s *Segment) End() uint64 {
	return s.start + uint64(len(s.data)) - 1
}

// Len returns the number of bytes in the segment.
func (s *Segment) Len() int {
	return len(s.data)
}

// Data returns the segment's bytes. The slice is the segment's backing
// store, not a copy.
func (s *Segment) Data() []byte {
	return s.data
}

// Equal reports whether o covers the same addresses with the same bytes.
func (s *Segment) Equal(o *Segment) bool {
	return s.start == o.start && bytes.Equal(s.data, o.data)
}

// Contains reports whether addr falls within the segment.
func (s *Segment) Contains(addr uint64) bool {
	return addr >= s.start && addr <= s.End()
}

// Overlaps reports whether the two segments share at least one address.
// Exact adjacency is not an overlap.
func (s *Segment) Overlaps(o *Segment) bool {
	return s.start <= o.End() && o.start <= s.End()
}

// Extends reports whether s starts immediately after o ends.
func (s *Segment) Extends(o *Segment) bool {
	return s.start == o.End()+1
}

// Set overwrites the byte at addr.
func (s *Segment) Set(addr uint64, b byte) error {
	if !s.Contains(addr) {
		return fmt.Errorf("address %#x outside segment [%#x,%#x]", addr, s.start, s.End())
	}
	s.data[addr-s.start] = b
	return nil
}

// At returns the byte at addr.
func (s *Segment) At(addr uint64) (byte, error) {
	if !s.Contains(addr) {
		return 0, fmt.Errorf("address %#x outside segment [%#x,%#x]", addr, s.start, s.End())
	}
	return s.data[addr-s.start], nil
}

// TryMerge merges o into s when the two are exactly adjacent, appending
// o's bytes when o extends s and prepending them when s extends o. It
// reports whether a merge happened.
func (s *Segment) TryMerge(o *Segment) bool {
	switch {
	case o.Extends(s):
		s.data = append(s.data, o.data...)
	case s.Extends(o):
		merged := make([]byte, 0, len(o.data)+len(s.data))
		merged = append(merged, o.data...)
		merged = append(merged, s.data...)
		s.data = merged
		s.start = o.start
	default:
		return false
	}
	return true
}

func (s *Segment) String() string {
	return fmt.Sprintf("[%#x,%#x] (%d bytes)", s.start, s.End(), len(s.data))
}
