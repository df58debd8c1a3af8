// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package memmap

import (
	"fmt"
	"sort"
	"strings"
)

// RawMemory is an ordered collection of non-overlapping, non-adjacent
// segments sorted by start address. Adding a segment that extends an
// existing one merges instead of inserting, so two mergeable neighbours
// never coexist.
type RawMemory struct {
	segments []*Segment
}

// Segments returns the segments in ascending address order.
func (m *RawMemory) Segments() []*Segment {
	return m.segments
}

// Empty reports whether the memory holds no segments.
func (m *RawMemory) Empty() bool {
	return len(m.segments) == 0
}

// Size returns the total number of bytes across all segments.
func (m *RawMemory) Size() uint64 {
	var n uint64
	for _, s := range m.segments {
		n += uint64(s.Len())
	}
	return n
}

// Start returns the lowest address held. Only valid on non-empty memory.
func (m *RawMemory) Start() uint64 {
	return m.segments[0].Start()
}

// End returns the highest address held. Only valid on non-empty memory.
func (m *RawMemory) End() uint64 {
	return m.segments[len(m.segments)-1].End()
}

// TryAdd inserts seg, merging it into an existing segment when the two are
// exactly adjacent. It reports false when seg overlaps memory already
// held; the collection is unchanged in that case.
func (m *RawMemory) TryAdd(seg *Segment) bool {
	for _, s := range m.segments {
		if s.Overlaps(seg) {
			return false
		}
	}
	for i, s := range m.segments {
		if s.TryMerge(seg) {
			// seg may have closed the gap to the next segment over; fold
			// that neighbour in as well.
			for j, o := range m.segments {
				if j != i && s.TryMerge(o) {
					m.segments = append(m.segments[:j], m.segments[j+1:]...)
					break
				}
			}
			return true
		}
	}
	m.segments = append(m.segments, seg)
	sort.Slice(m.segments, func(i, j int) bool {
		return m.segments[i].Start() < m.segments[j].Start()
	})
	return true
}

func (m *RawMemory) String() string {
	parts := make([]string, len(m.segments))
	for i, s := range m.segments {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

// NamedMemory is a RawMemory carrying a DfuSe target label.
type NamedMemory struct {
	Name string
	RawMemory
}

func (m *NamedMemory) String() string {
	return fmt.Sprintf("%q: %s", m.Name, m.RawMemory.String())
}
