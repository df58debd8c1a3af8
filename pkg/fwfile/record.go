// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package fwfile

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"dfutool/pkg/memmap"
)

// recordScanner walks a line-oriented image file, tracking the current
// line number for error reporting. Blank lines are skipped.
type recordScanner struct {
	scanner *bufio.Scanner
	line    int
}

func newRecordScanner(r io.Reader) *recordScanner {
	return &recordScanner{scanner: bufio.NewScanner(r)}
}

// next returns the next non-blank line with line endings trimmed.
func (s *recordScanner) next() (string, bool) {
	for s.scanner.Scan() {
		s.line++
		line := strings.TrimRight(s.scanner.Text(), "\r\n \t")
		if line == "" {
			continue
		}
		return line, true
	}
	return "", false
}

// errf builds a BadFormat error tagged with the current line number.
func (s *recordScanner) errf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: line %d: %s", ErrBadFormat, s.line, fmt.Sprintf(format, args...))
}

// checksumErr builds the checksum error for the current line.
func (s *recordScanner) checksumErr() error {
	return &ChecksumError{Line: s.line}
}

// hexField decodes the hex digits of the current line's record body.
func (s *recordScanner) hexField(field string) ([]byte, error) {
	b, err := hex.DecodeString(field)
	if err != nil {
		return nil, s.errf("invalid hex digits")
	}
	return b, nil
}

// segmentAccumulator coalesces consecutive data records into segments,
// flushing into a RawMemory whenever the address stream breaks.
type segmentAccumulator struct {
	mem   *memmap.RawMemory
	start uint64
	data  []byte
}

func newSegmentAccumulator(mem *memmap.RawMemory) *segmentAccumulator {
	return &segmentAccumulator{mem: mem}
}

// add appends b at addr, flushing the pending segment first when addr
// does not continue it.
func (a *segmentAccumulator) add(addr uint64, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if len(a.data) > 0 && addr != a.start+uint64(len(a.data)) {
		if err := a.flush(); err != nil {
			return err
		}
	}
	if len(a.data) == 0 {
		a.start = addr
	}
	a.data = append(a.data, b...)
	return nil
}

// flush moves the pending segment into the memory image.
func (a *segmentAccumulator) flush() error {
	if len(a.data) == 0 {
		return nil
	}
	seg, err := memmap.NewSegment(a.start, a.data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if !a.mem.TryAdd(seg) {
		return fmt.Errorf("%w: segment at %#x", ErrOverlap, a.start)
	}
	a.data = nil
	return nil
}
