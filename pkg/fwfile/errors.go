// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package fwfile

import (
	"errors"
	"fmt"
)

var (
	// ErrBadFormat is returned when a file's signature, length or
	// structure is invalid.
	ErrBadFormat = errors.New("fwfile: bad file format")

	// ErrBadCrc is returned when the DFU suffix CRC does not match the
	// file contents.
	ErrBadCrc = errors.New("fwfile: suffix CRC mismatch")

	// ErrOverlap is returned when two image segments cover the same
	// address.
	ErrOverlap = errors.New("fwfile: image segments overlap")

	// ErrUnsupportedVersion is returned for a DFU suffix whose bcdDFU is
	// neither 1.0/1.1 nor the DfuSe 1.1a extension.
	ErrUnsupportedVersion = errors.New("fwfile: unsupported DFU version")
)

// ChecksumError reports a per-line checksum mismatch in a text image
// format.
type ChecksumError struct {
	Line int
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("fwfile: checksum mismatch on line %d", e.Line)
}
