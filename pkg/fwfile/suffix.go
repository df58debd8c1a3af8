// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package fwfile

import (
	"bytes"
	"fmt"
	"hash/crc32"

	"dfutool/pkg/wire"
)

// SuffixLength is the size of the mandatory DFU 1.1 suffix. A file's
// bLength may be larger; the extra bytes precede the fixed tail.
const SuffixLength = 16

// suffixSignature is "DFU" stored reversed, as the suffix is read from
// the end of the file.
var suffixSignature = []byte{'U', 'F', 'D'}

// DFU versions carried in a suffix's bcdDFU field.
const (
	VersionDFU10 = 0x0100
	VersionDFU11 = 0x0110
	VersionDfuSe = 0x011a
)

// Suffix is the 16-byte DFU file suffix appended after the firmware
// payload.
type Suffix struct {
	BcdDevice uint16
	IDProduct uint16
	IDVendor  uint16
	BcdDFU    uint16
	Length    uint8
	CRC       uint32
}

// Checksum computes the DFU suffix CRC over data: reflected IEEE 802.3
// polynomial, initial value 0xFFFFFFFF, no final complement.
func Checksum(data []byte) uint32 {
	return ^crc32.ChecksumIEEE(data)
}

// ParseSuffix validates the suffix at the end of data and returns it
// together with the firmware payload the suffix covers.
func ParseSuffix(data []byte) (Suffix, []byte, error) {
	if len(data) < SuffixLength {
		return Suffix{}, nil, fmt.Errorf("%w: %d bytes is too short for a DFU suffix", ErrBadFormat, len(data))
	}

	r := wire.NewReader(data[len(data)-SuffixLength:])
	s := Suffix{
		BcdDevice: r.U16(),
		IDProduct: r.U16(),
		IDVendor:  r.U16(),
		BcdDFU:    r.U16(),
	}
	sig := r.Bytes(3)
	s.Length = r.U8()
	s.CRC = r.U32()
	if err := r.Err(); err != nil {
		return Suffix{}, nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}

	if !bytes.Equal(sig, suffixSignature) {
		return Suffix{}, nil, fmt.Errorf("%w: suffix signature %q", ErrBadFormat, sig)
	}
	if int(s.Length) < SuffixLength || int(s.Length) > len(data) {
		return Suffix{}, nil, fmt.Errorf("%w: suffix length %d", ErrBadFormat, s.Length)
	}
	if crc := Checksum(data[:len(data)-4]); crc != s.CRC {
		return Suffix{}, nil, fmt.Errorf("%w: computed %#08x, suffix says %#08x", ErrBadCrc, crc, s.CRC)
	}

	return s, data[:len(data)-int(s.Length)], nil
}

// AppendSuffix serializes s after payload, recomputing Length and CRC,
// and returns the complete file image.
func AppendSuffix(payload []byte, s Suffix) []byte {
	w := wire.NewWriter(len(payload) + SuffixLength)
	w.PutBytes(payload)
	w.PutU16(s.BcdDevice)
	w.PutU16(s.IDProduct)
	w.PutU16(s.IDVendor)
	w.PutU16(s.BcdDFU)
	w.PutBytes(suffixSignature)
	w.PutU8(SuffixLength)
	w.PutU32(Checksum(w.Bytes()))
	return w.Bytes()
}
