// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

// Package fwfile decodes firmware image files: the DFU/DfuSe container,
// Intel HEX, Motorola S-record and raw binaries. Every decoder produces
// the same address-keyed memory model from pkg/memmap.
package fwfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dfutool/pkg/memmap"
)

// RawAddressSentinel is the start address given to the single segment of
// a plain DFU 1.1 image, whose payload is position-independent as far as
// the protocol is concerned.
const RawAddressSentinel = 0xffffffff

// Image is one downloadable memory image bound to a DFU alt setting.
type Image struct {
	AltSetting uint8
	Memory     *memmap.NamedMemory
}

// File is a decoded firmware file: one or more images, plus the DFU
// suffix when the source file carried one.
type File struct {
	Suffix *Suffix
	Images []Image
}

// DfuSe reports whether the file came from a DfuSe 1.1a container and so
// carries per-target addressed images.
func (f *File) DfuSe() bool {
	return f.Suffix != nil && f.Suffix.BcdDFU == VersionDfuSe
}

// ParseDFU decodes a .dfu file: suffix first, then either the DfuSe
// container or a single raw image depending on the suffix version.
func ParseDFU(data []byte) (*File, error) {
	suffix, payload, err := ParseSuffix(data)
	if err != nil {
		return nil, err
	}

	switch suffix.BcdDFU {
	case VersionDFU10, VersionDFU11:
		img, err := rawImage(payload, RawAddressSentinel)
		if err != nil {
			return nil, err
		}
		return &File{Suffix: &suffix, Images: []Image{img}}, nil
	case VersionDfuSe:
		images, err := parseDfuSe(payload)
		if err != nil {
			return nil, err
		}
		return &File{Suffix: &suffix, Images: images}, nil
	default:
		return nil, fmt.Errorf("%w: bcdDFU %#04x", ErrUnsupportedVersion, suffix.BcdDFU)
	}
}

// rawImage wraps a flat byte payload in a single-segment image at alt
// setting 0.
func rawImage(payload []byte, base uint64) (Image, error) {
	mem := &memmap.NamedMemory{}
	seg, err := memmap.NewSegment(base, append([]byte(nil), payload...))
	if err != nil {
		return Image{}, fmt.Errorf("%w: empty firmware payload", ErrBadFormat)
	}
	mem.TryAdd(seg)
	return Image{AltSetting: 0, Memory: mem}, nil
}

// LoadFile reads and decodes path, choosing the decoder by file
// extension. Unrecognized extensions are treated as raw binaries based at
// binBase.
func LoadFile(path string, binBase uint64) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".dfu":
		return ParseDFU(data)
	case ".hex", ".ihex", ".ihx":
		mem, err := ParseIHex(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return memoryFile(mem)
	case ".srec", ".s19", ".s28", ".s37", ".mot":
		mem, err := ParseSRec(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return memoryFile(mem)
	default:
		img, err := rawImage(data, binBase)
		if err != nil {
			return nil, err
		}
		return &File{Images: []Image{img}}, nil
	}
}

// memoryFile binds a parsed RawMemory to alt setting 0.
func memoryFile(mem *memmap.RawMemory) (*File, error) {
	if mem.Empty() {
		return nil, fmt.Errorf("%w: image holds no data", ErrBadFormat)
	}
	named := &memmap.NamedMemory{RawMemory: *mem}
	return &File{Images: []Image{{AltSetting: 0, Memory: named}}}, nil
}
