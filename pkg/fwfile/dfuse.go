// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package fwfile

import (
	"bytes"
	"fmt"

	"dfutool/pkg/memmap"
	"dfutool/pkg/wire"
)

var (
	dfusePrefixSignature = []byte("DfuSe")
	dfuseTargetSignature = []byte("Target")
)

// dfuseTargetName is the fixed size of the NUL-padded target name field.
const dfuseTargetName = 255

// parseDfuSe decodes a DfuSe 1.1a container (the payload between the
// prefix and the DFU suffix) into one named image per target, in the
// order the file declares them.
func parseDfuSe(payload []byte) ([]Image, error) {
	r := wire.NewReader(payload)

	sig := r.Bytes(len(dfusePrefixSignature))
	version := r.U8()
	imageSize := r.U32()
	targets := r.U8()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: truncated DfuSe prefix", ErrBadFormat)
	}
	if !bytes.Equal(sig, dfusePrefixSignature) {
		return nil, fmt.Errorf("%w: DfuSe prefix signature %q", ErrBadFormat, sig)
	}
	if version != 1 {
		return nil, fmt.Errorf("%w: DfuSe prefix version %d", ErrBadFormat, version)
	}
	if int(imageSize) != len(payload) {
		return nil, fmt.Errorf("%w: DfuSe image size %d, payload is %d bytes",
			ErrBadFormat, imageSize, len(payload))
	}

	images := make([]Image, 0, targets)
	for t := 0; t < int(targets); t++ {
		img, err := parseTarget(r)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", t, err)
		}
		images = append(images, img)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after last target", ErrBadFormat, r.Remaining())
	}
	return images, nil
}

// parseTarget decodes one "Target" prefix and its elements.
func parseTarget(r *wire.Reader) (Image, error) {
	sig := r.Bytes(len(dfuseTargetSignature))
	alt := r.U8()
	named := r.U32()
	nameBytes := r.Bytes(dfuseTargetName)
	targetSize := r.U32()
	elements := r.U32()
	if err := r.Err(); err != nil {
		return Image{}, fmt.Errorf("%w: truncated target prefix", ErrBadFormat)
	}
	if !bytes.Equal(sig, dfuseTargetSignature) {
		return Image{}, fmt.Errorf("%w: target signature %q", ErrBadFormat, sig)
	}

	var name string
	if named != 0 {
		if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
			name = string(nameBytes[:i])
		} else {
			name = string(nameBytes)
		}
	}

	img := Image{
		AltSetting: alt,
		Memory:     &memmap.NamedMemory{Name: name},
	}
	begin := r.Offset()
	for e := 0; e < int(elements); e++ {
		addr := r.U32()
		size := r.U32()
		data := r.Bytes(int(size))
		if err := r.Err(); err != nil {
			return Image{}, fmt.Errorf("%w: truncated element %d", ErrBadFormat, e)
		}
		seg, err := memmap.NewSegment(uint64(addr), append([]byte(nil), data...))
		if err != nil {
			return Image{}, fmt.Errorf("%w: element %d: %v", ErrBadFormat, e, err)
		}
		if !img.Memory.TryAdd(seg) {
			return Image{}, fmt.Errorf("%w: element %d at %#x", ErrOverlap, e, addr)
		}
	}
	if got := r.Offset() - begin; got != int(targetSize) {
		return Image{}, fmt.Errorf("%w: target size %d, elements span %d bytes",
			ErrBadFormat, targetSize, got)
	}
	return img, nil
}
