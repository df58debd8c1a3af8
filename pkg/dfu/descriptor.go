// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package dfu

import (
	"fmt"

	"dfutool/pkg/wire"
)

// BCD is a binary-coded-decimal version number as carried in USB
// descriptors: major version in the high byte, minor in the low byte.
type BCD uint16

// Major returns the high byte.
func (v BCD) Major() uint8 {
	return uint8(v >> 8)
}

// Minor returns the low byte.
func (v BCD) Minor() uint8 {
	return uint8(v)
}

func (v BCD) String() string {
	return fmt.Sprintf("%x.%02x", v.Major(), v.Minor())
}

// Attributes is the bmAttributes bit set of the DFU functional
// descriptor.
type Attributes uint8

const (
	// CanDownload is set when the device accepts DNLOAD requests.
	CanDownload Attributes = 1 << 0
	// CanUpload is set when the device accepts UPLOAD requests.
	CanUpload Attributes = 1 << 1
	// ManifestationTolerant is set when the device stays on the bus
	// after manifestation instead of re-enumerating on its own.
	ManifestationTolerant Attributes = 1 << 2
	// WillDetach is set when the device generates its own detach-attach
	// sequence after DETACH, without needing a bus reset.
	WillDetach Attributes = 1 << 3
)

// Has reports whether all bits in want are set.
func (a Attributes) Has(want Attributes) bool {
	return a&want == want
}

// FunctionalDescriptorLength is the size of the DFU functional
// descriptor.
const FunctionalDescriptorLength = 9

// functionalDescriptorType is the bDescriptorType of the DFU functional
// descriptor.
const functionalDescriptorType = 0x21

// FunctionalDescriptor is the 9-byte DFU-specific descriptor attached to
// the DFU interface, advertising capabilities and timing parameters.
type FunctionalDescriptor struct {
	Attributes    Attributes
	DetachTimeout uint16 // milliseconds
	TransferSize  uint16 // max bytes per DNLOAD/UPLOAD transaction
	DFUVersion    BCD
}

// ParseFunctionalDescriptor decodes and validates the 9-byte functional
// descriptor.
func ParseFunctionalDescriptor(buf []byte) (FunctionalDescriptor, error) {
	r := wire.NewReader(buf)
	length := r.U8()
	typ := r.U8()
	d := FunctionalDescriptor{
		Attributes:    Attributes(r.U8()),
		DetachTimeout: r.U16(),
		TransferSize:  r.U16(),
		DFUVersion:    BCD(r.U16()),
	}
	if err := r.Err(); err != nil {
		return FunctionalDescriptor{}, fmt.Errorf("functional descriptor: %w", err)
	}
	if length != FunctionalDescriptorLength {
		return FunctionalDescriptor{}, fmt.Errorf("functional descriptor length %d, want %d",
			length, FunctionalDescriptorLength)
	}
	if typ != functionalDescriptorType {
		return FunctionalDescriptor{}, fmt.Errorf("functional descriptor type %#02x, want %#02x",
			typ, functionalDescriptorType)
	}
	return d, nil
}

// DfuSe reports whether the device speaks the STMicroelectronics 1.1a
// extension.
func (d FunctionalDescriptor) DfuSe() bool {
	return d.DFUVersion == 0x011a
}

// CheckVersion refuses devices speaking neither DFU 1.0/1.1 nor the
// DfuSe 1.1a extension.
func (d FunctionalDescriptor) CheckVersion() error {
	switch d.DFUVersion {
	case 0x0100, 0x0110, 0x011a:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedVersion, d.DFUVersion)
}

// Identification is the tuple a host uses to match a firmware file
// against a device.
type Identification struct {
	VendorID       uint16
	ProductID      uint16
	ProductVersion BCD // bcdDevice
	DFUVersion     BCD
}

func (id Identification) String() string {
	return fmt.Sprintf("%04x:%04x rev %s (DFU %s)",
		id.VendorID, id.ProductID, id.ProductVersion, id.DFUVersion)
}
