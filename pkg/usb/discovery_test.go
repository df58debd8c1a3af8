// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package usb

import (
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dfutool/pkg/wire"
)

// configBlob assembles a raw configuration descriptor from its parts.
func configBlob(parts ...[]byte) []byte {
	body := wire.NewWriter(0)
	for _, p := range parts {
		body.PutBytes(p)
	}

	w := wire.NewWriter(0)
	w.PutU8(9)    // bLength
	w.PutU8(0x02) // bDescriptorType: configuration
	w.PutU16(uint16(9 + body.Len()))
	w.PutU8(1) // bNumInterfaces
	w.PutU8(1) // bConfigurationValue
	w.PutU8(0) // iConfiguration
	w.PutU8(0x80)
	w.PutU8(50)
	w.PutBytes(body.Bytes())
	return w.Bytes()
}

func ifaceDesc(num, alt, class, subClass, protocol, iString uint8) []byte {
	return []byte{9, 0x04, num, alt, 0, class, subClass, protocol, iString}
}

func functionalDesc(attrs uint8) []byte {
	return []byte{9, 0x21, attrs, 0xe8, 0x03, 0x00, 0x04, 0x1a, 0x01}
}

func TestScanConfigFindsDfuInterface(t *testing.T) {
	raw := configBlob(
		ifaceDesc(0, 0, 0x03, 0x00, 0x00, 0), // HID, not ours
		ifaceDesc(1, 0, 0xfe, 0x01, 0x02, 4), // DFU mode, alt 0
		ifaceDesc(1, 1, 0xfe, 0x01, 0x02, 5), // DFU mode, alt 1
		functionalDesc(0x0b),
	)

	iface, fd, found, err := scanConfig(nil, raw)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, 1, iface.ifaceNum)
	assert.Equal(t, map[int]int{0: 4, 1: 5}, iface.altNames)
	assert.Equal(t, []int{0, 1}, iface.AltSettings())
	assert.Equal(t, uint16(1000), fd.DetachTimeout)
	assert.Equal(t, uint16(0x0400), fd.TransferSize)
	assert.True(t, fd.DfuSe())
}

func TestScanConfigNoDfuInterface(t *testing.T) {
	raw := configBlob(ifaceDesc(0, 0, 0x03, 0x00, 0x00, 0))

	_, _, found, err := scanConfig(nil, raw)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestScanConfigRequiresExactlyOneFunctional(t *testing.T) {
	none := configBlob(ifaceDesc(0, 0, 0xfe, 0x01, 0x02, 0))
	_, _, _, err := scanConfig(nil, none)
	assert.Error(t, err)

	two := configBlob(
		ifaceDesc(0, 0, 0xfe, 0x01, 0x02, 0),
		functionalDesc(0x0b),
		functionalDesc(0x0b),
	)
	_, _, _, err = scanConfig(nil, two)
	assert.Error(t, err)
}

func TestScanConfigIgnoresForeignFunctional(t *testing.T) {
	// A 0x21-type descriptor attached to a non-DFU interface (e.g. HID)
	// must not be taken for the DFU functional descriptor.
	raw := configBlob(
		ifaceDesc(0, 0, 0x03, 0x00, 0x00, 0),
		[]byte{9, 0x21, 0x11, 0x01, 0x00, 0x01, 0x22, 0x3f, 0x00}, // HID descriptor
		ifaceDesc(1, 0, 0xfe, 0x01, 0x01, 0),
		functionalDesc(0x0d),
	)

	iface, fd, found, err := scanConfig(nil, raw)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, iface.ifaceNum)
	assert.Equal(t, uint8(0x0d), uint8(fd.Attributes))
}

func TestScanConfigMalformed(t *testing.T) {
	raw := configBlob(ifaceDesc(0, 0, 0xfe, 0x01, 0x02, 0))
	raw = append(raw, 0xff, 0x04) // descriptor running past the buffer

	_, _, _, err := scanConfig(nil, raw)
	assert.Error(t, err)
}

func TestHasDfuInterface(t *testing.T) {
	dfuDesc := &gousb.DeviceDesc{
		Configs: map[int]gousb.ConfigDesc{
			1: {Interfaces: []gousb.InterfaceDesc{{
				AltSettings: []gousb.InterfaceSetting{{
					Class:    gousb.Class(0xfe),
					SubClass: gousb.Class(0x01),
					Protocol: gousb.Protocol(0x02),
				}},
			}}},
		},
	}
	assert.True(t, hasDfuInterface(dfuDesc))

	hidDesc := &gousb.DeviceDesc{
		Configs: map[int]gousb.ConfigDesc{
			1: {Interfaces: []gousb.InterfaceDesc{{
				AltSettings: []gousb.InterfaceSetting{{
					Class:    gousb.Class(0x03),
					SubClass: gousb.Class(0x00),
					Protocol: gousb.Protocol(0x00),
				}},
			}}},
		},
	}
	assert.False(t, hasDfuInterface(hidDesc))
}
