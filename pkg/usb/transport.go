// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

// Package usb provides the gousb-backed transport the DFU engine drives,
// plus discovery and selection of DFU-capable devices.
package usb

import (
	"fmt"

	"github.com/google/gousb"

	"dfutool/pkg/dfu"
)

// Standard request codes and bmRequestType values used outside the DFU
// class protocol.
const (
	reqGetDescriptor = 0x06
	reqGetInterface  = 0x0a
	reqSetInterface  = 0x0b

	requestTypeStandardIn  = 0x81 // device to host, standard, interface
	requestTypeStandardOut = 0x01 // host to device, standard, interface

	descriptorTypeConfig = 0x02
)

// Interface is one claimed DFU interface on an open USB device. It
// implements dfu.Transport.
type Interface struct {
	dev      *gousb.Device
	ifaceNum int
	// altNames maps each alternate setting to its iInterface string
	// descriptor index.
	altNames map[int]int
	open     bool
}

var _ dfu.Transport = (*Interface)(nil)

// Control performs a control transfer, folding gousb failures into the
// engine's transfer-error kind.
func (i *Interface) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	if !i.open {
		return 0, dfu.ErrClosed
	}
	n, err := i.dev.Control(requestType, request, value, index, data)
	if err != nil {
		return n, fmt.Errorf("%w: %v", dfu.ErrTransfer, err)
	}
	return n, nil
}

// InterfaceNumber returns the DFU interface number.
func (i *Interface) InterfaceNumber() int {
	return i.ifaceNum
}

// SetAltSetting selects an alternate setting with a standard
// SET_INTERFACE request. The DFU interface has no endpoints, so no
// claimed handle needs rebuilding.
func (i *Interface) SetAltSetting(alt int) error {
	if !i.open {
		return dfu.ErrClosed
	}
	_, err := i.dev.Control(requestTypeStandardOut, reqSetInterface,
		uint16(alt), uint16(i.ifaceNum), nil)
	if err != nil {
		return fmt.Errorf("%w: SET_INTERFACE(%d): %v", dfu.ErrTransfer, alt, err)
	}
	return nil
}

// AltSetting queries the active alternate setting with GET_INTERFACE;
// libusb has no cached native query for it.
func (i *Interface) AltSetting() (int, error) {
	if !i.open {
		return 0, dfu.ErrClosed
	}
	buf := make([]byte, 1)
	n, err := i.dev.Control(requestTypeStandardIn, reqGetInterface,
		0, uint16(i.ifaceNum), buf)
	if err != nil || n != 1 {
		return 0, fmt.Errorf("%w: GET_INTERFACE: %v", dfu.ErrTransfer, err)
	}
	return int(buf[0]), nil
}

// AltName fetches the string descriptor attached to an alternate
// setting. DfuSe devices encode the target memory layout here.
func (i *Interface) AltName(alt int) (string, error) {
	idx, ok := i.altNames[alt]
	if !ok || idx == 0 {
		return "", fmt.Errorf("alternate setting %d carries no string descriptor", alt)
	}
	return i.StringDescriptor(idx)
}

// AltSettings returns the alternate settings the DFU interface offers,
// in ascending order.
func (i *Interface) AltSettings() []int {
	alts := make([]int, 0, len(i.altNames))
	for alt := range i.altNames {
		alts = append(alts, alt)
	}
	for a := 1; a < len(alts); a++ {
		for b := a; b > 0 && alts[b] < alts[b-1]; b-- {
			alts[b], alts[b-1] = alts[b-1], alts[b]
		}
	}
	return alts
}

// StringDescriptor fetches a string descriptor with trailing NULs
// trimmed.
func (i *Interface) StringDescriptor(index int) (string, error) {
	if !i.open {
		return "", dfu.ErrClosed
	}
	s, err := i.dev.GetStringDescriptor(index)
	if err != nil {
		return "", fmt.Errorf("%w: string descriptor %d: %v", dfu.ErrTransfer, index, err)
	}
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s, nil
}

// BusReset resets the device's port, forcing re-enumeration.
func (i *Interface) BusReset() error {
	if !i.open {
		return dfu.ErrClosed
	}
	if err := i.dev.Reset(); err != nil {
		return fmt.Errorf("%w: %v", dfu.ErrTransfer, err)
	}
	return nil
}

// Close releases the device handle. Closing twice is harmless.
func (i *Interface) Close() error {
	if !i.open {
		return nil
	}
	i.open = false
	return i.dev.Close()
}

// IsOpen reports whether the handle is still usable.
func (i *Interface) IsOpen() bool {
	return i.open
}
