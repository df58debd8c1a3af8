// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package usb

import (
	"errors"
	"fmt"

	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"

	"dfutool/pkg/dfu"
	"dfutool/pkg/log"
	"dfutool/pkg/wire"
)

// DFU interfaces are application-class, subclass 1, protocol 1 (runtime)
// or 2 (DFU mode).
const (
	dfuInterfaceClass    = 0xfe
	dfuInterfaceSubClass = 0x01
	dfuProtocolRuntime   = 0x01
	dfuProtocolDFU       = 0x02
)

// ErrNoDfuInterface is returned when a matching device exposes no DFU
// interface.
var ErrNoDfuInterface = errors.New("usb: device has no DFU interface")

// DeviceNotFoundError is returned when no device matches the requested
// identifiers.
type DeviceNotFoundError struct {
	VID, PID uint16
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("usb: no device matching %04x:%04x", e.VID, e.PID)
}

// Device is an opened DFU-capable device: the transport plus everything
// the engine needs to know about it.
type Device struct {
	Transport  *Interface
	Functional dfu.FunctionalDescriptor
	Ident      dfu.Identification
	Product    string
}

// Open finds and opens the DFU device matching vid:pid. When no device
// matches both identifiers, matching falls back to the vendor id alone,
// because a device already in DFU mode commonly reports a different
// product id. With several matches the first wins and the rest are
// closed.
func Open(ctx *gousb.Context, vid, pid uint16) (*Device, error) {
	devs, err := openMatching(ctx, func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vid && uint16(desc.Product) == pid
	})
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		devs, err = openMatching(ctx, func(desc *gousb.DeviceDesc) bool {
			return uint16(desc.Vendor) == vid
		})
		if err != nil {
			return nil, err
		}
	}
	if len(devs) == 0 {
		return nil, &DeviceNotFoundError{VID: vid, PID: pid}
	}

	selected, err := fromRaw(devs[0])

	var closeErrs error
	for _, dev := range devs[1:] {
		if cerr := dev.Close(); cerr != nil {
			closeErrs = multierror.Append(closeErrs, cerr)
		}
	}
	if closeErrs != nil {
		log.Warnf("closing surplus devices: %v", closeErrs)
	}

	if err != nil {
		// fromRaw already released the failed device.
		return nil, err
	}
	return selected, nil
}

// hasDfuInterface checks the parsed descriptor tree for a DFU interface
// without opening the device.
func hasDfuInterface(desc *gousb.DeviceDesc) bool {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if uint8(alt.Class) == dfuInterfaceClass &&
					uint8(alt.SubClass) == dfuInterfaceSubClass &&
					(uint8(alt.Protocol) == dfuProtocolRuntime || uint8(alt.Protocol) == dfuProtocolDFU) {
					return true
				}
			}
		}
	}
	return false
}

// List opens every DFU-capable device on the bus. The caller owns the
// returned transports and must close them.
func List(ctx *gousb.Context) ([]*Device, error) {
	raw, err := openMatching(ctx, hasDfuInterface)
	if err != nil {
		return nil, err
	}
	var devices []*Device
	for _, dev := range raw {
		d, err := fromRaw(dev)
		if err != nil {
			log.Warnf("skipping %s: %v", dev.Desc, err)
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// openMatching opens every device the match function accepts.
func openMatching(ctx *gousb.Context, match func(*gousb.DeviceDesc) bool) ([]*gousb.Device, error) {
	devs, err := ctx.OpenDevices(match)
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("usb: enumerating devices: %w", err)
	}
	if err != nil {
		// Some devices opened; the rest are likely permission failures.
		log.Warnf("opening some devices failed: %v", err)
	}
	return devs, nil
}

// fromRaw locates the DFU interface on an open device and assembles the
// transport around it.
func fromRaw(dev *gousb.Device) (*Device, error) {
	if err := dev.SetAutoDetach(true); err != nil {
		log.Debugf("auto-detach not available: %v", err)
	}

	iface, fd, err := findDfuInterface(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}

	product, err := dev.Product()
	if err != nil {
		product = ""
	}

	desc := dev.Desc
	return &Device{
		Transport:  iface,
		Functional: fd,
		Ident: dfu.Identification{
			VendorID:       uint16(desc.Vendor),
			ProductID:      uint16(desc.Product),
			ProductVersion: dfu.BCD(desc.Device),
			DFUVersion:     fd.DFUVersion,
		},
		Product: product,
	}, nil
}

// findDfuInterface scans the device's configurations for a DFU interface
// with its attached functional descriptor.
func findDfuInterface(dev *gousb.Device) (*Interface, dfu.FunctionalDescriptor, error) {
	for cfgIndex := 0; cfgIndex < len(dev.Desc.Configs); cfgIndex++ {
		raw, err := readConfigDescriptor(dev, cfgIndex)
		if err != nil {
			return nil, dfu.FunctionalDescriptor{}, err
		}
		iface, fd, found, err := scanConfig(dev, raw)
		if err != nil {
			return nil, dfu.FunctionalDescriptor{}, err
		}
		if found {
			return iface, fd, nil
		}
	}
	return nil, dfu.FunctionalDescriptor{}, ErrNoDfuInterface
}

// readConfigDescriptor fetches the raw configuration descriptor, header
// first to size the full read. gousb does not surface the
// class-specific descriptors libusb attaches to interfaces, so the scan
// works on the wire bytes.
func readConfigDescriptor(dev *gousb.Device, index int) ([]byte, error) {
	header := make([]byte, 9)
	if _, err := getDescriptor(dev, index, header); err != nil {
		return nil, err
	}
	r := wire.NewReader(header)
	r.Skip(2)
	total := int(r.U16())
	if err := r.Err(); err != nil || total < len(header) {
		return nil, fmt.Errorf("usb: malformed configuration descriptor header")
	}

	full := make([]byte, total)
	n, err := getDescriptor(dev, index, full)
	if err != nil {
		return nil, err
	}
	return full[:n], nil
}

func getDescriptor(dev *gousb.Device, index int, buf []byte) (int, error) {
	n, err := dev.Control(0x80, reqGetDescriptor,
		descriptorTypeConfig<<8|uint16(index), 0, buf)
	if err != nil {
		return 0, fmt.Errorf("usb: reading configuration descriptor %d: %w", index, err)
	}
	return n, nil
}

// scanConfig walks the concatenated descriptors of one configuration,
// looking for a DFU interface. Every alternate setting of that interface
// is recorded with its string index; the single attached 9-byte
// functional descriptor is decoded.
func scanConfig(dev *gousb.Device, raw []byte) (*Interface, dfu.FunctionalDescriptor, bool, error) {
	const (
		descriptorTypeInterface  = 0x04
		descriptorTypeFunctional = 0x21
	)

	var (
		fd       dfu.FunctionalDescriptor
		fdCount  int
		ifaceNum = -1
		inDfu    bool
		altNames = map[int]int{}
	)

	for off := 0; off+2 <= len(raw); {
		length := int(raw[off])
		typ := raw[off+1]
		if length < 2 || off+length > len(raw) {
			return nil, fd, false, fmt.Errorf("usb: malformed descriptor at offset %d", off)
		}
		body := raw[off : off+length]

		switch typ {
		case descriptorTypeInterface:
			r := wire.NewReader(body)
			r.Skip(2)
			num := int(r.U8())
			alt := int(r.U8())
			r.Skip(1) // bNumEndpoints
			class := r.U8()
			subClass := r.U8()
			protocol := r.U8()
			iString := int(r.U8())
			if r.Err() != nil {
				return nil, fd, false, fmt.Errorf("usb: short interface descriptor")
			}

			isDfu := class == dfuInterfaceClass && subClass == dfuInterfaceSubClass &&
				(protocol == dfuProtocolRuntime || protocol == dfuProtocolDFU)
			if isDfu && (ifaceNum == -1 || ifaceNum == num) {
				ifaceNum = num
				inDfu = true
				altNames[alt] = iString
			} else {
				inDfu = false
			}
		case descriptorTypeFunctional:
			if !inDfu {
				break
			}
			fdCount++
			parsed, err := dfu.ParseFunctionalDescriptor(body)
			if err != nil {
				return nil, fd, false, fmt.Errorf("usb: %w", err)
			}
			fd = parsed
		}
		off += length
	}

	if ifaceNum == -1 {
		return nil, fd, false, nil
	}
	if fdCount != 1 {
		return nil, fd, false, fmt.Errorf("usb: interface %d carries %d DFU functional descriptors, want 1",
			ifaceNum, fdCount)
	}
	return &Interface{
		dev:      dev,
		ifaceNum: ifaceNum,
		altNames: altNames,
		open:     true,
	}, fd, true, nil
}
