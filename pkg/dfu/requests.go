// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package dfu

import "fmt"

// DFU class request codes.
const (
	reqDetach    = 0
	reqDnload    = 1
	reqUpload    = 2
	reqGetStatus = 3
	reqClrStatus = 4
	reqGetState  = 5
	reqAbort     = 6
)

// bmRequestType values for class requests against an interface.
const (
	requestTypeOut = 0x21 // host to device, class, interface
	requestTypeIn  = 0xa1 // device to host, class, interface
)

func (d *Device) iface() uint16 {
	return uint16(d.transport.InterfaceNumber())
}

// detach asks an application-mode device to enter its bootloader within
// timeout milliseconds.
func (d *Device) detach(timeout uint16) error {
	_, err := d.transport.Control(requestTypeOut, reqDetach, timeout, d.iface(), nil)
	return err
}

// dnload sends one firmware block, or a zero-length block to end the
// transfer phase.
func (d *Device) dnload(block uint16, data []byte) error {
	_, err := d.transport.Control(requestTypeOut, reqDnload, block, d.iface(), data)
	return err
}

// upload reads back up to len(buf) bytes of block. Short reads are not an
// error; they end an upload.
func (d *Device) upload(block uint16, buf []byte) (int, error) {
	return d.transport.Control(requestTypeIn, reqUpload, block, d.iface(), buf)
}

// getStatus polls the device. A status whose state is dfuERROR is fanned
// out to the DeviceError notification before being returned to the state
// machine.
func (d *Device) getStatus() (Status, error) {
	buf := make([]byte, statusLength)
	n, err := d.transport.Control(requestTypeIn, reqGetStatus, 0, d.iface(), buf)
	if err != nil {
		return Status{}, err
	}
	if n != statusLength {
		return Status{}, fmt.Errorf("%w: GETSTATUS returned %d bytes", ErrTransfer, n)
	}
	status, err := parseStatus(buf)
	if err != nil {
		return Status{}, err
	}
	if status.State == ErrorState {
		d.notifyDeviceError(status)
	}
	return status, nil
}

func (d *Device) clrStatus() error {
	_, err := d.transport.Control(requestTypeOut, reqClrStatus, 0, d.iface(), nil)
	return err
}

// getState reads the bare state byte without side effects on the device.
func (d *Device) getState() (State, error) {
	buf := make([]byte, 1)
	n, err := d.transport.Control(requestTypeIn, reqGetState, 0, d.iface(), buf)
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("%w: GETSTATE returned %d bytes", ErrTransfer, n)
	}
	return State(buf[0]), nil
}

func (d *Device) abort() error {
	_, err := d.transport.Control(requestTypeOut, reqAbort, 0, d.iface(), nil)
	return err
}
