// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package dfu

import (
	"errors"
	"fmt"
)

var (
	// ErrTransfer is a single failed control transfer (stall, NAK or
	// short transfer).
	ErrTransfer = errors.New("dfu: control transfer failed")

	// ErrPersistentTransfer is a control transfer that kept failing
	// after the transport exhausted its retries.
	ErrPersistentTransfer = errors.New("dfu: control transfer failed after retries")

	// ErrOutOfRange is an image that does not fit the device's memory
	// layout.
	ErrOutOfRange = errors.New("dfu: image outside device memory layout")

	// ErrReadOnlyTarget is a download to memory the device marks
	// non-writeable.
	ErrReadOnlyTarget = errors.New("dfu: target memory is not writeable")

	// ErrProtectedTarget is an upload from memory the device marks
	// non-readable.
	ErrProtectedTarget = errors.New("dfu: target memory is not readable")

	// ErrEraseNotSupported is an erase of memory without the eraseable
	// permission.
	ErrEraseNotSupported = errors.New("dfu: target memory is not eraseable")

	// ErrUnsupportedVersion is a device whose DFU version is neither
	// 1.0/1.1 nor the DfuSe 1.1a extension.
	ErrUnsupportedVersion = errors.New("dfu: unsupported DFU version")

	// ErrVersionMismatch is a DFU file whose bcdDFU disagrees with the
	// device.
	ErrVersionMismatch = errors.New("dfu: file and device DFU versions differ")

	// ErrCannotDownload / ErrCannotUpload are operations the functional
	// descriptor rules out.
	ErrCannotDownload = errors.New("dfu: device does not support download")
	ErrCannotUpload   = errors.New("dfu: device does not support upload")

	// ErrNoBusReset is returned by transports that cannot reset the
	// bus; operations needing a reset refuse to run.
	ErrNoBusReset = errors.New("dfu: transport cannot issue a bus reset")

	// ErrClosed is an operation on a transport that is no longer open.
	ErrClosed = errors.New("dfu: device is closed")
)

// InvalidStateError reports a device state the protocol sequence did not
// expect.
type InvalidStateError struct {
	Expected State
	Actual   State
	Reason   string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("dfu: device in state %s, want %s", e.Actual, e.Expected)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// DeviceStatusError is a GETSTATUS response whose bStatus reports a
// device-side failure.
type DeviceStatusError struct {
	Code    ErrorCode
	Message string // vendor string when the device supplies one
}

func (e *DeviceStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dfu: device error: %s", e.Message)
	}
	return fmt.Sprintf("dfu: device error: %s", e.Code)
}
