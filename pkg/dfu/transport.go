// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package dfu

import (
	"fmt"
	"time"
)

// Transport is the USB surface the engine drives. An implementation owns
// one claimed DFU interface on one open device; the engine owns no USB
// code of its own.
type Transport interface {
	// Control performs a control transfer against the device. The
	// direction is encoded in requestType; for IN transfers the
	// response lands in data. It returns the number of bytes moved.
	Control(requestType, request uint8, value, index uint16, data []byte) (int, error)

	// InterfaceNumber returns the DFU interface number, used as wIndex
	// in class requests.
	InterfaceNumber() int

	// SetAltSetting selects an alternate setting of the DFU interface.
	SetAltSetting(alt int) error

	// AltSetting queries the active alternate setting.
	AltSetting() (int, error)

	// AltName returns the string descriptor attached to an alternate
	// setting (the DfuSe memory-layout string).
	AltName(alt int) (string, error)

	// StringDescriptor fetches an arbitrary string descriptor, with
	// trailing NULs trimmed.
	StringDescriptor(index int) (string, error)

	// BusReset resets the device's port. Transports that cannot reset
	// return ErrNoBusReset.
	BusReset() error

	Close() error
	IsOpen() bool
}

// Transfer retry policy: transient control-transfer failures are absorbed
// here, below the state machine.
const (
	transferRetries = 10
	transferBackoff = 10 * time.Millisecond
)

// retrySleep is swapped out by tests.
var retrySleep = time.Sleep

// retryTransport wraps a Transport, retrying each control transfer before
// escalating to ErrPersistentTransfer.
type retryTransport struct {
	Transport
}

func (t retryTransport) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	var err error
	for attempt := 0; attempt < transferRetries; attempt++ {
		if attempt > 0 {
			retrySleep(transferBackoff)
		}
		var n int
		n, err = t.Transport.Control(requestType, request, value, index, data)
		if err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrPersistentTransfer, err)
}
