// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package dfu

import (
	"fmt"
	"time"

	"dfutool/pkg/wire"
)

// ErrorCode is the bStatus field of a GETSTATUS response.
type ErrorCode uint8

const (
	StatusOK          ErrorCode = 0x00
	ErrTarget         ErrorCode = 0x01
	ErrFile           ErrorCode = 0x02
	ErrWrite          ErrorCode = 0x03
	ErrErase          ErrorCode = 0x04
	ErrCheckErased    ErrorCode = 0x05
	ErrProg           ErrorCode = 0x06
	ErrVerify         ErrorCode = 0x07
	ErrAddress        ErrorCode = 0x08
	ErrNotDone        ErrorCode = 0x09
	ErrFirmware       ErrorCode = 0x0a
	ErrVendor         ErrorCode = 0x0b
	ErrUsbReset       ErrorCode = 0x0c
	ErrPowerOnReset   ErrorCode = 0x0d
	ErrUnknown        ErrorCode = 0x0e
	ErrStalledPkt     ErrorCode = 0x0f
	ErrCodeOutOfRange ErrorCode = 0xff // any value past errSTALLEDPKT
)

var errorCodeNames = map[ErrorCode]string{
	StatusOK:        "no error",
	ErrTarget:       "file is not targeted for use by this device",
	ErrFile:         "file fails a vendor-specific verification test",
	ErrWrite:        "device is unable to write memory",
	ErrErase:        "memory erase function failed",
	ErrCheckErased:  "memory erase check failed",
	ErrProg:         "program memory function failed",
	ErrVerify:       "programmed memory failed verification",
	ErrAddress:      "address is out of range",
	ErrNotDone:      "received DFU_DNLOAD with wLength = 0, but data is incomplete",
	ErrFirmware:     "device firmware is corrupt",
	ErrVendor:       "vendor-specific error",
	ErrUsbReset:     "device detected unexpected USB reset",
	ErrPowerOnReset: "device detected unexpected power on reset",
	ErrUnknown:      "something went wrong, but the device does not know what",
	ErrStalledPkt:   "device stalled an unexpected request",
}

// errorCode folds any out-of-range bStatus value to ErrCodeOutOfRange so
// unknown codes round-trip as "unknown".
func errorCode(b uint8) ErrorCode {
	if b > uint8(ErrStalledPkt) {
		return ErrCodeOutOfRange
	}
	return ErrorCode(b)
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("unknown error code %#02x", uint8(e))
}

// statusLength is the size of a GETSTATUS response.
const statusLength = 6

// Status is a decoded GETSTATUS response.
type Status struct {
	Error       ErrorCode
	PollTimeout time.Duration
	State       State
	IString     uint8
}

// parseStatus decodes the 6-byte GETSTATUS payload: status byte, 24-bit
// little-endian poll timeout in milliseconds, state byte, string index.
func parseStatus(buf []byte) (Status, error) {
	r := wire.NewReader(buf)
	s := Status{
		Error:       errorCode(r.U8()),
		PollTimeout: time.Duration(r.U24()) * time.Millisecond,
		State:       State(r.U8()),
		IString:     r.U8(),
	}
	if err := r.Err(); err != nil {
		return Status{}, fmt.Errorf("status payload: %w", err)
	}
	return s, nil
}
