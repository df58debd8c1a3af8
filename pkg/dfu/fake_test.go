// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package dfu

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	// The transport retry backoff has no business slowing tests down.
	retrySleep = func(time.Duration) {}
	os.Exit(m.Run())
}

// errStall stands in for the broken pipe a vanished device leaves
// behind.
var errStall = fmt.Errorf("%w: endpoint stalled", ErrTransfer)

// fakeDev emulates a well-behaved DFU/DfuSe device behind the Transport
// interface and records everything the engine does to it.
type fakeDev struct {
	state   State
	errCode ErrorCode
	iString uint8
	poll    uint32 // bwPollTimeout reported in every status, ms

	// busyPerOp is how many dfuDNBUSY statuses follow each download or
	// command before the device settles in dfuDNLOAD-IDLE.
	busyPerOp int
	busyLeft  int

	// manifestPolls is how many dfuMANIFEST statuses the device reports
	// after the zero-length download before reaching manifestEnd.
	manifestPolls int
	manifestLeft  int
	manifestEnd   State

	ifaceNum   int
	alt        int
	altStrings map[int]string
	strings    map[int]string
	openFlag   bool

	uploadData []byte
	uploadOff  int

	// failures maps an op name to how many times it should fail before
	// succeeding. Ops: detach, dnload, upload, getstatus, clrstatus,
	// getstate, abort, busreset. okBefore lets that many calls through
	// first.
	failures map[string]int
	okBefore map[string]int

	// trace is the op log the tests assert against.
	trace     []string
	downloads []fakeDnload
	setAddrs  []uint32
	erases    []uint32
	resets    int
	setAlts   int
	detaches  int
}

type fakeDnload struct {
	block uint16
	data  []byte
}

func newFakeDev() *fakeDev {
	return &fakeDev{
		state:       Idle,
		manifestEnd: Idle,
		altStrings:  map[int]string{},
		strings:     map[int]string{},
		openFlag:    true,
		failures:    map[string]int{},
		okBefore:    map[string]int{},
	}
}

func (f *fakeDev) fail(op string) error {
	if f.okBefore[op] > 0 {
		f.okBefore[op]--
		return nil
	}
	if f.failures[op] > 0 {
		f.failures[op]--
		return errStall
	}
	return nil
}

func (f *fakeDev) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	switch {
	case requestType == requestTypeOut && request == reqDetach:
		f.trace = append(f.trace, "detach")
		f.detaches++
		if err := f.fail("detach"); err != nil {
			return 0, err
		}
		f.state = AppDetach
		return 0, nil

	case requestType == requestTypeOut && request == reqDnload:
		if err := f.fail("dnload"); err != nil {
			return 0, err
		}
		return f.dnload(value, data)

	case requestType == requestTypeIn && request == reqUpload:
		if err := f.fail("upload"); err != nil {
			return 0, err
		}
		f.trace = append(f.trace, fmt.Sprintf("upload %d", value))
		if len(data) == 0 {
			f.state = Idle
			return 0, nil
		}
		f.state = UploadIdle
		n := copy(data, f.uploadData[f.uploadOff:])
		f.uploadOff += n
		return n, nil

	case requestType == requestTypeIn && request == reqGetStatus:
		if err := f.fail("getstatus"); err != nil {
			return 0, err
		}
		return f.getStatus(data)

	case requestType == requestTypeOut && request == reqClrStatus:
		f.trace = append(f.trace, "clrstatus")
		if err := f.fail("clrstatus"); err != nil {
			return 0, err
		}
		f.state = Idle
		f.errCode = StatusOK
		return 0, nil

	case requestType == requestTypeIn && request == reqGetState:
		if err := f.fail("getstate"); err != nil {
			return 0, err
		}
		data[0] = byte(f.state)
		return 1, nil

	case requestType == requestTypeOut && request == reqAbort:
		f.trace = append(f.trace, "abort")
		if err := f.fail("abort"); err != nil {
			return 0, err
		}
		f.state = Idle
		return 0, nil
	}
	return 0, fmt.Errorf("%w: unexpected request %#02x/%#02x", ErrTransfer, requestType, request)
}

func (f *fakeDev) dnload(block uint16, data []byte) (int, error) {
	if block == 0 && len(data) == 0 {
		f.trace = append(f.trace, "manifest")
		f.state = Manifest
		f.manifestLeft = f.manifestPolls
		return 0, nil
	}
	// A plain DFU download also starts at block 0, so only a block-0
	// payload opening with a known DfuSe command byte is a command.
	if block == 0 && isDfuseCommand(data[0]) {
		switch dfuseCommand(data[0]) {
		case dfuseSetAddress:
			addr := leAddr(data[1:])
			f.trace = append(f.trace, fmt.Sprintf("setaddr %#x", addr))
			f.setAddrs = append(f.setAddrs, addr)
		case dfuseErase:
			addr := leAddr(data[1:])
			f.trace = append(f.trace, fmt.Sprintf("erase %#x", addr))
			f.erases = append(f.erases, addr)
		default:
			f.trace = append(f.trace, fmt.Sprintf("cmd %#02x", data[0]))
		}
	} else {
		f.trace = append(f.trace, fmt.Sprintf("dnload %d", block))
		f.downloads = append(f.downloads, fakeDnload{
			block: block,
			data:  append([]byte(nil), data...),
		})
	}
	f.state = DnloadBusy
	f.busyLeft = f.busyPerOp
	return len(data), nil
}

func (f *fakeDev) getStatus(data []byte) (int, error) {
	f.trace = append(f.trace, "getstatus")
	switch f.state {
	case DnloadBusy:
		if f.busyLeft > 0 {
			f.busyLeft--
		} else {
			f.state = DnloadIdle
		}
	case Manifest:
		if f.manifestLeft > 0 {
			f.manifestLeft--
		} else {
			f.state = f.manifestEnd
		}
	}
	data[0] = byte(f.errCode)
	data[1] = byte(f.poll)
	data[2] = byte(f.poll >> 8)
	data[3] = byte(f.poll >> 16)
	data[4] = byte(f.state)
	data[5] = byte(f.iString)
	return statusLength, nil
}

func isDfuseCommand(b byte) bool {
	switch dfuseCommand(b) {
	case dfuseGetCommands, dfuseSetAddress, dfuseErase, dfuseReadUnprotect:
		return true
	}
	return false
}

func leAddr(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (f *fakeDev) InterfaceNumber() int {
	return f.ifaceNum
}

func (f *fakeDev) SetAltSetting(alt int) error {
	f.trace = append(f.trace, fmt.Sprintf("setalt %d", alt))
	f.setAlts++
	f.alt = alt
	return nil
}

func (f *fakeDev) AltSetting() (int, error) {
	return f.alt, nil
}

func (f *fakeDev) AltName(alt int) (string, error) {
	s, ok := f.altStrings[alt]
	if !ok {
		return "", errors.New("no such alt setting")
	}
	return s, nil
}

func (f *fakeDev) StringDescriptor(index int) (string, error) {
	s, ok := f.strings[index]
	if !ok {
		return "", errors.New("no such string")
	}
	return s, nil
}

func (f *fakeDev) BusReset() error {
	f.trace = append(f.trace, "busreset")
	if f.failures["busreset"] > 0 {
		f.failures["busreset"]--
		return errStall
	}
	f.resets++
	return nil
}

func (f *fakeDev) Close() error {
	f.trace = append(f.trace, "close")
	f.openFlag = false
	return nil
}

func (f *fakeDev) IsOpen() bool {
	return f.openFlag
}

// testDevice wires a fake device to an engine with recorded sleeps and
// notifications.
type testDevice struct {
	*Device
	fake     *fakeDev
	sleeps   []time.Duration
	progress []float64
	bytes    []uint64
	devErrs  []string
}

func newTestDevice(fake *fakeDev, attrs Attributes, transferSize uint16) *testDevice {
	td := &testDevice{fake: fake}
	desc := FunctionalDescriptor{
		Attributes:    attrs,
		DetachTimeout: 100,
		TransferSize:  transferSize,
		DFUVersion:    0x011a,
	}
	ident := Identification{
		VendorID:       0x0483,
		ProductID:      0xdf11,
		ProductVersion: 0x0200,
		DFUVersion:     0x011a,
	}
	td.Device = New(fake, desc, ident, Notifications{
		Progress: func(percent float64, transferred uint64) {
			td.progress = append(td.progress, percent)
			td.bytes = append(td.bytes, transferred)
		},
		DeviceError: func(message string) {
			td.devErrs = append(td.devErrs, message)
		},
	})
	td.Device.sleep = func(d time.Duration) {
		td.sleeps = append(td.sleeps, d)
	}
	return td
}
