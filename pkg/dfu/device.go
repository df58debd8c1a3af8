// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package dfu

import (
	"errors"
	"fmt"
	"time"
)

// reattachGrace pads the device's detach timeout to let the OS re-enumerate
// the device and mount its driver.
const reattachGrace = 500 * time.Millisecond

// Notifications are the synchronous event callbacks the engine delivers
// on the calling goroutine. Any field may be nil.
type Notifications struct {
	// Progress is called after every transferred chunk.
	Progress func(percent float64, transferred uint64)

	// Erase is called per erased block during the DfuSe erase pass.
	Erase func(done, total int)

	// DeviceError is called whenever GETSTATUS reveals the dfuERROR
	// state, before the engine turns the status into an error.
	DeviceError func(message string)
}

// Device is a DFU interface under the engine's control. It must not be
// used from more than one goroutine at a time.
type Device struct {
	transport Transport
	desc      FunctionalDescriptor
	ident     Identification
	notify    Notifications

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// New wraps an open transport in a protocol engine. The transport gains
// the transient-failure retry policy here; the state machine above never
// sees a single failed transfer.
func New(t Transport, desc FunctionalDescriptor, ident Identification, notify Notifications) *Device {
	return &Device{
		transport: retryTransport{t},
		desc:      desc,
		ident:     ident,
		notify:    notify,
		sleep:     time.Sleep,
	}
}

// Descriptor returns the device's DFU functional descriptor.
func (d *Device) Descriptor() FunctionalDescriptor {
	return d.desc
}

// Identification returns the device's identification tuple.
func (d *Device) Identification() Identification {
	return d.ident
}

// Close releases the transport.
func (d *Device) Close() error {
	return d.transport.Close()
}

// State reads the device's current DFU state with GETSTATE.
func (d *Device) State() (State, error) {
	state, err := d.getState()
	if err != nil {
		return 0, wrapError("getState", err)
	}
	return state, nil
}

// CheckFileVersion verifies that a DFU file's version matches what the
// device speaks.
func (d *Device) CheckFileVersion(fileDFUVersion BCD) error {
	if fileDFUVersion != d.desc.DFUVersion {
		return fmt.Errorf("%w: file %s, device %s",
			ErrVersionMismatch, fileDFUVersion, d.desc.DFUVersion)
	}
	return nil
}

func (d *Device) notifyProgress(transferred, total uint64) {
	if d.notify.Progress == nil {
		return
	}
	var percent float64
	if total > 0 {
		percent = float64(transferred) / float64(total) * 100
	}
	d.notify.Progress(percent, transferred)
}

func (d *Device) notifyErase(done, total int) {
	if d.notify.Erase != nil {
		d.notify.Erase(done, total)
	}
}

// notifyDeviceError resolves the human-readable message for an error
// status and fans it out. Vendor errors carry their text in the status
// iString descriptor; everything else stringifies the error code.
func (d *Device) notifyDeviceError(status Status) {
	if d.notify.DeviceError == nil {
		return
	}
	message := status.Error.String()
	if status.Error == ErrVendor && status.IString != 0 {
		if s, err := d.transport.StringDescriptor(int(status.IString)); err == nil && s != "" {
			message = s
		}
	}
	d.notify.DeviceError(message)
}

// statusError converts an error status into the error returned at the
// verification point.
func (d *Device) statusError(status Status) error {
	message := ""
	if status.Error == ErrVendor && status.IString != 0 {
		if s, err := d.transport.StringDescriptor(int(status.IString)); err == nil {
			message = s
		}
	}
	return &DeviceStatusError{Code: status.Error, Message: message}
}

// Reconfigure moves an application-mode device into its DFU bootloader:
// DETACH, then either let the device drop off the bus on its own or force
// a bus reset, then wait out re-enumeration. The handle is closed; the
// caller re-opens the device before any further operation.
func (d *Device) Reconfigure() error {
	status, err := d.getStatus()
	if err != nil {
		return wrapError("reconfigure", err)
	}
	if !status.State.IsAppState() {
		return wrapError("reconfigure", &InvalidStateError{
			Expected: AppIdle,
			Actual:   status.State,
			Reason:   "device is not running application firmware",
		})
	}

	if status.State == AppIdle {
		err := d.detach(d.desc.DetachTimeout)
		// A device that detaches on its own may drop off the bus before
		// acknowledging; the broken pipe it leaves behind is expected.
		if err != nil && !d.desc.Attributes.Has(WillDetach) {
			return wrapError("reconfigure: detach", err)
		}
	}

	if !d.desc.Attributes.Has(WillDetach) {
		if err := d.transport.BusReset(); err != nil {
			if errors.Is(err, ErrNoBusReset) {
				return wrapError("reconfigure", err)
			}
			// The device already vanished; nothing left to reset.
		}
	}
	if err := d.transport.Close(); err != nil {
		return wrapError("reconfigure: close", err)
	}

	d.sleep(time.Duration(d.desc.DetachTimeout)*time.Millisecond + reattachGrace)
	return nil
}

// ResetToIdle returns the device to dfuIDLE from any bootloader state:
// clear an error status, abort a paused transfer, then verify.
func (d *Device) ResetToIdle() error {
	status, err := d.getStatus()
	if err != nil {
		return wrapError("resetToIdle", err)
	}

	if status.State == ErrorState {
		deviceErr := d.statusError(status)
		if err := d.clrStatus(); err != nil {
			return wrapError("resetToIdle: clrStatus", err)
		}
		if status, err = d.getStatus(); err != nil {
			return wrapError("resetToIdle", err)
		}
		if status.State == ErrorState {
			return wrapError("resetToIdle", deviceErr)
		}
	}

	if status.State.Abortable() {
		if err := d.abort(); err != nil {
			return wrapError("resetToIdle: abort", err)
		}
		if status, err = d.getStatus(); err != nil {
			return wrapError("resetToIdle", err)
		}
	}

	if status.State != Idle {
		return wrapError("resetToIdle", &InvalidStateError{Expected: Idle, Actual: status.State})
	}
	return nil
}

// awaitDnloadIdle runs the status-poll loop after a DNLOAD: sleep out
// every dfuDNBUSY period the device dictates, then require dfuDNLOAD-IDLE.
func (d *Device) awaitDnloadIdle() (Status, error) {
	for {
		status, err := d.getStatus()
		if err != nil {
			return Status{}, err
		}
		if status.State == DnloadBusy {
			d.sleep(status.PollTimeout)
			continue
		}
		if status.State != DnloadIdle {
			err := &InvalidStateError{Expected: DnloadIdle, Actual: status.State}
			if status.State == ErrorState {
				err.Reason = d.statusError(status).Error()
			}
			return status, err
		}
		return status, nil
	}
}

// Download transfers a contiguous DFU 1.1 image. The device must be in
// dfuIDLE; manifestation is a separate step.
func (d *Device) Download(data []byte) error {
	if !d.desc.Attributes.Has(CanDownload) {
		return wrapError("download", ErrCannotDownload)
	}
	if err := d.ResetToIdle(); err != nil {
		return wrapError("download", err)
	}

	transferSize := int(d.desc.TransferSize)
	if transferSize == 0 {
		return wrapError("download", fmt.Errorf("device advertises a zero transfer size"))
	}
	total := uint64(len(data))
	var block uint16
	var transferred uint64

	for transferred < total {
		chunk := transferSize
		if remaining := int(total - transferred); remaining < chunk {
			chunk = remaining
		}
		if err := d.dnload(block, data[transferred:transferred+uint64(chunk)]); err != nil {
			d.bestEffortAbort()
			return wrapError("download", err)
		}
		if _, err := d.awaitDnloadIdle(); err != nil {
			d.bestEffortAbort()
			return wrapError("download", err)
		}
		block++
		transferred += uint64(chunk)
		d.notifyProgress(transferred, total)
	}
	return nil
}

// bestEffortAbort tries to leave a failing device in a recoverable state.
// Its own failures are deliberately dropped.
func (d *Device) bestEffortAbort() {
	if !d.transport.IsOpen() {
		return
	}
	status, err := d.getStatus()
	if err == nil && status.State.Abortable() {
		_ = d.abort()
	}
}

// Manifest ends the transfer phase with a zero-length DNLOAD and walks
// the device through manifestation. Transfer errors are tolerated only
// for devices that tear down their USB stack on their own
// (!ManifestationTolerant && WillDetach). The handle is closed either
// way.
func (d *Device) Manifest() error {
	tolerant := d.desc.Attributes.Has(ManifestationTolerant)
	willDetach := d.desc.Attributes.Has(WillDetach)

	err := d.manifestSequence(tolerant, willDetach)
	if err != nil && !tolerant && willDetach && isTransferError(err) {
		err = nil
	}
	closeErr := d.transport.Close()
	if err != nil {
		return wrapError("manifest", err)
	}
	if closeErr != nil {
		return wrapError("manifest: close", closeErr)
	}
	return nil
}

func (d *Device) manifestSequence(tolerant, willDetach bool) error {
	if err := d.dnload(0, nil); err != nil {
		return err
	}

	status, err := d.getStatus()
	for err == nil && status.State == Manifest {
		d.sleep(status.PollTimeout)
		status, err = d.getStatus()
	}
	if err != nil {
		return err
	}

	if tolerant {
		// The device stays on the bus; reset it back to runtime.
		if status.State != Idle {
			return &InvalidStateError{Expected: Idle, Actual: status.State}
		}
		return d.transport.BusReset()
	}
	if status.State != ManifestWaitReset {
		return &InvalidStateError{Expected: ManifestWaitReset, Actual: status.State}
	}
	if !willDetach {
		return d.transport.BusReset()
	}
	return nil
}

func isTransferError(err error) bool {
	return errors.Is(err, ErrTransfer) || errors.Is(err, ErrPersistentTransfer)
}

// Upload reads the device's firmware back, starting at the given block
// number (0 for plain DFU, 2 after a DfuSe SetAddress), until the device
// answers with a short transfer.
func (d *Device) Upload(base uint16) ([]byte, error) {
	if !d.desc.Attributes.Has(CanUpload) {
		return nil, wrapError("upload", ErrCannotUpload)
	}
	if err := d.ResetToIdle(); err != nil {
		return nil, wrapError("upload", err)
	}
	data, err := d.uploadFrom(base, 0)
	if err != nil {
		return nil, wrapError("upload", err)
	}
	return data, nil
}

// uploadFrom drains UPLOAD blocks into memory. A limit of 0 reads until
// the first short transfer; a positive limit stops there and closes the
// session with a zero-length UPLOAD if the device never answered short.
func (d *Device) uploadFrom(base uint16, limit uint64) ([]byte, error) {
	transferSize := int(d.desc.TransferSize)
	block := base
	var out []byte

	for {
		if limit > 0 && uint64(len(out)) >= limit {
			// The device never went short; close the upload session.
			if _, err := d.upload(block, nil); err != nil {
				return nil, err
			}
			break
		}
		buf := make([]byte, transferSize)
		n, err := d.upload(block, buf)
		if err != nil {
			return nil, err
		}
		out = append(out, buf[:n]...)
		d.notifyProgress(uint64(len(out)), limit)
		if n < transferSize {
			break
		}
		if block == 0xffff && (limit == 0 || uint64(len(out)) < limit) {
			// Upload block numbers have no re-sync command in plain DFU.
			return nil, fmt.Errorf("%w: upload exceeds %d blocks",
				ErrOutOfRange, 0x10000-int(base))
		}
		block++
	}
	if limit > 0 && uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// wrapError mirrors the operation-prefix wrapping used throughout the
// engine.
func wrapError(prefix string, err error) error {
	return fmt.Errorf("%s: %w", prefix, err)
}
