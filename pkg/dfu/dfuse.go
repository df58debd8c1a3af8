// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package dfu

import (
	"fmt"

	"dfutool/pkg/fwfile"
	"dfutool/pkg/memmap"
	"dfutool/pkg/wire"
)

// dfuseCommand is a DfuSe command byte, carried as the first byte of a
// DNLOAD to block 0. Keeping these in their own type prevents a firmware
// block from being mistaken for a command.
type dfuseCommand byte

const (
	dfuseGetCommands   dfuseCommand = 0x00
	dfuseSetAddress    dfuseCommand = 0x21
	dfuseErase         dfuseCommand = 0x41
	dfuseReadUnprotect dfuseCommand = 0x92
)

// dfuseFirstBlock is the wBlockNum of the first firmware chunk after a
// SetAddress; blocks 0 and 1 are reserved for the command channel.
const dfuseFirstBlock = 2

// command issues a DfuSe command through the block-0 channel and waits
// until the device reports dfuDNLOAD-IDLE.
func (d *Device) command(cmd dfuseCommand, addr ...uint32) error {
	w := wire.NewWriter(5)
	w.PutU8(uint8(cmd))
	for _, a := range addr {
		w.PutU32(a)
	}
	if err := d.dnload(0, w.Bytes()); err != nil {
		return err
	}
	_, err := d.awaitDnloadIdle()
	return err
}

// setAddress points the device's download/upload pointer at addr.
func (d *Device) setAddress(addr uint32) error {
	if err := d.command(dfuseSetAddress, addr); err != nil {
		return wrapError("setAddress", err)
	}
	return nil
}

// eraseBlock erases the device memory block starting at addr.
func (d *Device) eraseBlock(addr uint32) error {
	if err := d.command(dfuseErase, addr); err != nil {
		return wrapError("erase", err)
	}
	return nil
}

// GetCommands asks the device for its supported command set.
func (d *Device) GetCommands() error {
	if err := d.command(dfuseGetCommands); err != nil {
		return wrapError("getCommands", err)
	}
	return nil
}

// ReadUnprotect lifts the device's read protection. On most parts this
// triggers a mass erase and a re-enumeration; callers must reopen the
// device afterwards.
func (d *Device) ReadUnprotect() error {
	if err := d.command(dfuseReadUnprotect); err != nil {
		return wrapError("readUnprotect", err)
	}
	return nil
}

// selectAltSetting makes alt the active alternate setting. Assigning the
// current value triggers no USB traffic.
func (d *Device) selectAltSetting(alt uint8) error {
	current, err := d.transport.AltSetting()
	if err != nil {
		return err
	}
	if current == int(alt) {
		return nil
	}
	return d.transport.SetAltSetting(int(alt))
}

// targetLayout selects alt and re-parses its memory layout string. The
// layout is device-owned metadata and is never cached across selections.
func (d *Device) targetLayout(alt uint8) (*memmap.NamedLayout, error) {
	if err := d.selectAltSetting(alt); err != nil {
		return nil, err
	}
	desc, err := d.transport.AltName(int(alt))
	if err != nil {
		return nil, err
	}
	return memmap.ParseLayout(desc)
}

// DownloadDfuSe writes every image of a DfuSe file, in the file's
// declared target order: select the target, erase the covered blocks,
// then stream each segment behind a SetAddress. Manifestation is a
// separate step.
func (d *Device) DownloadDfuSe(images []fwfile.Image) error {
	if !d.desc.Attributes.Has(CanDownload) {
		return wrapError("dfuse download", ErrCannotDownload)
	}
	for _, img := range images {
		if err := d.downloadTarget(img); err != nil {
			return wrapError(fmt.Sprintf("dfuse download: target %d", img.AltSetting), err)
		}
	}
	return nil
}

func (d *Device) downloadTarget(img fwfile.Image) error {
	if img.Memory.Empty() {
		return nil
	}

	layout, err := d.targetLayout(img.AltSetting)
	if err != nil {
		return err
	}
	if !layout.Contains(img.Memory.Start(), img.Memory.End()) {
		return fmt.Errorf("%w: image [%#x,%#x], device %q [%#x,%#x]",
			ErrOutOfRange, img.Memory.Start(), img.Memory.End(),
			layout.Name, layout.StartAddress(), layout.EndAddress())
	}

	if err := d.ResetToIdle(); err != nil {
		return err
	}
	if err := d.eraseRange(layout, img.Memory.Start(), img.Memory.End()); err != nil {
		return err
	}

	total := img.Memory.Size()
	var transferred uint64
	for _, seg := range img.Memory.Segments() {
		if err := d.downloadSegment(seg, total, &transferred); err != nil {
			return err
		}
	}
	return nil
}

// eraseRange erases every block of the layout touched by [start,end].
// Blocks must be writeable; blocks without the eraseable permission are
// assumed to come up blank.
func (d *Device) eraseRange(layout *memmap.NamedLayout, start, end uint64) error {
	first := layout.BlockAt(start)
	last := layout.BlockAt(end)
	if first < 0 || last < 0 {
		return fmt.Errorf("%w: [%#x,%#x]", ErrOutOfRange, start, end)
	}

	blocks := layout.Blocks()[first : last+1]
	for i, blk := range blocks {
		if !blk.Permissions().Can(memmap.Writeable) {
			return fmt.Errorf("%w: block at %#x (%s)",
				ErrReadOnlyTarget, blk.Start(), blk.Permissions())
		}
		if !blk.Permissions().Can(memmap.Eraseable) {
			continue
		}
		if err := d.eraseBlock(uint32(blk.Start())); err != nil {
			return err
		}
		d.notifyErase(i+1, len(blocks))
	}
	return nil
}

// downloadSegment streams one segment behind a SetAddress, re-issuing
// the address whenever the 16-bit block counter wraps.
func (d *Device) downloadSegment(seg *memmap.Segment, total uint64, transferred *uint64) error {
	if err := d.setAddress(uint32(seg.Start())); err != nil {
		return err
	}

	transferSize := int(d.desc.TransferSize)
	if transferSize == 0 {
		return fmt.Errorf("device advertises a zero transfer size")
	}

	data := seg.Data()
	block := uint16(dfuseFirstBlock)
	var offset uint64

	for offset < uint64(len(data)) {
		chunk := transferSize
		if remaining := uint64(len(data)) - offset; remaining < uint64(chunk) {
			chunk = int(remaining)
		}
		if err := d.dnload(block, data[offset:offset+uint64(chunk)]); err != nil {
			d.bestEffortAbort()
			return err
		}
		if _, err := d.awaitDnloadIdle(); err != nil {
			d.bestEffortAbort()
			return err
		}
		offset += uint64(chunk)
		*transferred += uint64(chunk)
		d.notifyProgress(*transferred, total)

		block++
		if block == 0 && offset < uint64(len(data)) {
			// The 16-bit block counter wrapped; re-anchor the device's
			// address pointer where the next chunk lands.
			if err := d.setAddress(uint32(seg.Start() + offset)); err != nil {
				return err
			}
			block = dfuseFirstBlock
		}
	}
	return nil
}

// EraseTarget erases one target's entire layout. Unlike the download
// erase pass, a block the device cannot erase is an error here.
func (d *Device) EraseTarget(alt uint8) error {
	layout, err := d.targetLayout(alt)
	if err != nil {
		return wrapError("erase", err)
	}
	if err := d.ResetToIdle(); err != nil {
		return wrapError("erase", err)
	}
	blocks := layout.Blocks()
	for i, blk := range blocks {
		if !blk.Permissions().Can(memmap.Eraseable) {
			return wrapError("erase", fmt.Errorf("%w: block at %#x (%s)",
				ErrEraseNotSupported, blk.Start(), blk.Permissions()))
		}
		if err := d.eraseBlock(uint32(blk.Start())); err != nil {
			return wrapError("erase", err)
		}
		d.notifyErase(i+1, len(blocks))
	}
	return nil
}

// UploadDfuSe reads one target's entire layout back into a named memory
// image.
func (d *Device) UploadDfuSe(alt uint8) (*memmap.NamedMemory, error) {
	if !d.desc.Attributes.Has(CanUpload) {
		return nil, wrapError("dfuse upload", ErrCannotUpload)
	}

	layout, err := d.targetLayout(alt)
	if err != nil {
		return nil, wrapError("dfuse upload", err)
	}
	for _, blk := range layout.Blocks() {
		if !blk.Permissions().Can(memmap.Readable) {
			return nil, wrapError("dfuse upload", fmt.Errorf("%w: block at %#x (%s)",
				ErrProtectedTarget, blk.Start(), blk.Permissions()))
		}
	}

	size := layout.Size()
	maxSize := uint64(d.desc.TransferSize) * (0xffff - dfuseFirstBlock + 1)
	if size > maxSize {
		return nil, wrapError("dfuse upload", fmt.Errorf("%w: %d bytes exceeds the %d-byte block space",
			ErrOutOfRange, size, maxSize))
	}

	if err := d.ResetToIdle(); err != nil {
		return nil, wrapError("dfuse upload", err)
	}
	if err := d.setAddress(uint32(layout.StartAddress())); err != nil {
		return nil, wrapError("dfuse upload", err)
	}
	// SetAddress parks the device in dfuDNLOAD-IDLE; abort back to
	// dfuIDLE before switching direction.
	if err := d.ResetToIdle(); err != nil {
		return nil, wrapError("dfuse upload", err)
	}

	data, err := d.uploadFrom(dfuseFirstBlock, size)
	if err != nil {
		return nil, wrapError("dfuse upload", err)
	}

	mem := &memmap.NamedMemory{Name: layout.Name}
	seg, err := memmap.NewSegment(layout.StartAddress(), data)
	if err != nil {
		return nil, wrapError("dfuse upload", err)
	}
	mem.TryAdd(seg)
	return mem, nil
}
