// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

// The dfutool command downloads firmware to (and uploads it from) USB
// devices implementing the DFU 1.1 class or the STMicroelectronics
// DfuSe 1.1a extension.
//
// Synopsis:
//
//	dfutool -l
//	dfutool -d 0483:df11 -i firmware.dfu
//	dfutool -d 0483:df11 -i firmware.hex
//	dfutool -d 0483:df11 -i firmware.bin -s 0x08000000
//	dfutool -d 0483:df11 -u readback.bin -a 0
//
// Examples:
//
//	# Flash a DfuSe file; the suffix names the device, -d is ignored:
//	dfutool -i firmware.dfu
//
//	# Flash only if the file is newer than what the device runs:
//	dfutool -d 0483:df11 -i firmware.hex -v 2.03
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/gousb"
	"github.com/jessevdk/go-flags"

	"dfutool/pkg/dfu"
	"dfutool/pkg/fwfile"
	"dfutool/pkg/log"
	"dfutool/pkg/usb"
)

type options struct {
	Image   string `short:"i" long:"image" description:"firmware image to download (.dfu, .hex, .srec, .s19, .bin)"`
	Device  string `short:"d" long:"device" description:"device to open, as vid:pid in hex"`
	Version string `short:"v" long:"version" description:"file firmware version; skip flashing when the device is already current"`
	Upload  string `short:"u" long:"upload" description:"read the device's firmware back into this file"`
	Alt     uint8  `short:"a" long:"alt" description:"DfuSe alternate setting to upload from" default:"0"`
	Address string `short:"s" long:"address" description:"base address for raw binary images" default:"0x08000000"`
	List    bool   `short:"l" long:"list" description:"list DFU-capable devices and exit"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			fmt.Println(err)
			return 0
		}
		log.Errorf("%v", err)
		return 1
	}

	if err := realMain(&opts); err != nil {
		log.Errorf("%v", err)
		return 1
	}
	return 0
}

func realMain(opts *options) error {
	ctx := gousb.NewContext()
	defer ctx.Close()

	switch {
	case opts.List:
		return listDevices(ctx)
	case opts.Upload != "":
		return uploadFirmware(ctx, opts)
	case opts.Image != "":
		return downloadFirmware(ctx, opts)
	}
	return fmt.Errorf("nothing to do: pass -i, -u or -l")
}

// parseDeviceID splits "vid:pid" in hex.
func parseDeviceID(s string) (vid, pid uint16, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("device id %q is not vid:pid", s)
	}
	v, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad vendor id %q", parts[0])
	}
	p, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad product id %q", parts[1])
	}
	return uint16(v), uint16(p), nil
}

// parseVersion reads "major.minor" into BCD form, e.g. "2.03" -> 0x0203.
func parseVersion(s string) (dfu.BCD, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return 0, fmt.Errorf("version %q is not major.minor", s)
	}
	major, err := strconv.ParseUint(parts[0], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("bad major version %q", parts[0])
	}
	minor, err := strconv.ParseUint(parts[1], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("bad minor version %q", parts[1])
	}
	return dfu.BCD(major<<8 | minor), nil
}

// deviceID resolves which vid:pid to open. A DFU suffix is authoritative
// over the -d flag; 0xffff in a suffix field is a wildcard the flag must
// fill in.
func deviceID(opts *options, file *fwfile.File) (vid, pid uint16, err error) {
	if file != nil && file.Suffix != nil &&
		file.Suffix.IDVendor != 0xffff && file.Suffix.IDProduct != 0xffff {
		return file.Suffix.IDVendor, file.Suffix.IDProduct, nil
	}
	if opts.Device == "" {
		return 0, 0, fmt.Errorf("no -d flag and the image does not name a device")
	}
	return parseDeviceID(opts.Device)
}

// notifications builds the progress/error callbacks shared by download
// and upload.
func notifications(verb string) dfu.Notifications {
	return dfu.Notifications{
		Progress: func(percent float64, transferred uint64) {
			fmt.Fprintf(os.Stderr, "\r%s... %3.0f%% (%s)", verb, percent,
				humanize.Bytes(transferred))
		},
		Erase: func(done, total int) {
			fmt.Fprintf(os.Stderr, "\rErasing... %d/%d blocks", done, total)
		},
		DeviceError: func(message string) {
			fmt.Fprintln(os.Stderr)
			log.Errorf("device reports: %s", message)
		},
	}
}

func downloadFirmware(ctx *gousb.Context, opts *options) error {
	base, err := strconv.ParseUint(strings.TrimPrefix(opts.Address, "0x"), 16, 32)
	if err != nil {
		return fmt.Errorf("bad base address %q", opts.Address)
	}
	file, err := fwfile.LoadFile(opts.Image, base)
	if err != nil {
		return err
	}

	vid, pid, err := deviceID(opts, file)
	if err != nil {
		return err
	}
	dev, err := usb.Open(ctx, vid, pid)
	if err != nil {
		return err
	}
	if err := dev.Functional.CheckVersion(); err != nil {
		dev.Transport.Close()
		return err
	}

	engine := dfu.New(dev.Transport, dev.Functional, dev.Ident, notifications("Downloading"))
	defer engine.Close()

	state, err := engine.State()
	if err != nil {
		return err
	}
	if state.IsAppState() {
		if skip, err := versionCurrent(opts, file, dev); err != nil {
			return err
		} else if skip {
			log.Infof("device firmware is already current, not flashing")
			return nil
		}
		log.Infof("switching %s to DFU mode", dev.Ident)
		if err := engine.Reconfigure(); err != nil {
			return err
		}
		if dev, err = usb.Open(ctx, vid, pid); err != nil {
			return fmt.Errorf("reopening after detach: %w", err)
		}
		engine = dfu.New(dev.Transport, dev.Functional, dev.Ident, notifications("Downloading"))
		defer engine.Close()
	}

	if file.Suffix != nil {
		if err := engine.CheckFileVersion(dfu.BCD(file.Suffix.BcdDFU)); err != nil {
			return err
		}
	}

	log.Infof("downloading %s (%s) to %s", opts.Image,
		humanize.Bytes(imagesSize(file.Images)), dev.Ident)
	if dev.Functional.DfuSe() {
		err = engine.DownloadDfuSe(file.Images)
	} else {
		err = plainDownload(engine, file)
	}
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	if err := engine.Manifest(); err != nil {
		return err
	}
	log.Infof("download complete")
	return nil
}

// plainDownload flattens the file into the single contiguous byte run
// DFU 1.1 can carry.
func plainDownload(engine *dfu.Device, file *fwfile.File) error {
	if len(file.Images) != 1 {
		return fmt.Errorf("plain DFU device cannot take a %d-target image", len(file.Images))
	}
	segments := file.Images[0].Memory.Segments()
	if len(segments) != 1 {
		return fmt.Errorf("plain DFU device needs a contiguous image, file has %d segments", len(segments))
	}
	return engine.Download(segments[0].Data())
}

// versionCurrent implements the -v skip policy: in application mode,
// a file no newer than the running firmware is not flashed.
func versionCurrent(opts *options, file *fwfile.File, dev *usb.Device) (bool, error) {
	fileVersion := dfu.BCD(0xffff)
	if file.Suffix != nil && file.Suffix.BcdDevice != 0xffff {
		fileVersion = dfu.BCD(file.Suffix.BcdDevice)
	} else if opts.Version != "" {
		v, err := parseVersion(opts.Version)
		if err != nil {
			return false, err
		}
		fileVersion = v
	}
	if fileVersion == 0xffff {
		return false, nil
	}
	return fileVersion <= dev.Ident.ProductVersion, nil
}

func imagesSize(images []fwfile.Image) uint64 {
	var n uint64
	for _, img := range images {
		n += img.Memory.Size()
	}
	return n
}

func uploadFirmware(ctx *gousb.Context, opts *options) error {
	if opts.Device == "" {
		return fmt.Errorf("upload needs a -d vid:pid")
	}
	vid, pid, err := parseDeviceID(opts.Device)
	if err != nil {
		return err
	}
	dev, err := usb.Open(ctx, vid, pid)
	if err != nil {
		return err
	}
	if err := dev.Functional.CheckVersion(); err != nil {
		dev.Transport.Close()
		return err
	}

	engine := dfu.New(dev.Transport, dev.Functional, dev.Ident, notifications("Uploading"))
	defer engine.Close()

	var data []byte
	if dev.Functional.DfuSe() {
		mem, err := engine.UploadDfuSe(opts.Alt)
		if err != nil {
			return err
		}
		data = mem.Segments()[0].Data()
	} else {
		if data, err = engine.Upload(0); err != nil {
			return err
		}
	}
	fmt.Fprintln(os.Stderr)

	if err := os.WriteFile(opts.Upload, data, 0o644); err != nil {
		return err
	}
	log.Infof("uploaded %s to %s", humanize.Bytes(uint64(len(data))), opts.Upload)
	return nil
}

func listDevices(ctx *gousb.Context) error {
	devices, err := usb.List(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no DFU-capable devices found")
		return nil
	}

	for _, dev := range devices {
		name := dev.Product
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%s  %s\n", dev.Ident, name)
		for _, alt := range dev.Transport.AltSettings() {
			desc, err := dev.Transport.AltName(alt)
			if err != nil {
				continue
			}
			fmt.Printf("    alt %d: %s\n", alt, desc)
		}
		dev.Transport.Close()
	}
	return nil
}
