// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

// Package dfu drives a DFU-capable USB device through detach,
// reconfiguration, firmware download, manifestation and upload. It
// implements the standard DFU 1.1 protocol and the STMicroelectronics
// DfuSe 1.1a extension over an abstract USB transport.
package dfu

import "fmt"

// State is the DFU interface state reported by GETSTATUS and GETSTATE.
type State uint8

const (
	AppIdle State = iota
	AppDetach
	Idle
	DnloadSync
	DnloadBusy
	DnloadIdle
	ManifestSync
	Manifest
	ManifestWaitReset
	UploadIdle
	ErrorState
)

var stateNames = map[State]string{
	AppIdle:           "appIDLE",
	AppDetach:         "appDETACH",
	Idle:              "dfuIDLE",
	DnloadSync:        "dfuDNLOAD-SYNC",
	DnloadBusy:        "dfuDNBUSY",
	DnloadIdle:        "dfuDNLOAD-IDLE",
	ManifestSync:      "dfuMANIFEST-SYNC",
	Manifest:          "dfuMANIFEST",
	ManifestWaitReset: "dfuMANIFEST-WAIT-RESET",
	UploadIdle:        "dfuUPLOAD-IDLE",
	ErrorState:        "dfuERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// IsAppState reports whether the device is still running its application
// firmware rather than the DFU bootloader.
func (s State) IsAppState() bool {
	return s < Idle
}

// Abortable reports whether ABORT returns the device to dfuIDLE from this
// state.
func (s State) Abortable() bool {
	switch s {
	case DnloadSync, DnloadIdle, ManifestSync, UploadIdle:
		return true
	}
	return false
}
