// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package fwfile

import (
	"io"

	"dfutool/pkg/memmap"
)

// srecAddrLen maps an S-record type digit to its address width in bytes.
// S4 is reserved and absent.
var srecAddrLen = map[byte]int{
	'0': 2, // header
	'1': 2, // data
	'2': 3, // data
	'3': 4, // data
	'5': 2, // record count
	'6': 3, // record count
	'7': 4, // start address
	'8': 3, // start address
	'9': 2, // start address
}

// ParseSRec decodes a Motorola S-record image into a RawMemory.
func ParseSRec(rdr io.Reader) (*memmap.RawMemory, error) {
	mem := &memmap.RawMemory{}
	acc := newSegmentAccumulator(mem)
	s := newRecordScanner(rdr)

	dataRecords := 0
	for {
		line, ok := s.next()
		if !ok {
			break
		}
		if line[0] != 'S' || len(line) < 2 {
			return nil, s.errf("record does not start with 'S'")
		}
		typ := line[1]
		addrLen, ok := srecAddrLen[typ]
		if !ok {
			return nil, s.errf("unknown record type S%c", typ)
		}
		rec, err := s.hexField(line[2:])
		if err != nil {
			return nil, err
		}
		if len(rec) < 1 || int(rec[0]) != len(rec)-1 {
			return nil, s.errf("byte count does not match record length")
		}
		if len(rec) < 1+addrLen+1 {
			return nil, s.errf("record too short for S%c address", typ)
		}

		sum := byte(0)
		for _, b := range rec[:len(rec)-1] {
			sum += b
		}
		if sum^0xff != rec[len(rec)-1] {
			return nil, s.checksumErr()
		}

		var addr uint64
		for _, b := range rec[1 : 1+addrLen] {
			addr = addr<<8 | uint64(b)
		}
		data := rec[1+addrLen : len(rec)-1]

		switch typ {
		case '0':
			// Header record: module name and version, not stored.
		case '1', '2', '3':
			dataRecords++
			if err := acc.add(addr, data); err != nil {
				return nil, err
			}
		case '5', '6':
			if len(data) != 0 {
				return nil, s.errf("count record carries data")
			}
			if int(addr) != dataRecords {
				return nil, s.errf("record count %d, file has %d data records", addr, dataRecords)
			}
		case '7', '8', '9':
			// Start-address record ends the data stream.
			if err := acc.flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := acc.flush(); err != nil {
		return nil, err
	}
	return mem, nil
}
