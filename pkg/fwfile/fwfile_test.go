// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package fwfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadFileDFU(t *testing.T) {
	file := AppendSuffix([]byte{1, 2, 3}, Suffix{
		IDVendor:  0x0483,
		IDProduct: 0xdf11,
		BcdDFU:    VersionDFU11,
	})
	path := writeTemp(t, "fw.dfu", file)

	f, err := LoadFile(path, 0)
	require.NoError(t, err)
	require.NotNil(t, f.Suffix)
	assert.Equal(t, uint16(0x0483), f.Suffix.IDVendor)
	require.Len(t, f.Images, 1)
}

func TestLoadFileHex(t *testing.T) {
	hex := strings.Join([]string{
		ihexLine(0x0000, ihexData, []byte{1, 2}),
		ihexLine(0, ihexEOF, nil),
	}, "\n")
	path := writeTemp(t, "fw.hex", []byte(hex))

	f, err := LoadFile(path, 0)
	require.NoError(t, err)
	assert.Nil(t, f.Suffix)
	assert.False(t, f.DfuSe())
	require.Len(t, f.Images, 1)
	assert.Equal(t, uint64(2), f.Images[0].Memory.Size())
}

func TestLoadFileSRec(t *testing.T) {
	srec := srecLine('1', 0x100, []byte{9, 8, 7})
	path := writeTemp(t, "fw.s19", []byte(srec))

	f, err := LoadFile(path, 0)
	require.NoError(t, err)
	require.Len(t, f.Images, 1)
	assert.Equal(t, uint64(0x100), f.Images[0].Memory.Start())
}

func TestLoadFileRawBinary(t *testing.T) {
	path := writeTemp(t, "fw.bin", []byte{0xca, 0xfe})

	f, err := LoadFile(path, 0x08000000)
	require.NoError(t, err)
	require.Len(t, f.Images, 1)
	seg := f.Images[0].Memory.Segments()[0]
	assert.Equal(t, uint64(0x08000000), seg.Start())
	assert.Equal(t, []byte{0xca, 0xfe}, seg.Data())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.bin"), 0)
	assert.Error(t, err)
}
