// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

package memmap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadLayoutString is returned when a DfuSe alt-setting string does not
// follow the memory-layout grammar.
var ErrBadLayoutString = errors.New("memmap: malformed layout string")

// ParseLayout parses a DfuSe alt-setting string descriptor of the form
//
//	@Internal Flash /0x08000000/16*001Ka,112*001Kg
//
// into a NamedLayout. Block sizes multiply by the unit letter (space for
// bytes, K, M); the final letter of each group carries the permission bits
// in its low three bits.
func ParseLayout(desc string) (*NamedLayout, error) {
	if !strings.HasPrefix(desc, "@") {
		return nil, fmt.Errorf("%w: missing leading '@' in %q", ErrBadLayoutString, desc)
	}
	rest := desc[1:]

	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return nil, fmt.Errorf("%w: missing address in %q", ErrBadLayoutString, desc)
	}
	name := strings.TrimSpace(rest[:slash])
	rest = rest[slash+1:]

	slash = strings.IndexByte(rest, '/')
	if slash < 0 {
		return nil, fmt.Errorf("%w: missing block list in %q", ErrBadLayoutString, desc)
	}
	addrField := strings.TrimSpace(rest[:slash])
	if !strings.HasPrefix(addrField, "0x") && !strings.HasPrefix(addrField, "0X") {
		return nil, fmt.Errorf("%w: address %q lacks 0x prefix", ErrBadLayoutString, addrField)
	}
	addr, err := strconv.ParseUint(addrField[2:], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad address %q", ErrBadLayoutString, addrField)
	}

	layout := &NamedLayout{Name: name}
	for _, group := range strings.Split(rest[slash+1:], ",") {
		count, size, perms, err := parseBlockGroup(group)
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < count; i++ {
			if err := layout.Append(NewBlock(addr, size, perms)); err != nil {
				return nil, err
			}
			addr += size
		}
	}
	if layout.Empty() {
		return nil, fmt.Errorf("%w: no blocks in %q", ErrBadLayoutString, desc)
	}
	return layout, nil
}

// parseBlockGroup decodes one "<n>*<size><unit><perm>" group.
func parseBlockGroup(group string) (count, size uint64, perms Permissions, err error) {
	star := strings.IndexByte(group, '*')
	if star < 0 {
		return 0, 0, 0, fmt.Errorf("%w: missing '*' in group %q", ErrBadLayoutString, group)
	}
	count, err = strconv.ParseUint(strings.TrimSpace(group[:star]), 10, 32)
	if err != nil || count == 0 {
		return 0, 0, 0, fmt.Errorf("%w: bad block count in group %q", ErrBadLayoutString, group)
	}

	tail := group[star+1:]
	if len(tail) < 2 {
		return 0, 0, 0, fmt.Errorf("%w: truncated group %q", ErrBadLayoutString, group)
	}
	perm := tail[len(tail)-1]
	if perm < 'a' || perm > 'g' {
		return 0, 0, 0, fmt.Errorf("%w: bad permission letter %q in group %q", ErrBadLayoutString, perm, group)
	}
	perms = Permissions(perm & 0x07)

	unit := tail[len(tail)-2]
	digits := tail[:len(tail)-2]
	var mult uint64
	switch unit {
	case ' ':
		mult = 1
	case 'K':
		mult = 1024
	case 'M':
		mult = 1024 * 1024
	default:
		// No unit letter: the size digits run up to the permission.
		mult = 1
		digits = tail[:len(tail)-1]
	}
	size, err = strconv.ParseUint(digits, 10, 32)
	if err != nil || size == 0 {
		return 0, 0, 0, fmt.Errorf("%w: bad block size in group %q", ErrBadLayoutString, group)
	}
	return count, size * mult, perms, nil
}
