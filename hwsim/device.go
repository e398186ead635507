// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package hwsim

import (
	"errors"

	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
)

var ErrOutOfRange = errors.New("access is outside of the device")

// BootDevice is a boot device backed by a byte slice.
type BootDevice struct {
	Data []byte

	// FailAfter causes copies to fail once this many have succeeded,
	// if it is greater than zero.
	FailAfter int

	copies int
}

func (d *BootDevice) Copy(src uint64, dst []byte, flags secloader.CopyFlags) error {
	if d.FailAfter > 0 && d.copies >= d.FailAfter {
		return errors.New("device I/O error")
	}
	if src > uint64(len(d.Data)) || uint64(len(dst)) > uint64(len(d.Data))-src {
		return xerrors.Errorf("cannot copy %d bytes from offset %#x: %w", len(dst), src, ErrOutOfRange)
	}
	copy(dst, d.Data[src:])
	d.copies++
	return nil
}

// Copies returns the number of successful copies.
func (d *BootDevice) Copies() int {
	return d.copies
}

// Memory is a model of execution memory.
type Memory struct {
	Data []byte

	// Limit is the size of the memory if greater than zero.
	Limit uint64
}

func (m *Memory) Write(addr uint64, data []byte) error {
	end := addr + uint64(len(data))
	if end < addr || (m.Limit > 0 && end > m.Limit) {
		return xerrors.Errorf("cannot write %d bytes to %#x: %w", len(data), addr, ErrOutOfRange)
	}
	if uint64(len(m.Data)) < end {
		m.Data = append(m.Data, make([]byte, end-uint64(len(m.Data)))...)
	}
	copy(m.Data[addr:], data)
	return nil
}

// Read returns n bytes at addr.
func (m *Memory) Read(addr uint64, n int) []byte {
	if addr >= uint64(len(m.Data)) {
		return nil
	}
	end := addr + uint64(n)
	if end > uint64(len(m.Data)) {
		end = uint64(len(m.Data))
	}
	return m.Data[addr:end]
}
