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

// Package sensitive provides buffers for holding key material and
// unverified data that are cleared and checked on every exit path.
package sensitive

import (
	"github.com/snapcore/snapd/logger"
	"golang.org/x/sys/unix"
)

var (
	unixMlock   = unix.Mlock
	unixMunlock = unix.Munlock
)

func zeroizeImpl(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var zeroize = zeroizeImpl

// Buffer is a fixed size buffer for sensitive data. Its pages are locked
// in memory where the process is permitted to do so.
type Buffer struct {
	data   []byte
	locked bool
}

// NewBuffer returns a new buffer of the specified size.
func NewBuffer(size int) *Buffer {
	b := &Buffer{data: make([]byte, size)}
	if size == 0 {
		return b
	}
	if err := unixMlock(b.data); err != nil {
		logger.Debugf("cannot lock sensitive buffer: %v", err)
	} else {
		b.locked = true
	}
	return b
}

// Bytes returns the contents of the buffer. The returned slice aliases the
// buffer and must not be retained beyond its lifetime.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// Clear zeroes the buffer and then reads it back, returning true if every
// byte is zero.
func (b *Buffer) Clear() bool {
	return clearAndVerify(b.data)
}

// Release clears the buffer and unlocks its pages. The buffer must not be
// used afterwards.
func (b *Buffer) Release() bool {
	cleared := b.Clear()
	if b.locked {
		if err := unixMunlock(b.data); err != nil {
			logger.Debugf("cannot unlock sensitive buffer: %v", err)
		}
		b.locked = false
	}
	return cleared
}

func clearAndVerify(data []byte) bool {
	zeroize(data)
	var acc byte
	for _, v := range data {
		acc |= v
	}
	return acc == 0
}

// Clear zeroes the supplied slice and verifies the result.
func Clear(data []byte) bool {
	return clearAndVerify(data)
}

// With calls fn with a new buffer of the specified size, and releases the
// buffer when fn returns regardless of the outcome. The cleared result
// indicates whether the final clear succeeded.
func With(size int, fn func(b *Buffer) error) (cleared bool, err error) {
	b := NewBuffer(size)
	defer func() {
		cleared = b.Release()
	}()
	return false, fn(b)
}
