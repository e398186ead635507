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

package engine

import (
	"crypto/aes"
	"crypto/cipher"

	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/internal/sensitive"
)

// SoftAES is a software AES-GCM engine with key registers.
type SoftAES struct {
	slots         [secloader.NumKeySlots][]byte
	dpaSupported  bool
	dpaEnabled    bool
	kekOperations int
}

// NewSoftAES returns a new software AES engine. The dpaSupported argument
// controls whether the engine claims to implement DPA countermeasures.
func NewSoftAES(dpaSupported bool) *SoftAES {
	return &SoftAES{dpaSupported: dpaSupported}
}

func validSlot(slot secloader.KeySlot) bool {
	return slot >= 0 && slot < secloader.NumKeySlots
}

func (e *SoftAES) WriteKey(slot secloader.KeySlot, key []byte) error {
	if !validSlot(slot) {
		return xerrors.Errorf("invalid key slot %d: %w", slot, ErrInvalidInput)
	}
	e.clear(slot)
	e.slots[slot] = append([]byte(nil), key...)
	return nil
}

func (e *SoftAES) clear(slot secloader.KeySlot) {
	if e.slots[slot] != nil {
		sensitive.Clear(e.slots[slot])
		e.slots[slot] = nil
	}
}

func (e *SoftAES) ClearKey(slot secloader.KeySlot) error {
	if !validSlot(slot) {
		return xerrors.Errorf("invalid key slot %d: %w", slot, ErrInvalidInput)
	}
	e.clear(slot)
	return nil
}

// Loaded indicates whether the specified slot contains a key.
func (e *SoftAES) Loaded(slot secloader.KeySlot) bool {
	return validSlot(slot) && e.slots[slot] != nil
}

// KekOperations returns the number of key unwrap operations performed.
func (e *SoftAES) KekOperations() int {
	return e.kekOperations
}

func (e *SoftAES) gcm(slot secloader.KeySlot) (cipher.AEAD, error) {
	if !validSlot(slot) {
		return nil, xerrors.Errorf("invalid key slot %d: %w", slot, ErrInvalidInput)
	}
	key := e.slots[slot]
	if key == nil {
		return nil, ErrKeyNotLoaded
	}
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Errorf("cannot create cipher: %w", err)
	}
	return cipher.NewGCM(b)
}

func (e *SoftAES) Open(dst []byte, slot secloader.KeySlot, iv, in []byte) ([]byte, error) {
	if len(iv) != secloader.IvLen || len(in) < secloader.GcmTagLen {
		return nil, ErrInvalidInput
	}
	aead, err := e.gcm(slot)
	if err != nil {
		return nil, err
	}
	out, err := aead.Open(dst, iv, in, nil)
	if err != nil {
		return nil, ErrTagMismatch
	}
	return out, nil
}

func (e *SoftAES) KekDecrypt(kek, src, dst secloader.KeySlot, iv []byte) error {
	e.kekOperations++
	if !validSlot(src) || !validSlot(dst) {
		return xerrors.Errorf("invalid key slot: %w", ErrInvalidInput)
	}
	black := e.slots[src]
	if black == nil {
		return ErrKeyNotLoaded
	}
	if len(black) != secloader.AesKeyLen+secloader.GcmTagLen {
		return xerrors.Errorf("invalid black key length: %w", ErrInvalidInput)
	}
	red, err := e.Open(nil, kek, iv, black)
	if err != nil {
		return err
	}
	defer sensitive.Clear(red)
	return e.WriteKey(dst, red)
}

func (e *SoftAES) SetDpaCountermeasure(enable bool) error {
	if enable && !e.dpaSupported {
		return ErrDpaUnsupported
	}
	e.dpaEnabled = enable
	return nil
}

func (e *SoftAES) DpaCountermeasureSupported() bool {
	return e.dpaSupported
}

// DpaCountermeasureEnabled indicates whether DPA countermeasures are
// currently enabled.
func (e *SoftAES) DpaCountermeasureEnabled() bool {
	return e.dpaEnabled
}

func (e *SoftAES) Reset() error {
	e.clear(secloader.KeySlotKUP)
	e.clear(secloader.KeySlotPUF)
	e.dpaEnabled = false
	return nil
}
