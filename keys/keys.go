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

// Package keys resolves the key source declared by an encrypted partition
// to the AES key register that holds its plain key, unwrapping black keys
// with the PUF regenerated key encryption key on first use.
package keys

import (
	"fmt"

	"github.com/snapcore/snapd/logger"
	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/engine"
	"github.com/canonical/secloader/internal/redundant"
)

// Resolver maps key sources to key registers. It records the black sources
// that have already been unwrapped in this boot session, so that each is
// unwrapped at most once.
type Resolver struct {
	aes        engine.AES
	puf        secloader.PUF
	fuses      secloader.FuseStore
	bootHeader *secloader.BootHeader

	unwrapped uint32
}

// NewResolver returns a new Resolver. The boot header supplies the keys
// for the boot header key sources, and may be nil if those sources are
// not used.
func NewResolver(aes engine.AES, puf secloader.PUF, fuses secloader.FuseStore, bootHeader *secloader.BootHeader) *Resolver {
	return &Resolver{
		aes:        aes,
		puf:        puf,
		fuses:      fuses,
		bootHeader: bootHeader}
}

func cacheBit(src secloader.KeySource) uint32 {
	return 1 << uint32(src)
}

// Unwrapped indicates whether the black key for src has been unwrapped in
// this session.
func (r *Resolver) Unwrapped(src secloader.KeySource) bool {
	return r.unwrapped&cacheBit(src) != 0
}

func fuseResident(src secloader.KeySource) bool {
	switch src {
	case secloader.KeySourceEfuseBlack, secloader.KeySourceEfuseUser0Black, secloader.KeySourceEfuseUser1Black:
		return true
	default:
		return false
	}
}

// ResolveKey returns the key register holding the plain key for src. For
// black sources, the key encryption key is regenerated from the PUF helper
// data at loc and used to unwrap the black key with kekIV. Black keys
// provisioned in fuses are unwrapped with the IV programmed alongside
// them, and kekIV is ignored.
func (r *Resolver) ResolveKey(src secloader.KeySource, kekIV []byte, loc secloader.PufHelperLocation) (secloader.KeySlot, error) {
	const op = "resolve key"

	srcSlot, redSlot, ok := src.Slots()
	if !ok {
		return 0, secloader.PolicyError(fmt.Sprintf("%s %v", op, src), secloader.ErrInvalidKeySource)
	}

	if !src.IsBlack() {
		if src == secloader.KeySourceBootHeader {
			if err := r.loadBootHeaderKey(srcSlot, false); err != nil {
				return 0, err
			}
		}
		return redSlot, nil
	}

	if r.Unwrapped(src) {
		logger.Debugf("%v key already unwrapped", src)
		return redSlot, nil
	}

	if src == secloader.KeySourceBootHeaderBlack {
		if err := r.loadBootHeaderKey(srcSlot, true); err != nil {
			return 0, err
		}
	}

	if fuseResident(src) {
		iv, err := redundant.ReadBytes("read black key IV", r.fuses.BlackIV)
		if err != nil {
			return 0, err
		}
		kekIV = iv
	}

	if err := r.puf.Regenerate(loc); err != nil {
		return 0, &secloader.Error{Kind: secloader.ErrorKindCrypto, Op: op, Err: secloader.ErrPufRegenFailed, Cause: err}
	}
	defer r.aes.ClearKey(secloader.KeySlotPUF)

	if err := r.aes.KekDecrypt(secloader.KeySlotPUF, srcSlot, redSlot, kekIV); err != nil {
		return 0, &secloader.Error{Kind: secloader.ErrorKindCrypto, Op: fmt.Sprintf("unwrap %v key", src), Err: secloader.ErrKekUnwrapFailed, Cause: err}
	}

	r.unwrapped |= cacheBit(src)
	logger.Debugf("unwrapped %v key with PUF helper data from %v", src, loc)
	return redSlot, nil
}

func (r *Resolver) loadBootHeaderKey(slot secloader.KeySlot, black bool) error {
	if r.bootHeader == nil {
		return secloader.PolicyError("load boot header key", secloader.ErrInvalidKeySource)
	}
	key := r.bootHeader.RedKey
	if black {
		key = r.bootHeader.BlackKey
	}
	if err := r.aes.WriteKey(slot, key); err != nil {
		return secloader.IOError("load boot header key", secloader.ErrInvalidKeySource, err)
	}
	return nil
}

// SetDpaCountermeasure configures the DPA countermeasures of the AES
// engine. A request to disable them is accepted on an engine that doesn't
// support them.
func (r *Resolver) SetDpaCountermeasure(enable bool) error {
	if !enable && !r.aes.DpaCountermeasureSupported() {
		return nil
	}
	if err := r.aes.SetDpaCountermeasure(enable); err != nil {
		return &secloader.Error{Kind: secloader.ErrorKindCrypto, Op: "configure DPA countermeasures", Err: secloader.ErrDecryptFailed, Cause: err}
	}
	return nil
}

// Clear zeroizes the plain keys that were unwrapped in this session, and
// forgets them.
func (r *Resolver) Clear() error {
	for src := secloader.KeySourceNone; src <= secloader.KeySourceUser7; src++ {
		if !r.Unwrapped(src) {
			continue
		}
		_, red, _ := src.Slots()
		if err := r.aes.ClearKey(red); err != nil {
			return xerrors.Errorf("cannot clear %v key: %w", src, err)
		}
	}
	r.unwrapped = 0
	return nil
}
