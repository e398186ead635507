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
	"crypto"
	_ "crypto/sha256"
	"errors"

	kdf "github.com/canonical/go-sp800.108-kdf"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/engine"
)

var ErrNoHelperData = errors.New("no PUF helper data")

// DeriveKEK derives the key encryption key that a PUF with the supplied
// device secret regenerates from helper.
func DeriveKEK(secret, helper []byte) []byte {
	return kdf.CounterModeKey(kdf.NewHMACPRF(crypto.SHA256), secret, []byte("PUF-KEK"), helper, secloader.AesKeyLen*8)
}

// PUF is a model of the physically unclonable function. The device unique
// response is modelled as a secret, from which the key encryption key is
// derived with the helper data as context.
type PUF struct {
	aes    engine.AES
	secret []byte
	helper map[secloader.PufHelperLocation][]byte

	calls map[secloader.PufHelperLocation]int
}

// NewPUF returns a new PUF that loads the regenerated key into the
// supplied AES engine.
func NewPUF(aes engine.AES, secret []byte) *PUF {
	return &PUF{
		aes:    aes,
		secret: secret,
		helper: make(map[secloader.PufHelperLocation][]byte),
		calls:  make(map[secloader.PufHelperLocation]int)}
}

// SetHelperData provisions helper data at the specified location.
func (p *PUF) SetHelperData(loc secloader.PufHelperLocation, helper []byte) {
	p.helper[loc] = helper
}

// KEK returns the key that will be regenerated from the helper data at
// loc.
func (p *PUF) KEK(loc secloader.PufHelperLocation) []byte {
	return DeriveKEK(p.secret, p.helper[loc])
}

func (p *PUF) Regenerate(loc secloader.PufHelperLocation) error {
	p.calls[loc]++
	helper, ok := p.helper[loc]
	if !ok {
		return ErrNoHelperData
	}
	kek := DeriveKEK(p.secret, helper)
	return p.aes.WriteKey(secloader.KeySlotPUF, kek)
}

// Calls returns the number of regenerations from the helper data at loc.
func (p *PUF) Calls(loc secloader.PufHelperLocation) int {
	return p.calls[loc]
}

// TotalCalls returns the number of regenerations.
func (p *PUF) TotalCalls() (n int) {
	for _, c := range p.calls {
		n += c
	}
	return n
}
