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

package pdigen

import (
	"io"

	"golang.org/x/xerrors"

	"github.com/canonical/secloader/authjtag"
)

// UnlockParams describes an authenticated JTAG unlock message.
type UnlockParams struct {
	PPK          *Key
	RevocationID uint32

	// Dna is compared with the device DNA if it is not nil.
	Dna []byte

	Timeout uint32
}

// NewUnlockMessage creates an unlock message signed by the PPK.
func NewUnlockMessage(rand io.Reader, params *UnlockParams) (*authjtag.Message, error) {
	m := &authjtag.Message{
		AuthHeader:          params.PPK.Algorithm.AuthHeader(),
		RevocationIDMsgType: params.RevocationID,
		Timeout:             params.Timeout,
		PPK:                 params.PPK.PublicBlob()}
	if params.Dna != nil {
		m.Attributes |= authjtag.AttributeUseDna
		copy(m.Dna[:], params.Dna)
	}

	sig, err := params.PPK.Sign(rand, Digest(m.SignedData()))
	if err != nil {
		return nil, xerrors.Errorf("cannot sign unlock message: %w", err)
	}
	m.Signature = sig
	return m, nil
}
