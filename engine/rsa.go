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
	"math/big"

	"golang.org/x/xerrors"
)

// SoftRSA is a software RSA engine.
type SoftRSA struct{}

func (SoftRSA) PublicEncrypt(modulus []byte, exponent uint32, in []byte) ([]byte, error) {
	n := new(big.Int).SetBytes(modulus)
	if n.Sign() == 0 || exponent == 0 {
		return nil, xerrors.Errorf("invalid public key: %w", ErrInvalidInput)
	}
	m := new(big.Int).SetBytes(in)
	if m.Cmp(n) >= 0 {
		return nil, xerrors.Errorf("input is not smaller than the modulus: %w", ErrInvalidInput)
	}
	out := new(big.Int).Exp(m, big.NewInt(int64(exponent)), n)
	return out.FillBytes(make([]byte, len(modulus))), nil
}
