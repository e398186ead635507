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
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"math/big"

	"golang.org/x/xerrors"

	internal_crypto "github.com/canonical/secloader/internal/crypto"
)

// SoftECC is a software ECC engine.
type SoftECC struct{}

func (c Curve) params() (elliptic.Curve, ecdh.Curve) {
	switch c {
	case CurveP384:
		return elliptic.P384(), ecdh.P384()
	case CurveP521:
		return elliptic.P521(), ecdh.P521()
	default:
		return nil, nil
	}
}

func (SoftECC) publicKey(curve Curve, qx, qy []byte) (*ecdsa.PublicKey, error) {
	ec, dh := curve.params()
	if ec == nil {
		return nil, xerrors.Errorf("invalid curve: %w", ErrInvalidInput)
	}
	n := curve.CoordLen()
	if len(qx) != n || len(qy) != n {
		return nil, xerrors.Errorf("invalid coordinate length: %w", ErrInvalidPublicKey)
	}

	x := internal_crypto.ReverseBytes(qx)
	y := internal_crypto.ReverseBytes(qy)

	// ecdh rejects the identity and points that aren't on the curve.
	point := append([]byte{0x04}, x...)
	point = append(point, y...)
	if _, err := dh.NewPublicKey(point); err != nil {
		return nil, ErrInvalidPublicKey
	}

	return &ecdsa.PublicKey{
		Curve: ec,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y)}, nil
}

func (e SoftECC) ValidateKey(curve Curve, qx, qy []byte) error {
	_, err := e.publicKey(curve, qx, qy)
	return err
}

func (e SoftECC) Verify(curve Curve, hash, qx, qy, r, s []byte) error {
	pub, err := e.publicKey(curve, qx, qy)
	if err != nil {
		return err
	}
	n := curve.CoordLen()
	if len(r) != n || len(s) != n {
		return xerrors.Errorf("invalid signature length: %w", ErrInvalidInput)
	}

	ri := new(big.Int).SetBytes(internal_crypto.ReverseBytes(r))
	si := new(big.Int).SetBytes(internal_crypto.ReverseBytes(s))
	if !ecdsa.Verify(pub, internal_crypto.ReverseBytes(hash), ri, si) {
		return ErrVerifyFailed
	}
	return nil
}
