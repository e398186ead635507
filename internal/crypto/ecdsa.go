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


// Package crypto contains helpers for the crypto engines and for the image
// builder.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"io"
	"math/big"
)

// GenerateECDSAKey derives a key pair for curve from rand using the
// extra random bits method of FIPS 186-4 B.4.1, so the same input stream
// always produces the same key. crypto/ecdsa stopped guaranteeing this in
// go1.20. The image builder relies on it to produce stable PPKs and SPKs
// from a seeded DRBG.
func GenerateECDSAKey(curve elliptic.Curve, rand io.Reader) (*ecdsa.PrivateKey, error) {
	n := curve.Params().N

	// The byte count is rounded down, so P-521 reads 63 bits too few
	// for N+64. This matches crypto/ecdsa before go1.20.
	c := make([]byte, n.BitLen()/8+8)
	if _, err := io.ReadFull(rand, c); err != nil {
		return nil, err
	}

	// d = (c mod (n-1)) + 1
	d := new(big.Int).SetBytes(c)
	d.Mod(d, new(big.Int).Sub(n, big.NewInt(1)))
	d.Add(d, big.NewInt(1))

	x, y := curve.ScalarBaseMult(d.Bytes())
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d}, nil
}
