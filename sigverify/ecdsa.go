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

package sigverify

import (
	"github.com/canonical/secloader"
	"github.com/canonical/secloader/engine"
	internal_crypto "github.com/canonical/secloader/internal/crypto"
	"github.com/canonical/secloader/internal/redundant"
	"github.com/canonical/secloader/kat"
)

// VerifyECDSA verifies the ECDSA signature sig (r followed by s) over hash,
// using the key blob key (Qx followed by Qy). All values are big-endian.
func (v *Verifier) VerifyECDSA(curve engine.Curve, hash, key, sig []byte) error {
	const op = "verify ECDSA signature"
	return collapse(op, v.verifyECDSA(op, curve, hash, key, sig))
}

func (v *Verifier) verifyECDSA(op string, curve engine.Curve, hash, key, sig []byte) error {
	var p kat.Primitive
	switch curve {
	case engine.CurveP384:
		p = kat.ECCP384
	case engine.CurveP521:
		p = kat.ECCP521
	default:
		return secloader.CryptoError(op, secloader.ErrInvalidAlgorithm)
	}
	if err := v.ensureTested(p); err != nil {
		return err
	}

	n := curve.CoordLen()
	if len(hash) != secloader.HashLen || len(key) != 2*n || len(sig) != 2*n {
		return failed("invalid input length")
	}

	qx := internal_crypto.ReverseBytes(key[:n])
	qy := internal_crypto.ReverseBytes(key[n:])
	r := internal_crypto.ReverseBytes(sig[:n])
	s := internal_crypto.ReverseBytes(sig[n:])
	h := internal_crypto.ReverseBytes(hash)

	ecc := v.engines.ECC

	if err := check(op, redundant.FromBools(ecc.ValidateKey(curve, qx, qy) == nil, ecc.ValidateKey(curve, qx, qy) == nil), "invalid public key"); err != nil {
		return err
	}
	return check(op, redundant.FromBools(ecc.Verify(curve, h, qx, qy, r, s) == nil, ecc.Verify(curve, h, qx, qy, r, s) == nil), "signature mismatch")
}
