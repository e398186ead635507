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

// Package sigverify implements the RSA-4096-PSS and ECDSA signature checks
// used to authenticate boot images, on top of the raw crypto engines.
//
// Every check that gates the result is evaluated twice. The reason for a
// verification failure is logged but not returned, so that callers only
// ever observe ErrAuthenticationFailed or ErrGlitchDetected.
package sigverify

import (
	"encoding/binary"

	"github.com/snapcore/snapd/logger"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/engine"
	"github.com/canonical/secloader/internal/redundant"
	"github.com/canonical/secloader/kat"
)

// Verifier verifies signatures with the supplied engines.
type Verifier struct {
	engines *engine.Engines
	kat     *kat.Gatekeeper
}

// NewVerifier returns a new Verifier. If gatekeeper is not nil, the known
// answer test for each primitive is run before its first use.
func NewVerifier(engines *engine.Engines, gatekeeper *kat.Gatekeeper) *Verifier {
	return &Verifier{engines: engines, kat: gatekeeper}
}

func (v *Verifier) ensureTested(p kat.Primitive) error {
	if v.kat == nil {
		return nil
	}
	return v.kat.EnsureTested(p)
}

type verifyError struct {
	reason string
}

func (e *verifyError) Error() string {
	return e.reason
}

func failed(reason string) error {
	return &verifyError{reason: reason}
}

// collapse converts an internal reason for a verification failure into
// the error returned to the caller. Glitch and KAT errors are returned
// unmodified.
func collapse(op string, err error) error {
	if err == nil {
		return nil
	}
	if ve, ok := err.(*verifyError); ok {
		logger.Debugf("%s: %s", op, ve.reason)
		return secloader.CryptoError(op, secloader.ErrAuthenticationFailed)
	}
	return err
}

// Verify verifies sig over hash using key, with the specified algorithm.
func (v *Verifier) Verify(alg secloader.AuthAlgorithm, hash, key, sig []byte) error {
	switch alg {
	case secloader.AuthAlgorithmRSA4096:
		return v.VerifyRSA(hash, key, sig)
	case secloader.AuthAlgorithmECDSAP384:
		return v.VerifyECDSA(engine.CurveP384, hash, key, sig)
	case secloader.AuthAlgorithmECDSAP521:
		return v.VerifyECDSA(engine.CurveP521, hash, key, sig)
	default:
		return secloader.CryptoError("verify signature", secloader.ErrInvalidAlgorithm)
	}
}

// RSAPublicKey splits an RSA key blob into its modulus and exponent.
func RSAPublicKey(key []byte) (modulus []byte, exponent uint32) {
	return key[:secloader.RsaModulusLen], binary.BigEndian.Uint32(key[secloader.RsaModulusLen:])
}

// check converts a doubled evaluation into an error.
func check(op string, o redundant.Outcome, reason string) error {
	ok, err := o.Result(op)
	if err != nil {
		return err
	}
	if !ok {
		return failed(reason)
	}
	return nil
}
