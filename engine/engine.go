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

// Package engine defines the interfaces to the crypto accelerators used
// during secure boot, along with software implementations of them.
//
// The software implementations follow the data conventions of the
// hardware. In particular, the ECC engine consumes field elements least
// significant byte first.
package engine

import (
	"errors"

	"github.com/canonical/secloader"
)

var (
	// ErrTagMismatch is returned from AES.Open when the authentication
	// tag does not match.
	ErrTagMismatch = errors.New("GCM tag mismatch")

	// ErrKeyNotLoaded is returned when an operation references an empty
	// key slot.
	ErrKeyNotLoaded = errors.New("key slot is empty")

	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidPublicKey = errors.New("public key is not a valid point on the curve")
	ErrVerifyFailed     = errors.New("signature verification failed")
	ErrDpaUnsupported   = errors.New("DPA countermeasures are not supported")
)

// SHA3 is the SHA3-384 engine.
type SHA3 interface {
	// Digest returns the digest of the concatenation of parts.
	Digest(parts ...[]byte) ([]byte, error)
}

// RSA is the RSA public key engine.
type RSA interface {
	// PublicEncrypt computes in^exponent mod modulus, returning a result
	// the same length as modulus. The modulus and input are big-endian.
	PublicEncrypt(modulus []byte, exponent uint32, in []byte) ([]byte, error)
}

// Curve identifies a curve supported by the ECC engine.
type Curve int

const (
	CurveP384 Curve = iota
	CurveP521
)

// CoordLen returns the size of a field element for this curve.
func (c Curve) CoordLen() int {
	switch c {
	case CurveP384:
		return secloader.P384CoordLen
	case CurveP521:
		return secloader.P521CoordLen
	default:
		return 0
	}
}

func (c Curve) String() string {
	switch c {
	case CurveP384:
		return "P-384"
	case CurveP521:
		return "P-521"
	default:
		return "invalid"
	}
}

// ECC is the elliptic curve engine. All field elements and the hash are
// little-endian.
type ECC interface {
	// ValidateKey checks that (qx, qy) is a valid point on curve.
	ValidateKey(curve Curve, qx, qy []byte) error

	// Verify verifies the ECDSA signature (r, s) of hash with the public
	// key (qx, qy).
	Verify(curve Curve, hash, qx, qy, r, s []byte) error
}

// AES is the AES-GCM engine with its key registers.
type AES interface {
	// WriteKey loads key into the specified slot.
	WriteKey(slot secloader.KeySlot, key []byte) error

	// ClearKey zeroizes the specified slot.
	ClearKey(slot secloader.KeySlot) error

	// KekDecrypt unwraps the black key held in src with the key
	// encryption key held in kek, and loads the result into dst.
	KekDecrypt(kek, src, dst secloader.KeySlot, iv []byte) error

	// Open decrypts a single GCM unit consisting of ciphertext followed
	// by a tag, using the key in slot. The plaintext is appended to dst.
	Open(dst []byte, slot secloader.KeySlot, iv, in []byte) ([]byte, error)

	// SetDpaCountermeasure enables or disables the DPA countermeasures.
	SetDpaCountermeasure(enable bool) error

	// DpaCountermeasureSupported indicates whether the engine has DPA
	// countermeasures.
	DpaCountermeasureSupported() bool

	// Reset returns the engine to its idle state, clearing the transient
	// key slots.
	Reset() error
}

// Engines groups the crypto engines of a device.
type Engines struct {
	SHA3 SHA3
	RSA  RSA
	ECC  ECC
	AES  AES
}

// NewSoftEngines returns a new set of software engines.
func NewSoftEngines() *Engines {
	return &Engines{
		SHA3: SoftSHA3{},
		RSA:  SoftRSA{},
		ECC:  SoftECC{},
		AES:  NewSoftAES(true),
	}
}
