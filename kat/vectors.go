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

package kat

import (
	"bytes"
	"crypto/elliptic"
	"encoding/hex"
	"errors"
	"math/big"

	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/engine"
	internal_crypto "github.com/canonical/secloader/internal/crypto"
)

var errUnexpectedResult = errors.New("unexpected result")

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

var (
	sha3Message  = []byte("abc")
	sha3Expected = mustDecodeHex("ec01498288516fc926459f58e2c6ad8df9b473cb0fc08c2596da7cf0e49be4b298d88cea927ac7f539f1edf228376d25")

	// AES-256-GCM test case 15 from the GCM submission (McGrew and Viega).
	aesKey        = mustDecodeHex("feffe9928665731c6d6a8f9467308308feffe9928665731c6d6a8f9467308308")
	aesIV         = mustDecodeHex("cafebabefacedbaddecaf888")
	aesPlaintext  = mustDecodeHex("d9313225f88406e5a55909c5aff5269a86a7a9531534f7da2e4c303d8a318a721c3c0c95956809532fcf0e2449a6b525b16aedf5aa0de657ba637b391aafd255")
	aesCiphertext = mustDecodeHex("522dc1f099567d07f47f37a32a84427d643a8cdcbfe5c0c97598a2bd2555d1aa8cb08e48590dbb3da7b08b1056828838c5f61e6393ba7a0abcc9f662898015ad")
	aesTag        = mustDecodeHex("b094dac5d93471bdec1a502270e3cc6c")

	rsaModulus  = bytes.Repeat([]byte{0xff}, secloader.RsaModulusLen)
	rsaExponent = uint32(3)
)

// DefaultVectors returns the known answer tests for every primitive.
func DefaultVectors() map[Primitive]Vector {
	return map[Primitive]Vector{
		Hash:    sha3Vector,
		RSA:     rsaVector,
		ECCP384: func(e *engine.Engines) error { return eccVector(e, engine.CurveP384, elliptic.P384()) },
		ECCP521: func(e *engine.Engines) error { return eccVector(e, engine.CurveP521, elliptic.P521()) },
		AES:     aesVector,
		AESDPA:  aesDpaVector,
	}
}

func sha3Vector(e *engine.Engines) error {
	d, err := e.SHA3.Digest(sha3Message)
	if err != nil {
		return err
	}
	if !bytes.Equal(d, sha3Expected) {
		return errUnexpectedResult
	}
	return nil
}

func rsaVector(e *engine.Engines) error {
	// (2^100 + 1)^3 = 2^300 + 3*2^200 + 3*2^100 + 1
	m := new(big.Int).Lsh(big.NewInt(1), 100)
	m.Add(m, big.NewInt(1))

	expected := new(big.Int).Lsh(big.NewInt(1), 300)
	expected.Add(expected, new(big.Int).Lsh(big.NewInt(3), 200))
	expected.Add(expected, new(big.Int).Lsh(big.NewInt(3), 100))
	expected.Add(expected, big.NewInt(1))

	out, err := e.RSA.PublicEncrypt(rsaModulus, rsaExponent, m.FillBytes(make([]byte, secloader.RsaModulusLen)))
	if err != nil {
		return err
	}
	if !bytes.Equal(out, expected.FillBytes(make([]byte, secloader.RsaModulusLen))) {
		return errUnexpectedResult
	}
	return nil
}

// eccVector verifies a signature made with d = 1 and k = 1, for which
// Q = G, r = Gx mod n and s = e + r mod n.
func eccVector(e *engine.Engines, curve engine.Curve, ec elliptic.Curve) error {
	params := ec.Params()
	n := curve.CoordLen()

	hash := sha3Expected
	r := new(big.Int).Mod(params.Gx, params.N)
	s := new(big.Int).SetBytes(hash)
	s.Add(s, r)
	s.Mod(s, params.N)

	le := func(x *big.Int) []byte {
		return internal_crypto.ReverseBytes(x.FillBytes(make([]byte, n)))
	}
	qx, qy := le(params.Gx), le(params.Gy)
	h := internal_crypto.ReverseBytes(hash)

	if err := e.ECC.ValidateKey(curve, qx, qy); err != nil {
		return xerrors.Errorf("cannot validate key: %w", err)
	}
	if err := e.ECC.Verify(curve, h, qx, qy, le(r), le(s)); err != nil {
		return xerrors.Errorf("cannot verify signature: %w", err)
	}

	bad := le(s)
	bad[0] ^= 0x01
	if err := e.ECC.Verify(curve, h, qx, qy, le(r), bad); err == nil {
		return xerrors.Errorf("corrupted signature verified: %w", errUnexpectedResult)
	}
	return nil
}

func aesOpen(e *engine.Engines, in []byte) (out []byte, err error) {
	if err := e.AES.WriteKey(secloader.KeySlotKUP, aesKey); err != nil {
		return nil, err
	}
	defer func() {
		if clearErr := e.AES.ClearKey(secloader.KeySlotKUP); clearErr != nil && err == nil {
			err = clearErr
		}
	}()
	return e.AES.Open(nil, secloader.KeySlotKUP, aesIV, in)
}

// aesGcmVector decrypts the reference unit and checks the plaintext, then
// checks that the same unit with a corrupted tag is rejected.
func aesGcmVector(e *engine.Engines) error {
	unit := append(append([]byte(nil), aesCiphertext...), aesTag...)

	out, err := aesOpen(e, unit)
	if err != nil {
		return err
	}
	if !bytes.Equal(out, aesPlaintext) {
		return errUnexpectedResult
	}

	unit[len(unit)-1] ^= 0x01
	if _, err := aesOpen(e, unit); err == nil {
		return xerrors.Errorf("corrupted tag accepted: %w", errUnexpectedResult)
	}
	return nil
}

func aesVector(e *engine.Engines) error {
	return aesGcmVector(e)
}

func aesDpaVector(e *engine.Engines) (err error) {
	if !e.AES.DpaCountermeasureSupported() {
		return nil
	}
	if err := e.AES.SetDpaCountermeasure(true); err != nil {
		return err
	}
	defer func() {
		if resetErr := e.AES.SetDpaCountermeasure(false); resetErr != nil && err == nil {
			err = resetErr
		}
	}()
	return aesGcmVector(e)
}
