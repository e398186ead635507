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
	"encoding/binary"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/internal/redundant"
	"github.com/canonical/secloader/kat"
)

const (
	pssEmLen     = secloader.RsaModulusLen
	pssSaltLen   = secloader.HashLen
	pssDbLen     = pssEmLen - secloader.HashLen - 1
	pssPadLen    = pssDbLen - pssSaltLen - 1
	pssTrailer   = 0xbc
	pssSeparator = 0x01
)

// mgf1 generates a mask of length n from seed, using SHA3-384 as the hash.
func (v *Verifier) mgf1(seed []byte, n int) ([]byte, error) {
	mask := make([]byte, 0, n+secloader.HashLen)
	var counter [4]byte
	for i := uint32(0); len(mask) < n; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		d, err := v.engines.SHA3.Digest(seed, counter[:])
		if err != nil {
			return nil, err
		}
		mask = append(mask, d...)
	}
	return mask[:n], nil
}

// VerifyRSA verifies the RSASSA-PSS signature sig over the SHA3-384 digest
// hash, using the 4096-bit key blob key (modulus followed by a 32-bit
// exponent). The salt length is the digest length.
func (v *Verifier) VerifyRSA(hash, key, sig []byte) error {
	const op = "verify RSA-PSS signature"
	return collapse(op, v.verifyRSA(op, hash, key, sig))
}

func (v *Verifier) verifyRSA(op string, hash, key, sig []byte) error {
	if err := v.ensureTested(kat.RSA); err != nil {
		return err
	}
	if err := v.ensureTested(kat.Hash); err != nil {
		return err
	}

	if len(hash) != secloader.HashLen || len(key) != secloader.RsaKeyLen || len(sig) != secloader.RsaSigLen {
		return failed("invalid input length")
	}

	modulus, exponent := RSAPublicKey(key)
	em, err := v.engines.RSA.PublicEncrypt(modulus, exponent, sig)
	if err != nil {
		return failed("cannot recover encoded message: " + err.Error())
	}
	if len(em) != pssEmLen {
		return failed("invalid encoded message length")
	}

	if err := check(op, redundant.FromBools(em[pssEmLen-1] == pssTrailer, em[len(em)-1]^pssTrailer == 0), "invalid trailer"); err != nil {
		return err
	}
	if err := check(op, redundant.FromBools(em[0]&0x80 == 0, em[0]>>7 == 0), "leftmost bit is set"); err != nil {
		return err
	}

	maskedDB := em[:pssDbLen]
	h := em[pssDbLen : pssEmLen-1]

	mask, err := v.mgf1(h, pssDbLen)
	if err != nil {
		return err
	}
	db := make([]byte, pssDbLen)
	for i := range db {
		db[i] = maskedDB[i] ^ mask[i]
	}
	db[0] &= 0x7f

	if err := check(op, redundant.IsZero(db[:pssPadLen]), "invalid padding"); err != nil {
		return err
	}
	if err := check(op, redundant.FromBools(db[pssPadLen] == pssSeparator, db[pssDbLen-pssSaltLen-1] == pssSeparator), "invalid separator"); err != nil {
		return err
	}

	salt := db[pssPadLen+1:]
	var zeroes [8]byte
	mPrime, err := v.engines.SHA3.Digest(zeroes[:], hash, salt)
	if err != nil {
		return err
	}
	mPrimeShadow, err := v.engines.SHA3.Digest(zeroes[:], hash, salt)
	if err != nil {
		return err
	}

	return check(op, redundant.EqualPair(mPrime, h, mPrimeShadow, h), "digest mismatch")
}
