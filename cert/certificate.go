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

// Package cert implements the authentication certificate format and the
// PPK to SPK to content chain of trust.
package cert

import (
	"errors"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/internal/sensitive"
)

// AuthHeaderLen is the size of the authentication header that starts
// every certificate.
const AuthHeaderLen = 4

var errMalformed = errors.New("malformed certificate")

// Certificate is an authentication certificate. It is serialized as
//
//	[auth header][SPK][PPK][SPK signature][content signature]
//	[SPK revocation id][content revocation id]
//
// with all integers big-endian and field sizes determined by the algorithm
// selected in the auth header.
type Certificate struct {
	AuthHeader          uint32
	SPK                 []byte
	PPK                 []byte
	SPKSignature        []byte
	ContentSignature    []byte
	SPKRevocationID     uint32
	ContentRevocationID uint32
}

// Size returns the serialized size of a certificate for alg, or 0 if alg
// is invalid.
func Size(alg secloader.AuthAlgorithm) int {
	if !alg.IsValid() {
		return 0
	}
	return AuthHeaderLen + 2*alg.KeyLen() + 2*alg.SignatureLen() + 8
}

// Algorithm returns the signature algorithm selected by the certificate.
func (c *Certificate) Algorithm() secloader.AuthAlgorithm {
	return secloader.AlgorithmFromAuthHeader(c.AuthHeader)
}

// ParseCertificate decodes a certificate. The size of data must match the
// size required by the algorithm in the auth header.
func ParseCertificate(data []byte) (*Certificate, error) {
	s := cryptobyte.String(data)

	c := new(Certificate)
	if !s.ReadUint32(&c.AuthHeader) {
		return nil, errMalformed
	}
	alg := c.Algorithm()
	if !alg.IsValid() {
		return nil, secloader.CryptoError("parse certificate", secloader.ErrInvalidAlgorithm)
	}
	if len(data) != Size(alg) {
		return nil, xerrors.Errorf("invalid size %d for %v: %w", len(data), alg, errMalformed)
	}

	keyLen := alg.KeyLen()
	sigLen := alg.SignatureLen()
	if !s.ReadBytes(&c.SPK, keyLen) ||
		!s.ReadBytes(&c.PPK, keyLen) ||
		!s.ReadBytes(&c.SPKSignature, sigLen) ||
		!s.ReadBytes(&c.ContentSignature, sigLen) ||
		!s.ReadUint32(&c.SPKRevocationID) ||
		!s.ReadUint32(&c.ContentRevocationID) ||
		!s.Empty() {
		return nil, errMalformed
	}
	return c, nil
}

func (c *Certificate) marshal(includeContentSignature bool) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint32(c.AuthHeader)
	b.AddBytes(c.SPK)
	b.AddBytes(c.PPK)
	b.AddBytes(c.SPKSignature)
	if includeContentSignature {
		b.AddBytes(c.ContentSignature)
	}
	b.AddUint32(c.SPKRevocationID)
	b.AddUint32(c.ContentRevocationID)
	return b.BytesOrPanic()
}

// Marshal serializes the certificate.
func (c *Certificate) Marshal() []byte {
	return c.marshal(true)
}

// Preamble returns the certificate without its content signature. The
// content signature covers the preamble followed by the first chunk of
// the content.
func (c *Certificate) Preamble() []byte {
	return c.marshal(false)
}

// SPKSignedData returns the data covered by the SPK signature.
func (c *Certificate) SPKSignedData() []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint32(c.AuthHeader)
	b.AddBytes(c.SPK)
	return b.BytesOrPanic()
}

// Zeroize clears every field of the certificate, returning true if the
// clear was verified.
func (c *Certificate) Zeroize() bool {
	ok := true
	for _, f := range [][]byte{c.SPK, c.PPK, c.SPKSignature, c.ContentSignature} {
		if !sensitive.Clear(f) {
			ok = false
		}
	}
	c.AuthHeader = 0
	c.SPKRevocationID = 0
	c.ContentRevocationID = 0
	return ok && c.AuthHeader == 0 && c.SPKRevocationID == 0 && c.ContentRevocationID == 0
}

// ReadCertificate copies a certificate from the boot device at offset. The
// auth header is copied first to determine the size of the certificate.
func ReadCertificate(dev secloader.DeviceCopier, offset uint64) (*Certificate, error) {
	var hdr [AuthHeaderLen]byte
	if err := dev.Copy(offset, hdr[:], secloader.CopyFlagDMA); err != nil {
		return nil, secloader.IOError("copy authentication header", secloader.ErrCopyFailed, err)
	}

	var authHeader uint32
	s := cryptobyte.String(hdr[:])
	s.ReadUint32(&authHeader)
	alg := secloader.AlgorithmFromAuthHeader(authHeader)
	if !alg.IsValid() {
		return nil, secloader.CryptoError("read certificate", secloader.ErrInvalidAlgorithm)
	}

	data := make([]byte, Size(alg))
	if err := dev.Copy(offset, data, secloader.CopyFlagDMA); err != nil {
		return nil, secloader.IOError("copy authentication certificate", secloader.ErrCopyFailed, err)
	}
	return ParseCertificate(data)
}
