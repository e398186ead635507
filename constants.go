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

package secloader

const (
	// HashLen is the size of a SHA3-384 digest.
	HashLen = 48

	// PpkHashLen is the number of leading bytes of the PPK digest that
	// are programmed into each fuse slot.
	PpkHashLen = 32

	// NumPpkSlots is the number of PPK hash slots in the fuse store.
	NumPpkSlots = 3

	// MaxRevocationID is the highest revocation id representable in
	// the revocation bitmap.
	MaxRevocationID = 255

	// RevocationWords is the number of 32-bit fuse words making up the
	// revocation bitmap.
	RevocationWords = (MaxRevocationID + 1) / 32

	AesKeyLen = 32
	IvLen     = 12
	GcmTagLen = 16

	// SecureHeaderLen is the size of the plaintext secure header, which
	// carries the key, IV and length of the following unit.
	SecureHeaderLen = AesKeyLen + IvLen + 4

	// SecureHeaderTotalLen is the size of an encrypted secure header
	// including its authentication tag. This is the overhead added to the
	// first block of an encrypted partition.
	SecureHeaderTotalLen = SecureHeaderLen + GcmTagLen

	// AesBlockLen is the alignment required of the length carried in a
	// secure header.
	AesBlockLen = 16

	DnaLen = 16
)

const (
	RsaModulusLen  = 512
	RsaExponentLen = 4
	RsaKeyLen      = RsaModulusLen + RsaExponentLen
	RsaSigLen      = 512

	P384CoordLen = 48
	P521CoordLen = 66
)

// AuthAlgorithm is the signature algorithm selected by the authentication
// header of a certificate.
type AuthAlgorithm uint32

const (
	AuthAlgorithmECDSAP384 AuthAlgorithm = 0
	AuthAlgorithmRSA4096   AuthAlgorithm = 1
	AuthAlgorithmECDSAP521 AuthAlgorithm = 2
)

const (
	authHeaderAlgShift = 2
	authHeaderAlgMask  = 0x3
)

// AlgorithmFromAuthHeader extracts the algorithm selector from an
// authentication header.
func AlgorithmFromAuthHeader(hdr uint32) AuthAlgorithm {
	return AuthAlgorithm((hdr >> authHeaderAlgShift) & authHeaderAlgMask)
}

// AuthHeader returns an authentication header selecting this algorithm.
func (a AuthAlgorithm) AuthHeader() uint32 {
	return (uint32(a) & authHeaderAlgMask) << authHeaderAlgShift
}

// KeyLen returns the size of a public key blob for this algorithm, or 0 if
// the algorithm is invalid.
func (a AuthAlgorithm) KeyLen() int {
	switch a {
	case AuthAlgorithmRSA4096:
		return RsaKeyLen
	case AuthAlgorithmECDSAP384:
		return 2 * P384CoordLen
	case AuthAlgorithmECDSAP521:
		return 2 * P521CoordLen
	default:
		return 0
	}
}

// SignatureLen returns the size of a signature for this algorithm, or 0 if
// the algorithm is invalid.
func (a AuthAlgorithm) SignatureLen() int {
	switch a {
	case AuthAlgorithmRSA4096:
		return RsaSigLen
	case AuthAlgorithmECDSAP384:
		return 2 * P384CoordLen
	case AuthAlgorithmECDSAP521:
		return 2 * P521CoordLen
	default:
		return 0
	}
}

func (a AuthAlgorithm) IsValid() bool {
	return a.KeyLen() != 0
}

func (a AuthAlgorithm) String() string {
	switch a {
	case AuthAlgorithmRSA4096:
		return "RSA-4096"
	case AuthAlgorithmECDSAP384:
		return "ECDSA-P384"
	case AuthAlgorithmECDSAP521:
		return "ECDSA-P521"
	default:
		return "invalid"
	}
}
