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

// Package pdigen builds signed and encrypted boot image partitions. It is
// used by the tests and by the secloader tool to produce images that the
// loader can consume.
package pdigen

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"
	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	internal_crypto "github.com/canonical/secloader/internal/crypto"
)

// Key is a PPK or SPK private key.
type Key struct {
	Algorithm secloader.AuthAlgorithm
	RSA       *rsa.PrivateKey
	ECDSA     *ecdsa.PrivateKey
}

// GenerateKey creates a new key for the specified algorithm. ECDSA keys
// are derived deterministically from rand.
func GenerateKey(alg secloader.AuthAlgorithm, rand io.Reader) (*Key, error) {
	switch alg {
	case secloader.AuthAlgorithmRSA4096:
		k, err := rsa.GenerateKey(rand, secloader.RsaModulusLen*8)
		if err != nil {
			return nil, err
		}
		return &Key{Algorithm: alg, RSA: k}, nil
	case secloader.AuthAlgorithmECDSAP384:
		k, err := internal_crypto.GenerateECDSAKey(elliptic.P384(), rand)
		if err != nil {
			return nil, err
		}
		return &Key{Algorithm: alg, ECDSA: k}, nil
	case secloader.AuthAlgorithmECDSAP521:
		k, err := internal_crypto.GenerateECDSAKey(elliptic.P521(), rand)
		if err != nil {
			return nil, err
		}
		return &Key{Algorithm: alg, ECDSA: k}, nil
	default:
		return nil, errors.New("invalid algorithm")
	}
}

// MarshalPEM encodes the private key as a PKCS#8 PEM block.
func (k *Key) MarshalPEM() ([]byte, error) {
	var priv interface{} = k.ECDSA
	if k.Algorithm == secloader.AuthAlgorithmRSA4096 {
		priv = k.RSA
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, xerrors.Errorf("cannot marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParseKeyPEM decodes a key previously encoded with MarshalPEM.
func ParseKeyPEM(data []byte) (*Key, error) {
	b, _ := pem.Decode(data)
	if b == nil || b.Type != "PRIVATE KEY" {
		return nil, errors.New("no private key PEM block")
	}
	priv, err := x509.ParsePKCS8PrivateKey(b.Bytes)
	if err != nil {
		return nil, xerrors.Errorf("cannot parse private key: %w", err)
	}

	switch k := priv.(type) {
	case *rsa.PrivateKey:
		if k.N.BitLen() != secloader.RsaModulusLen*8 {
			return nil, fmt.Errorf("unsupported RSA key size %d", k.N.BitLen())
		}
		return &Key{Algorithm: secloader.AuthAlgorithmRSA4096, RSA: k}, nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P384():
			return &Key{Algorithm: secloader.AuthAlgorithmECDSAP384, ECDSA: k}, nil
		case elliptic.P521():
			return &Key{Algorithm: secloader.AuthAlgorithmECDSAP521, ECDSA: k}, nil
		}
		return nil, fmt.Errorf("unsupported curve %s", k.Curve.Params().Name)
	default:
		return nil, fmt.Errorf("unsupported key type %T", priv)
	}
}

// PublicBlob returns the public key in the format stored in certificates.
func (k *Key) PublicBlob() []byte {
	switch k.Algorithm {
	case secloader.AuthAlgorithmRSA4096:
		out := make([]byte, secloader.RsaKeyLen)
		k.RSA.N.FillBytes(out[:secloader.RsaModulusLen])
		binary.BigEndian.PutUint32(out[secloader.RsaModulusLen:], uint32(k.RSA.E))
		return out
	default:
		n := k.Algorithm.KeyLen() / 2
		out := make([]byte, 2*n)
		k.ECDSA.X.FillBytes(out[:n])
		k.ECDSA.Y.FillBytes(out[n:])
		return out
	}
}

// Sign signs the SHA3-384 digest.
func (k *Key) Sign(rand io.Reader, digest []byte) ([]byte, error) {
	switch k.Algorithm {
	case secloader.AuthAlgorithmRSA4096:
		return rsa.SignPSS(rand, k.RSA, crypto.SHA3_384, digest, &rsa.PSSOptions{SaltLength: secloader.HashLen})
	default:
		r, s, err := ecdsa.Sign(rand, k.ECDSA, digest)
		if err != nil {
			return nil, err
		}
		n := k.Algorithm.SignatureLen() / 2
		out := make([]byte, 2*n)
		r.FillBytes(out[:n])
		s.FillBytes(out[n:])
		return out, nil
	}
}

// Digest returns the SHA3-384 digest of the concatenation of parts.
func Digest(parts ...[]byte) []byte {
	h := sha3.New384()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// PpkHash returns the value to program into a PPK hash fuse slot for k.
func PpkHash(k *Key) []byte {
	return Digest(k.PublicBlob())[:secloader.PpkHashLen]
}

func seal(key, iv, plaintext []byte) ([]byte, error) {
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(b)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

// WrapKey wraps the red key with the key encryption key kek, producing the
// black key that is provisioned in place of red.
func WrapKey(kek, iv, red []byte) ([]byte, error) {
	if len(red) != secloader.AesKeyLen {
		return nil, errors.New("invalid key length")
	}
	out, err := seal(kek, iv, red)
	if err != nil {
		return nil, xerrors.Errorf("cannot wrap key: %w", err)
	}
	return out, nil
}
