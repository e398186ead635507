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

package pdigen

import (
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/cert"
)

// ImageBase is the boot device offset at which partitions are placed.
// Offset zero is reserved to mean "no certificate".
const ImageBase = 0x100

// AuthParams describes how to sign a partition.
type AuthParams struct {
	PPK                 *Key
	SPK                 *Key
	SPKRevocationID     uint32
	ContentRevocationID uint32

	// BootHeaderAuth indicates that the PPK is not expected to match
	// the fuses.
	BootHeaderAuth bool
}

// EncParams describes how to encrypt a partition.
type EncParams struct {
	// Key is the red partition key.
	Key       []byte
	IV        [secloader.IvLen]byte
	KeySource secloader.KeySource

	RevocationID uint32
	PufHelper    secloader.PufHelperLocation
	KekIV        [secloader.IvLen]byte

	// UnitsPerChunk is the number of encrypted units in each chunk.
	// The default is 1.
	UnitsPerChunk int
}

// PartitionParams describes a partition to build.
type PartitionParams struct {
	Payload []byte

	// ChunkSize is the number of payload bytes carried by each chunk
	// (or by each encrypted unit for encrypted partitions). A value of
	// zero places the whole payload in a single chunk. For encrypted
	// partitions it must be a multiple of 16.
	ChunkSize int

	Auth *AuthParams
	Enc  *EncParams

	InPlace bool
}

// Partition is a built partition.
type Partition struct {
	// Image is the boot device contents. The partition starts at
	// ImageBase.
	Image []byte

	Header secloader.PartitionHeader

	// BlockSizes contains the block size argument for each call to
	// the loader, in order. The last call is the last block.
	BlockSizes []uint32

	// Certificate is the certificate of an authenticated partition.
	Certificate *cert.Certificate

	// PayloadLen is the size of the payload after decryption, which
	// includes any padding added to encrypted partitions.
	PayloadLen int
}

func splitPayload(payload []byte, size int) [][]byte {
	if size <= 0 || size >= len(payload) {
		return [][]byte{payload}
	}
	var out [][]byte
	for len(payload) > 0 {
		n := size
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}

func secureHeader(key, iv []byte, length int) []byte {
	sh := make([]byte, secloader.SecureHeaderLen)
	copy(sh, key)
	copy(sh[secloader.AesKeyLen:], iv)
	binary.BigEndian.PutUint32(sh[secloader.AesKeyLen+secloader.IvLen:], uint32(length))
	return sh
}

// encrypt produces the encrypted units. The first returned unit is the
// encrypted secure header.
func encrypt(rand io.Reader, params *EncParams, pieces [][]byte) ([][]byte, error) {
	if len(params.Key) != secloader.AesKeyLen {
		return nil, errors.New("invalid partition key length")
	}

	type unitKey struct {
		key []byte
		iv  []byte
	}
	keys := make([]unitKey, len(pieces)+1)
	keys[0] = unitKey{key: params.Key, iv: params.IV[:]}
	for i := 1; i < len(keys); i++ {
		k := unitKey{key: make([]byte, secloader.AesKeyLen), iv: make([]byte, secloader.IvLen)}
		if _, err := io.ReadFull(rand, k.key); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(rand, k.iv); err != nil {
			return nil, err
		}
		keys[i] = k
	}

	var units [][]byte
	sh, err := seal(keys[0].key, keys[0].iv, secureHeader(keys[1].key, keys[1].iv, len(pieces[0])))
	if err != nil {
		return nil, err
	}
	units = append(units, sh)

	for i, p := range pieces {
		var next []byte
		if i == len(pieces)-1 {
			next = secureHeader(nil, nil, 0)
		} else {
			next = secureHeader(keys[i+2].key, keys[i+2].iv, len(pieces[i+1]))
		}
		unit, err := seal(keys[i+1].key, keys[i+1].iv, append(append([]byte(nil), p...), next...))
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

// BuildPartition builds a partition from the supplied parameters.
func BuildPartition(rand io.Reader, params *PartitionParams) (*Partition, error) {
	if params.Auth == nil && params.Enc == nil {
		return nil, errors.New("partition must be authenticated or encrypted")
	}

	payload := params.Payload
	if params.Enc != nil {
		if params.ChunkSize%secloader.AesBlockLen != 0 {
			return nil, errors.New("chunk size must be a multiple of the AES block size")
		}
		if pad := len(payload) % secloader.AesBlockLen; pad != 0 {
			payload = append(append([]byte(nil), payload...), make([]byte, secloader.AesBlockLen-pad)...)
		}
	}
	pieces := splitPayload(payload, params.ChunkSize)

	// Each chunk is the concatenation of one or more pieces of data,
	// followed by the digest of the next chunk if authenticated.
	var chunks [][]byte
	var firstOverhead int
	encLen := 0
	if params.Enc != nil {
		units, err := encrypt(rand, params.Enc, pieces)
		if err != nil {
			return nil, xerrors.Errorf("cannot encrypt partition: %w", err)
		}
		for _, u := range units {
			encLen += len(u)
		}
		per := params.Enc.UnitsPerChunk
		if per <= 0 {
			per = 1
		}
		firstOverhead = secloader.SecureHeaderTotalLen
		data := units[1:]
		for i := 0; i < len(data); i += per {
			end := i + per
			if end > len(data) {
				end = len(data)
			}
			var chunk []byte
			if i == 0 {
				chunk = append(chunk, units[0]...)
			}
			for _, u := range data[i:end] {
				chunk = append(chunk, u...)
			}
			chunks = append(chunks, chunk)
		}
	} else {
		for _, p := range pieces {
			chunks = append(chunks, append([]byte(nil), p...))
		}
	}

	if params.Auth != nil {
		for i := len(chunks) - 2; i >= 0; i-- {
			chunks[i] = append(chunks[i], Digest(chunks[i+1])...)
		}
	}

	p := &Partition{PayloadLen: len(payload)}
	image := make([]byte, ImageBase)
	p.Header.InPlace = params.InPlace

	if params.Auth != nil {
		c, err := NewCertificate(rand, params.Auth)
		if err != nil {
			return nil, err
		}
		if err := SignContent(rand, c, params.Auth.SPK, chunks[0]); err != nil {
			return nil, err
		}
		p.Certificate = c
		p.Header.CertificateOffset = uint64(len(image))
		image = append(image, c.Marshal()...)
	}

	p.Header.DataOffset = uint64(len(image))
	for i, chunk := range chunks {
		image = append(image, chunk...)
		size := len(chunk)
		if i == 0 {
			size -= firstOverhead
		}
		p.BlockSizes = append(p.BlockSizes, uint32(size))
	}
	p.Image = image

	if params.Enc != nil {
		p.Header.Encrypted = true
		p.Header.IV = params.Enc.IV
		p.Header.KeySource = params.Enc.KeySource
		p.Header.EncryptedLength = uint32(encLen)
		p.Header.RevocationID = params.Enc.RevocationID
		p.Header.PufHelper = params.Enc.PufHelper
		p.Header.KekIV = params.Enc.KekIV
	}
	return p, nil
}

// NewCertificate creates a certificate with a signed SPK and an empty
// content signature.
func NewCertificate(rand io.Reader, params *AuthParams) (*cert.Certificate, error) {
	alg := params.PPK.Algorithm
	if params.SPK.Algorithm != alg {
		return nil, errors.New("PPK and SPK algorithms differ")
	}
	c := &cert.Certificate{
		AuthHeader:          alg.AuthHeader(),
		SPK:                 params.SPK.PublicBlob(),
		PPK:                 params.PPK.PublicBlob(),
		ContentSignature:    make([]byte, alg.SignatureLen()),
		SPKRevocationID:     params.SPKRevocationID,
		ContentRevocationID: params.ContentRevocationID}

	sig, err := params.PPK.Sign(rand, Digest(c.SPKSignedData()))
	if err != nil {
		return nil, xerrors.Errorf("cannot sign SPK: %w", err)
	}
	c.SPKSignature = sig
	return c, nil
}

// SignContent signs the certificate preamble followed by data with spk.
func SignContent(rand io.Reader, c *cert.Certificate, spk *Key, data []byte) error {
	sig, err := spk.Sign(rand, Digest(c.Preamble(), data))
	if err != nil {
		return xerrors.Errorf("cannot sign content: %w", err)
	}
	c.ContentSignature = sig
	return nil
}
