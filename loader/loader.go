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

// Package loader implements the streaming secure loader, which
// authenticates and decrypts a partition one block at a time as it is
// copied from the boot device into execution memory.
package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/snapcore/snapd/logger"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/cert"
	"github.com/canonical/secloader/engine"
	"github.com/canonical/secloader/internal/redundant"
	"github.com/canonical/secloader/internal/sensitive"
	"github.com/canonical/secloader/keys"
	"github.com/canonical/secloader/policy"
)

// DefaultChunkSize is the default size of the chunk buffer.
const DefaultChunkSize = 64 * 1024

// Options configures the loader.
type Options struct {
	// ChunkSize is the size of the chunk buffer, which bounds the
	// number of bytes that can be processed by a single call to
	// ProcessBlock. The default is DefaultChunkSize.
	ChunkSize int
}

func (o *Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

// Env contains the boot session scoped collaborators used by the loader.
type Env struct {
	Gate       *policy.Gate
	Auth       *cert.Authenticator
	Keys       *keys.Resolver
	AES        engine.AES
	Device     secloader.DeviceCopier
	Memory     secloader.Memory
	BootHeader *secloader.BootHeader

	Options Options
}

// SecureSession is the state of a single authenticated or encrypted
// partition as it is processed.
type SecureSession struct {
	env *Env
	hdr secloader.PartitionHeader

	authEnabled bool
	encEnabled  bool
	fuseAuth    bool
	cert        *cert.Certificate

	block     uint32
	remaining uint32
	nextAddr  uint64

	chunk        *sensitive.Buffer
	expectedHash []byte
	payload      []byte

	// Decryption state carried between blocks.
	iv         [secloader.IvLen]byte
	nextLen    uint32
	terminated bool

	done   bool
	failed bool
}

// NewSecureSession begins processing the partition described by hdr.
func NewSecureSession(env *Env, hdr *secloader.PartitionHeader) (*SecureSession, error) {
	c, err := env.Gate.InitAuth(hdr)
	if err != nil {
		return nil, err
	}
	enc, err := env.Gate.InitEnc(hdr)
	if err != nil {
		return nil, zeroizeCertificate(c, err)
	}
	if c == nil && !enc {
		return nil, secloader.NewInvalidParameterError("partition header", "partition is neither authenticated nor encrypted")
	}

	s := &SecureSession{
		env:          env,
		hdr:          *hdr,
		authEnabled:  c != nil,
		encEnabled:   enc,
		cert:         c,
		chunk:        sensitive.NewBuffer(env.Options.chunkSize()),
		expectedHash: make([]byte, secloader.HashLen)}

	if s.authEnabled {
		fuseAuth, err := env.Gate.FuseAuth(env.BootHeader)
		if err != nil {
			s.chunk.Release()
			return nil, zeroizeCertificate(c, err)
		}
		s.fuseAuth = fuseAuth
	}
	return s, nil
}

// zeroizeCertificate clears a certificate that was copied before the
// session could be set up, and attaches the outcome to err.
func zeroizeCertificate(c *cert.Certificate, err error) error {
	if c == nil {
		return err
	}
	return secloader.WithScrub(err, c.Zeroize())
}

// Authenticated indicates whether the partition is authenticated.
func (s *SecureSession) Authenticated() bool {
	return s.authEnabled
}

// Encrypted indicates whether the partition is encrypted.
func (s *SecureSession) Encrypted() bool {
	return s.encEnabled
}

// Block returns the number of blocks processed.
func (s *SecureSession) Block() uint32 {
	return s.block
}

// Remaining returns the number of encrypted bytes that have not been
// consumed.
func (s *SecureSession) Remaining() uint32 {
	return s.remaining
}

// Payload returns the payload of the last processed block. For partitions
// that execute in place this is the only copy of the payload. It is only
// valid until the next call to ProcessBlock.
func (s *SecureSession) Payload() []byte {
	return s.payload
}

// ProcessBlock copies the next block of the partition from the boot
// device, authenticates and decrypts it, and writes the payload to
// execution memory at dest. The blockSize argument is the number of bytes
// to copy, excluding the secure header on the first block of an encrypted
// partition. For the last block of an encrypted partition, the remaining
// encrypted length is copied instead. The number of payload bytes is
// returned.
//
// On failure, the chunk buffer is cleared and the outcome of the clear is
// attached to the returned error. The session cannot be used again.
func (s *SecureSession) ProcessBlock(dest uint64, blockSize uint32, last bool) (int, error) {
	if s.failed || s.done {
		return 0, secloader.PolicyError(fmt.Sprintf("process block %d", s.block), secloader.ErrInvalidState)
	}

	n, err := s.processBlock(dest, blockSize, last)
	if err == nil && last {
		// The engine must be left idle once the partition is complete.
		if resetErr := s.env.AES.Reset(); resetErr != nil {
			err = &secloader.Error{Kind: secloader.ErrorKindCrypto, Op: "reset AES engine", Err: secloader.ErrInvalidState, Cause: resetErr}
		}
	}
	if err != nil {
		s.failed = true
		logger.Noticef("cannot process block %d: %v", s.block, err)
		cleared := s.scrub()
		s.chunk.Release()
		return 0, secloader.WithScrub(err, cleared)
	}
	if last {
		s.done = true
	}
	return n, nil
}

// Close clears and releases the chunk buffer. The payload returned from
// Payload is no longer valid afterwards.
func (s *SecureSession) Close() {
	s.chunk.Release()
	sensitive.Clear(s.expectedHash)
	s.payload = nil
}

func (s *SecureSession) scrub() bool {
	cleared := s.chunk.Clear()
	if !sensitive.Clear(s.expectedHash) {
		cleared = false
	}
	if s.cert != nil && !s.cert.Zeroize() {
		cleared = false
	}
	if err := s.env.AES.Reset(); err != nil {
		cleared = false
	}
	return cleared
}

func (s *SecureSession) processBlock(dest uint64, blockSize uint32, last bool) (int, error) {
	op := fmt.Sprintf("process block %d", s.block)
	logger.Debugf("processing block %d", s.block)

	src := s.nextAddr
	if s.block == 0 {
		src = s.hdr.DataOffset
	}

	total := uint64(blockSize)
	if s.encEnabled {
		if s.block == 0 {
			if err := s.env.Auth.VerifyRevocation(s.hdr.RevocationID); err != nil {
				return 0, err
			}
			s.remaining = s.hdr.EncryptedLength
		}
		switch {
		case last:
			total = uint64(s.remaining)
		case s.block == 0:
			total += secloader.SecureHeaderTotalLen
		}
	}
	if total == 0 || total > uint64(s.chunk.Len()) {
		return 0, secloader.PolicyError(fmt.Sprintf("%s of size %d", op, total), secloader.ErrInvalidBlockSize)
	}

	chunk := s.chunk.Bytes()[:total]
	flags := secloader.CopyFlagDMA
	if last {
		flags |= secloader.CopyFlagLast
	}
	if err := s.env.Device.Copy(src, chunk, flags); err != nil {
		return 0, secloader.IOError(op, secloader.ErrCopyFailed, err)
	}

	data := chunk
	if s.authEnabled {
		var err error
		if data, err = s.verifyHash(op, chunk, last); err != nil {
			return 0, err
		}
		if !s.encEnabled {
			if !s.hdr.InPlace {
				if err := s.env.Memory.Write(dest, data); err != nil {
					return 0, secloader.IOError(op, secloader.ErrCopyFailed, err)
				}
			}
			s.payload = data
		}
	}

	if s.encEnabled {
		out, err := s.decrypt(op, data)
		if err != nil {
			return 0, err
		}
		if !s.hdr.InPlace {
			if err := s.env.Memory.Write(dest, out); err != nil {
				return 0, secloader.IOError(op, secloader.ErrCopyFailed, err)
			}
		}
		s.payload = out

		if last {
			if s.remaining != 0 {
				return 0, secloader.CryptoError(op, secloader.ErrDataLeft)
			}
			if !s.terminated {
				return 0, secloader.CryptoError(op+": secure header chain is not terminated", secloader.ErrDecryptFailed)
			}
		}
	}

	logger.Debugf("authentication/decryption of block %d is successful", s.block)
	s.nextAddr = src + total
	s.block++
	return len(s.payload), nil
}

// verifyHash authenticates the chunk and returns the data it contains,
// excluding the digest of the next chunk.
func (s *SecureSession) verifyHash(op string, chunk []byte, last bool) ([]byte, error) {
	if s.block == 0 {
		hash, err := s.env.Auth.Digest(s.cert.Preamble(), chunk)
		if err != nil {
			return nil, err
		}
		if err := s.env.Auth.AuthenticateData(s.cert, hash, s.fuseAuth); err != nil {
			return nil, err
		}
	} else {
		hash, err := s.env.Auth.Digest(chunk)
		if err != nil {
			return nil, err
		}
		match, err := redundant.Equal(hash, s.expectedHash).Result(op)
		if err != nil {
			return nil, err
		}
		if !match {
			logger.Debugf("%s: digest %x does not match expected %x", op, hash, s.expectedHash)
			return nil, secloader.CryptoError(op, secloader.ErrHashMismatch)
		}
	}

	if last {
		return chunk, nil
	}
	if len(chunk) <= secloader.HashLen {
		return nil, secloader.PolicyError(fmt.Sprintf("%s of size %d", op, len(chunk)), secloader.ErrInvalidBlockSize)
	}
	n := len(chunk) - secloader.HashLen
	copy(s.expectedHash, chunk[n:])
	return chunk[:n], nil
}

func decryptError(op string, cause error) error {
	return &secloader.Error{Kind: secloader.ErrorKindCrypto, Op: op, Err: secloader.ErrDecryptFailed, Cause: cause}
}

// loadSecureHeader loads the key, IV and length of the next unit from the
// decrypted secure header sh.
func (s *SecureSession) loadSecureHeader(op string, sh []byte) error {
	defer sensitive.Clear(sh)

	nextLen := binary.BigEndian.Uint32(sh[secloader.AesKeyLen+secloader.IvLen:])
	if nextLen%secloader.AesBlockLen != 0 {
		return secloader.CryptoError(fmt.Sprintf("%s: unaligned length %d", op, nextLen), secloader.ErrDecryptFailed)
	}
	if err := s.env.AES.WriteKey(secloader.KeySlotKUP, sh[:secloader.AesKeyLen]); err != nil {
		return decryptError(op, err)
	}
	copy(s.iv[:], sh[secloader.AesKeyLen:])
	s.nextLen = nextLen
	return nil
}

func (s *SecureSession) decrypt(op string, in []byte) ([]byte, error) {
	if s.block == 0 {
		slot, err := s.env.Keys.ResolveKey(s.hdr.KeySource, s.hdr.KekIV[:], s.hdr.PufHelper)
		if err != nil {
			return nil, err
		}
		if err := s.env.Keys.SetDpaCountermeasure(s.hdr.DpaCountermeasure); err != nil {
			return nil, err
		}

		if len(in) < secloader.SecureHeaderTotalLen || s.remaining < secloader.SecureHeaderTotalLen {
			return nil, secloader.CryptoError(op+": truncated secure header", secloader.ErrDecryptFailed)
		}
		sh, err := s.env.AES.Open(nil, slot, s.hdr.IV[:], in[:secloader.SecureHeaderTotalLen])
		if err != nil {
			return nil, decryptError(op, err)
		}
		if err := s.loadSecureHeader(op, sh); err != nil {
			return nil, err
		}
		s.remaining -= secloader.SecureHeaderTotalLen
		in = in[secloader.SecureHeaderTotalLen:]
	}

	var out []byte
	for len(in) > 0 {
		if s.terminated {
			return nil, secloader.CryptoError(op+": data after the end of the secure header chain", secloader.ErrDecryptFailed)
		}
		unitLen := s.nextLen + secloader.SecureHeaderTotalLen
		if s.remaining < unitLen || uint32(len(in)) < unitLen {
			return nil, secloader.CryptoError(fmt.Sprintf("%s: unit of length %d exceeds the remaining data", op, s.nextLen), secloader.ErrDecryptFailed)
		}

		pt, err := s.env.AES.Open(nil, secloader.KeySlotKUP, s.iv[:], in[:unitLen])
		if err != nil {
			return nil, decryptError(op, err)
		}
		out = append(out, pt[:s.nextLen]...)
		s.remaining -= unitLen
		in = in[unitLen:]

		if err := s.loadSecureHeader(op, pt[s.nextLen:]); err != nil {
			return nil, err
		}
		sensitive.Clear(pt)

		if s.nextLen == 0 {
			s.terminated = true
			if s.remaining != 0 {
				return nil, secloader.CryptoError(op, secloader.ErrDataLeft)
			}
		}
	}
	return out, nil
}

// AuthenticateHeaderTable authenticates the image header table contained
// in data, with the certificate at the offset declared by table. On
// failure, data is cleared and the outcome of the clear is attached to
// the returned error.
func AuthenticateHeaderTable(env *Env, table *secloader.HeaderTable, data []byte) error {
	if !table.Authenticated() {
		return secloader.NewInvalidParameterError("header table", "header table is not authenticated")
	}
	c, err := cert.ReadCertificate(env.Device, table.CertificateOffset)
	if err != nil {
		return secloader.WithScrub(err, sensitive.Clear(data))
	}

	err = func() error {
		fuseAuth, err := env.Gate.FuseAuth(env.BootHeader)
		if err != nil {
			return err
		}
		hash, err := env.Auth.Digest(c.Preamble(), data)
		if err != nil {
			return err
		}
		return env.Auth.AuthenticateData(c, hash, fuseAuth)
	}()
	if err != nil {
		cleared := sensitive.Clear(data)
		if !c.Zeroize() {
			cleared = false
		}
		return secloader.WithScrub(err, cleared)
	}
	logger.Debugf("image header table is authenticated")
	return nil
}
