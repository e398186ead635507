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

package authjtag

import (
	"errors"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
)

const (
	// MessageLen is the size of an unlock message.
	MessageLen = 4 + 4 + 4 + secloader.DnaLen + 4 + ppkFieldLen + signatureFieldLen

	ppkFieldLen       = secloader.RsaKeyLen
	signatureFieldLen = secloader.RsaSigLen

	// signedLen is the number of leading bytes of the message covered
	// by the signature.
	signedLen = 32

	revocationIDMask = 0xff

	// AttributeUseDna requests that the device DNA is compared with the
	// one in the message.
	AttributeUseDna = 1 << 0
)

var errMalformedMessage = errors.New("malformed unlock message")

// Message is an authenticated JTAG unlock message. Keys and signatures
// that are shorter than their fields occupy the leading bytes, and the
// remainder is zero.
type Message struct {
	AuthHeader uint32

	// RevocationIDMsgType contains the revocation id of the PPK in the
	// low byte.
	RevocationIDMsgType uint32

	Attributes uint32
	Dna        [secloader.DnaLen]byte

	// Timeout is the number of poll ticks for which the debug port
	// stays open, or 0 to leave it open.
	Timeout uint32

	PPK       []byte
	Signature []byte
}

// Algorithm returns the algorithm selected by the auth header.
func (m *Message) Algorithm() secloader.AuthAlgorithm {
	return secloader.AlgorithmFromAuthHeader(m.AuthHeader)
}

func (m *Message) RevocationID() uint32 {
	return m.RevocationIDMsgType & revocationIDMask
}

func (m *Message) UseDna() bool {
	return m.Attributes&AttributeUseDna != 0
}

// ParseMessage decodes an unlock message. The returned PPK and signature
// are trimmed to the sizes required by the selected algorithm.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) != MessageLen {
		return nil, xerrors.Errorf("invalid size %d: %w", len(data), errMalformedMessage)
	}

	s := cryptobyte.String(data)
	m := new(Message)
	var dna, ppk, sig []byte
	if !s.ReadUint32(&m.AuthHeader) ||
		!s.ReadUint32(&m.RevocationIDMsgType) ||
		!s.ReadUint32(&m.Attributes) ||
		!s.ReadBytes(&dna, secloader.DnaLen) ||
		!s.ReadUint32(&m.Timeout) ||
		!s.ReadBytes(&ppk, ppkFieldLen) ||
		!s.ReadBytes(&sig, signatureFieldLen) ||
		!s.Empty() {
		return nil, errMalformedMessage
	}

	alg := m.Algorithm()
	if !alg.IsValid() {
		return nil, secloader.CryptoError("parse unlock message", secloader.ErrInvalidAlgorithm)
	}
	copy(m.Dna[:], dna)
	m.PPK = append([]byte(nil), ppk[:alg.KeyLen()]...)
	m.Signature = append([]byte(nil), sig[:alg.SignatureLen()]...)
	return m, nil
}

func padded(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Marshal serializes the message.
func (m *Message) Marshal() []byte {
	b := cryptobyte.NewBuilder(make([]byte, 0, MessageLen))
	b.AddUint32(m.AuthHeader)
	b.AddUint32(m.RevocationIDMsgType)
	b.AddUint32(m.Attributes)
	b.AddBytes(m.Dna[:])
	b.AddUint32(m.Timeout)
	b.AddBytes(padded(m.PPK, ppkFieldLen))
	b.AddBytes(padded(m.Signature, signatureFieldLen))
	return b.BytesOrPanic()
}

// SignedData returns the part of the serialized message that is covered
// by the signature.
func (m *Message) SignedData() []byte {
	return m.Marshal()[:signedLen]
}
