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


package secloader_test

import (
	"errors"

	. "gopkg.in/check.v1"

	. "github.com/canonical/secloader"
	"github.com/canonical/secloader/internal/testutil"
)

type platformSuite struct{}

var _ = Suite(&platformSuite{})

type mockRegs struct {
	a, s SecureState
	err  error
}

func (r *mockRegs) AHWRoT() (SecureState, error) { return r.a, r.err }
func (r *mockRegs) SHWRoT() (SecureState, error) { return r.s, nil }

func (s *platformSuite) TestCaptureSecureState(c *C) {
	shadow, err := CaptureSecureState(&mockRegs{a: SecureStateAHWRoT, s: SecureStateEmulatedSHWRoT})
	c.Assert(err, IsNil)
	c.Check(shadow, Equals, SecureStateShadow{AHWRoT: SecureStateAHWRoT, SHWRoT: SecureStateEmulatedSHWRoT})
}

func (s *platformSuite) TestCaptureSecureStateError(c *C) {
	_, err := CaptureSecureState(&mockRegs{err: errors.New("bus error")})
	c.Check(err, ErrorMatches, `bus error`)
}

func (s *platformSuite) TestSecureStateString(c *C) {
	c.Check(SecureStateEmulatedAHWRoT.String(), Equals, "emulated A-HWRoT")
	c.Check(SecureStateNonSecure.String(), Equals, "non-secure")
}

func (s *platformSuite) TestHeaderTableAuthenticated(c *C) {
	c.Check((&HeaderTable{}).Authenticated(), testutil.IsFalse)
	c.Check((&HeaderTable{CertificateOffset: 0x100}).Authenticated(), testutil.IsTrue)
}

func (s *platformSuite) TestAuthHeaderRoundTrip(c *C) {
	for _, alg := range []AuthAlgorithm{AuthAlgorithmECDSAP384, AuthAlgorithmRSA4096, AuthAlgorithmECDSAP521} {
		c.Check(AlgorithmFromAuthHeader(alg.AuthHeader()), Equals, alg)
	}
	c.Check(AlgorithmFromAuthHeader(3<<2).IsValid(), testutil.IsFalse)
}

func (s *platformSuite) TestAuthAlgorithmLengths(c *C) {
	c.Check(AuthAlgorithmECDSAP384.KeyLen(), Equals, 96)
	c.Check(AuthAlgorithmECDSAP521.KeyLen(), Equals, 132)
	c.Check(AuthAlgorithmRSA4096.KeyLen(), Equals, RsaKeyLen)
	c.Check(AuthAlgorithmRSA4096.SignatureLen(), Equals, 512)
	c.Check(AuthAlgorithm(3).SignatureLen(), Equals, 0)
}

type keySourceSuite struct{}

var _ = Suite(&keySourceSuite{})

func (s *keySourceSuite) TestParseKeySource(c *C) {
	for _, src := range []KeySource{KeySourceEfuse, KeySourceBBRAMBlack, KeySourceBootHeader, KeySourceEfuseUser1Black, KeySourceUser7} {
		parsed, err := ParseKeySource(src.String())
		c.Check(err, IsNil)
		c.Check(parsed, Equals, src)
	}
}

func (s *keySourceSuite) TestParseKeySourceInvalid(c *C) {
	_, err := ParseKeySource("foo")
	c.Check(err, ErrorMatches, `unrecognized key source "foo"`)
}

func (s *keySourceSuite) TestSlotsPlain(c *C) {
	src, red, ok := KeySourceUser2.Slots()
	c.Check(ok, testutil.IsTrue)
	c.Check(src, Equals, KeySlotUser2)
	c.Check(red, Equals, KeySlotUser2)
	c.Check(KeySourceUser2.IsBlack(), testutil.IsFalse)
}

func (s *keySourceSuite) TestSlotsBlack(c *C) {
	src, red, ok := KeySourceEfuseUser0Black.Slots()
	c.Check(ok, testutil.IsTrue)
	c.Check(src, Equals, KeySlotEfuseUser0)
	c.Check(red, Equals, KeySlotEfuseUser0Red)
	c.Check(KeySourceEfuseUser0Black.IsBlack(), testutil.IsTrue)
}

func (s *keySourceSuite) TestInvalid(c *C) {
	_, _, ok := KeySourceNone.Slots()
	c.Check(ok, testutil.IsFalse)
	c.Check(KeySourceNone.IsValid(), testutil.IsFalse)
	c.Check(KeySource(100).String(), Equals, "KeySource(100)")
}
