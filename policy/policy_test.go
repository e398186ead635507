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

package policy_test

import (
	"errors"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/engine"
	"github.com/canonical/secloader/hwsim"
	"github.com/canonical/secloader/internal/pdigen"
	"github.com/canonical/secloader/internal/testutil"
	"github.com/canonical/secloader/kat"
	. "github.com/canonical/secloader/policy"
)

func Test(t *testing.T) { TestingT(t) }

type tableSuite struct{}

var _ = Suite(&tableSuite{})

// expectedDecision is an independent statement of the boot security rules.
func expectedDecision(in Inputs) Decision {
	switch {
	case in.AHWRoT == Enabled && !in.Auth:
		return Decision{Err: secloader.ErrAuthCompulsory}
	case in.AHWRoT == Enabled && in.BootHeaderAuth:
		return Decision{Err: secloader.ErrBootHeaderAuthOnly}
	case in.AHWRoT == NonSecure && in.Auth:
		return Decision{Err: secloader.ErrBootHeaderAuthRequired}
	case in.SHWRoT == Enabled && !in.Enc:
		return Decision{Err: secloader.ErrEncCompulsory}
	}
	return Decision{EncOnlyChecks: in.SHWRoT == Enabled, KeySourceCheck: in.Enc}
}

func (s *tableSuite) TestDecideExhaustive(c *C) {
	levels := []Level{NonSecure, Emulated, Enabled}
	bools := []bool{false, true}

	n := 0
	for _, a := range levels {
		for _, st := range levels {
			for _, auth := range bools {
				for _, enc := range bools {
					for _, bha := range bools {
						in := Inputs{AHWRoT: a, SHWRoT: st, Auth: auth, Enc: enc, BootHeaderAuth: bha}
						c.Check(Decide(in), DeepEquals, expectedDecision(in), Commentf("%+v", in))
						n++
					}
				}
			}
		}
	}
	c.Check(n, Equals, 72)
}

func (s *tableSuite) TestLevelString(c *C) {
	c.Check(NonSecure.String(), Equals, "non-secure")
	c.Check(Emulated.String(), Equals, "emulated")
	c.Check(Enabled.String(), Equals, "enabled")
}

type gateFixture struct {
	regs    *hwsim.SecureStateRegisters
	fuses   *hwsim.Fuses
	dev     *hwsim.BootDevice
	engines *engine.Engines
	store   *kat.MemoryStore
}

func (s *gateFixture) setUp() {
	s.regs = &hwsim.SecureStateRegisters{A: secloader.SecureStateAHWRoT, S: secloader.SecureStateNonSecure}
	s.fuses = new(hwsim.Fuses)
	s.dev = new(hwsim.BootDevice)
	s.engines = engine.NewSoftEngines()
	s.store = new(kat.MemoryStore)
}

func (s *gateFixture) newGate(c *C) *Gate {
	shadow, err := secloader.CaptureSecureState(s.regs)
	c.Assert(err, IsNil)
	return s.newGateWithShadow(c, shadow)
}

func (s *gateFixture) newGateWithShadow(c *C, shadow secloader.SecureStateShadow) *Gate {
	gk, err := kat.NewGatekeeper(s.engines, s.store, s.fuses)
	c.Assert(err, IsNil)
	return NewGate(s.regs, shadow, s.fuses, s.dev, gk)
}

func (s *gateFixture) katMask(c *C) kat.Mask {
	mask, err := s.store.Load()
	c.Assert(err, IsNil)
	return mask
}

type brokenAES struct {
	engine.AES
}

func (brokenAES) Open(dst []byte, slot secloader.KeySlot, iv, in []byte) ([]byte, error) {
	return append(dst, make([]byte, len(in)-secloader.GcmTagLen)...), nil
}

type gateSuite struct {
	gateFixture
}

var _ = Suite(&gateSuite{})

func (s *gateSuite) SetUpTest(c *C) {
	s.setUp()
}

func (s *gateSuite) TestLevels(c *C) {
	for _, t := range []struct {
		a, s     secloader.SecureState
		aLevel   Level
		sLevel   Level
	}{
		{secloader.SecureStateAHWRoT, secloader.SecureStateSHWRoT, Enabled, Enabled},
		{secloader.SecureStateEmulatedAHWRoT, secloader.SecureStateEmulatedSHWRoT, Emulated, Emulated},
		{secloader.SecureStateNonSecure, secloader.SecureStateNonSecure, NonSecure, NonSecure},
	} {
		s.regs.A = t.a
		s.regs.S = t.s
		g := s.newGate(c)

		a, err := g.AHWRoT()
		c.Check(err, IsNil)
		c.Check(a, Equals, t.aLevel)
		st, err := g.SHWRoT()
		c.Check(err, IsNil)
		c.Check(st, Equals, t.sLevel)
	}
}

func (s *gateSuite) TestLevelShadowMismatch(c *C) {
	g := s.newGate(c)
	s.regs.A = secloader.SecureStateNonSecure

	_, err := g.AHWRoT()
	c.Check(err, testutil.ErrorIs, secloader.ErrGlitchDetected)
	c.Check(secloader.KindOf(err), Equals, secloader.ErrorKindGlitch)
}

func (s *gateSuite) TestLevelShadowMismatchEmulated(c *C) {
	// The register is authoritative, so an emulated shadow doesn't
	// match an enabled register.
	g := s.newGateWithShadow(c, secloader.SecureStateShadow{
		AHWRoT: secloader.SecureStateEmulatedAHWRoT,
		SHWRoT: secloader.SecureStateNonSecure})

	_, err := g.AHWRoT()
	c.Check(err, testutil.ErrorIs, secloader.ErrGlitchDetected)
}

func (s *gateSuite) TestLevelInvalidState(c *C) {
	s.regs.S = secloader.SecureState(0x12345678)
	g := s.newGate(c)

	_, err := g.SHWRoT()
	c.Check(err, testutil.ErrorIs, secloader.ErrInvalidState)
	c.Check(err, ErrorMatches, `read S-HWRoT state SecureState\(0x12345678\): invalid secure state`)
}

func (s *gateSuite) TestLevelReadError(c *C) {
	g := s.newGate(c)
	s.regs.Err = errors.New("bus error")

	_, err := g.AHWRoT()
	c.Check(err, testutil.ErrorIs, secloader.ErrInvalidState)
	c.Check(secloader.KindOf(err), Equals, secloader.ErrorKindIO)
}

func (s *gateSuite) TestInitAuthNotAuthenticated(c *C) {
	cert, err := s.newGate(c).InitAuth(&secloader.PartitionHeader{DataOffset: 0x100})
	c.Check(err, IsNil)
	c.Check(cert, IsNil)
	c.Check(s.dev.Copies(), Equals, 0)
}

func (s *gateSuite) TestInitAuth(c *C) {
	rand := testutil.NewSeededRand("policy")
	expected, err := pdigen.NewCertificate(rand, &pdigen.AuthParams{
		PPK: testutil.Key(secloader.AuthAlgorithmECDSAP384, "ppk"),
		SPK: testutil.Key(secloader.AuthAlgorithmECDSAP384, "spk")})
	c.Assert(err, IsNil)
	s.dev.Data = append(make([]byte, 0x200), expected.Marshal()...)

	cert, err := s.newGate(c).InitAuth(&secloader.PartitionHeader{CertificateOffset: 0x200})
	c.Check(err, IsNil)
	c.Check(cert, DeepEquals, expected)
}

func (s *gateSuite) TestInitAuthCopyFailure(c *C) {
	_, err := s.newGate(c).InitAuth(&secloader.PartitionHeader{CertificateOffset: 0x200})
	c.Check(err, testutil.ErrorIs, secloader.ErrCopyFailed)
}

func (s *gateSuite) TestInitEncNotEncrypted(c *C) {
	enc, err := s.newGate(c).InitEnc(&secloader.PartitionHeader{})
	c.Check(err, IsNil)
	c.Check(enc, testutil.IsFalse)
}

func (s *gateSuite) TestInitEncChecksumConflict(c *C) {
	g := s.newGate(c)
	for _, hdr := range []*secloader.PartitionHeader{
		{Checksum: true, Encrypted: true},
		{Checksum: true, CertificateOffset: 0x100},
	} {
		_, err := g.InitEnc(hdr)
		c.Check(err, testutil.ErrorIs, secloader.ErrChecksumConflict)
		c.Check(secloader.KindOf(err), Equals, secloader.ErrorKindPolicy)
	}

	enc, err := g.InitEnc(&secloader.PartitionHeader{Checksum: true})
	c.Check(err, IsNil)
	c.Check(enc, testutil.IsFalse)
}

func (s *gateSuite) TestInitEnc(c *C) {
	s.fuses.CryptoKatEnable = true

	enc, err := s.newGate(c).InitEnc(&secloader.PartitionHeader{Encrypted: true, KeySource: secloader.KeySourceBBRAMBlack})
	c.Check(err, IsNil)
	c.Check(enc, testutil.IsTrue)
	c.Check(s.katMask(c).Has(kat.AES), testutil.IsTrue)
	c.Check(s.katMask(c).Has(kat.AESDPA), testutil.IsTrue)
}

func (s *gateSuite) TestInitEncDpaDisabled(c *C) {
	s.fuses.CryptoKatEnable = true
	s.fuses.DpaDisable = true

	_, err := s.newGate(c).InitEnc(&secloader.PartitionHeader{Encrypted: true, KeySource: secloader.KeySourceBBRAMBlack})
	c.Check(err, IsNil)
	c.Check(s.katMask(c).Has(kat.AES), testutil.IsTrue)
	c.Check(s.katMask(c).Has(kat.AESDPA), testutil.IsFalse)
}

func (s *gateSuite) TestInitEncKatFailure(c *C) {
	s.fuses.CryptoKatEnable = true
	s.engines.AES = brokenAES{s.engines.AES}

	_, err := s.newGate(c).InitEnc(&secloader.PartitionHeader{Encrypted: true, KeySource: secloader.KeySourceBBRAMBlack})
	c.Check(err, testutil.ErrorIs, secloader.ErrKatFailed)
}

func (s *gateSuite) TestInitEncNotPermitted(c *C) {
	s.regs.A = secloader.SecureStateNonSecure
	s.regs.S = secloader.SecureStateNonSecure

	_, err := s.newGate(c).InitEnc(&secloader.PartitionHeader{Encrypted: true, KeySource: secloader.KeySourceBBRAM})
	c.Check(err, testutil.ErrorIs, secloader.ErrDecryptNotAllowed)
}

func (s *gateSuite) TestInitEncEmulatedPermitted(c *C) {
	s.regs.A = secloader.SecureStateNonSecure
	s.regs.S = secloader.SecureStateEmulatedSHWRoT

	enc, err := s.newGate(c).InitEnc(&secloader.PartitionHeader{Encrypted: true, KeySource: secloader.KeySourceBBRAM})
	c.Check(err, IsNil)
	c.Check(enc, testutil.IsTrue)
}

func (s *gateSuite) TestInitEncOnlyRejectsPlainKeys(c *C) {
	s.regs.S = secloader.SecureStateSHWRoT
	g := s.newGate(c)

	for _, src := range []secloader.KeySource{secloader.KeySourceEfuse, secloader.KeySourceBBRAM} {
		_, err := g.InitEnc(&secloader.PartitionHeader{Encrypted: true, KeySource: src})
		c.Check(err, testutil.ErrorIs, secloader.ErrEncOnlyKeySource)
	}
	enc, err := g.InitEnc(&secloader.PartitionHeader{Encrypted: true, KeySource: secloader.KeySourceEfuseBlack})
	c.Check(err, IsNil)
	c.Check(enc, testutil.IsTrue)
}

func (s *gateSuite) TestInitEncGlitch(c *C) {
	g := s.newGate(c)
	s.regs.S = secloader.SecureStateSHWRoT

	_, err := g.InitEnc(&secloader.PartitionHeader{Encrypted: true, KeySource: secloader.KeySourceBBRAMBlack})
	c.Check(err, testutil.ErrorIs, secloader.ErrGlitchDetected)
}

func (s *gateSuite) TestFuseAuth(c *C) {
	for _, t := range []struct {
		a        secloader.SecureState
		bhAuth   bool
		fuseAuth bool
	}{
		{secloader.SecureStateAHWRoT, false, true},
		{secloader.SecureStateAHWRoT, true, true},
		{secloader.SecureStateEmulatedAHWRoT, true, false},
		{secloader.SecureStateEmulatedAHWRoT, false, true},
		{secloader.SecureStateNonSecure, false, true},
	} {
		s.regs.A = t.a
		fuseAuth, err := s.newGate(c).FuseAuth(&secloader.BootHeader{BootHeaderAuth: t.bhAuth})
		c.Check(err, IsNil)
		c.Check(fuseAuth, Equals, t.fuseAuth, Commentf("%v %v", t.a, t.bhAuth))
	}
}

func (s *gateSuite) TestValidateBootSecurityAuthCompulsory(c *C) {
	err := s.newGate(c).ValidateBootSecurity(&secloader.BootHeader{}, &secloader.HeaderTable{})
	c.Check(err, testutil.ErrorIs, secloader.ErrAuthCompulsory)
	c.Check(secloader.KindOf(err), Equals, secloader.ErrorKindPolicy)
}

func (s *gateSuite) TestValidateBootSecurityBootHeaderAuthForbidden(c *C) {
	err := s.newGate(c).ValidateBootSecurity(&secloader.BootHeader{BootHeaderAuth: true}, &secloader.HeaderTable{CertificateOffset: 0x100})
	c.Check(err, testutil.ErrorIs, secloader.ErrBootHeaderAuthOnly)
}

func (s *gateSuite) TestValidateBootSecurityAuthenticated(c *C) {
	err := s.newGate(c).ValidateBootSecurity(&secloader.BootHeader{}, &secloader.HeaderTable{CertificateOffset: 0x100})
	c.Check(err, IsNil)
}

func (s *gateSuite) TestValidateBootSecurityPpkHashZero(c *C) {
	s.regs.A = secloader.SecureStateNonSecure
	err := s.newGate(c).ValidateBootSecurity(&secloader.BootHeader{}, &secloader.HeaderTable{CertificateOffset: 0x100})
	c.Check(err, testutil.ErrorIs, secloader.ErrBootHeaderAuthRequired)

	s.regs.A = secloader.SecureStateEmulatedAHWRoT
	err = s.newGate(c).ValidateBootSecurity(&secloader.BootHeader{BootHeaderAuth: true}, &secloader.HeaderTable{CertificateOffset: 0x100})
	c.Check(err, IsNil)
}

func (s *gateSuite) TestValidateBootSecurityKeySourceMismatch(c *C) {
	err := s.newGate(c).ValidateBootSecurity(
		&secloader.BootHeader{KeySource: secloader.KeySourceBBRAMBlack},
		&secloader.HeaderTable{CertificateOffset: 0x100, Encrypted: true, KeySource: secloader.KeySourceEfuseBlack})
	c.Check(err, testutil.ErrorIs, secloader.ErrKeySrcMismatch)
}

func (s *gateSuite) TestValidateBootSecurityEncCompulsory(c *C) {
	s.regs.S = secloader.SecureStateSHWRoT
	err := s.newGate(c).ValidateBootSecurity(&secloader.BootHeader{}, &secloader.HeaderTable{CertificateOffset: 0x100})
	c.Check(err, testutil.ErrorIs, secloader.ErrEncCompulsory)
}

type encOnlySuite struct {
	gateFixture
	bh    *secloader.BootHeader
	table *secloader.HeaderTable
}

var _ = Suite(&encOnlySuite{})

func (s *encOnlySuite) SetUpTest(c *C) {
	s.setUp()
	s.regs.S = secloader.SecureStateSHWRoT
	s.fuses.HeaderIV = testutil.DecodeHexString(c, "0102030405060708000000a0")
	s.fuses.BlackKeyIV = testutil.DecodeHexString(c, "a1a2a3a4a5a6a7a8a9aaabac")

	s.bh = &secloader.BootHeader{KeySource: secloader.KeySourceEfuseBlack}
	s.table = &secloader.HeaderTable{
		CertificateOffset: 0x100,
		Encrypted:         true,
		KeySource:         secloader.KeySourceEfuseBlack,
		PufHelper:         secloader.PufHelperInFuse}
	copy(s.table.IV[:], testutil.DecodeHexString(c, "0102030405060708000000a0"))
}

func (s *encOnlySuite) validate(c *C) error {
	return s.newGate(c).ValidateBootSecurity(s.bh, s.table)
}

func (s *encOnlySuite) TestValid(c *C) {
	c.Check(s.validate(c), IsNil)

	s.table.IV[11] = 0xff
	c.Check(s.validate(c), IsNil)
}

func (s *encOnlySuite) TestKeySource(c *C) {
	s.table.KeySource = secloader.KeySourceBBRAMBlack
	s.bh.KeySource = secloader.KeySourceBBRAMBlack
	c.Check(s.validate(c), testutil.ErrorIs, secloader.ErrEncOnlyKeySource)
}

func (s *encOnlySuite) TestPufHelperLocation(c *C) {
	s.table.PufHelper = secloader.PufHelperInBootHeader
	c.Check(s.validate(c), testutil.ErrorIs, secloader.ErrEncOnlyPufHelperData)
}

func (s *encOnlySuite) TestZeroHeaderIVFuse(c *C) {
	s.fuses.HeaderIV = nil
	c.Check(s.validate(c), testutil.ErrorIs, secloader.ErrEncOnlyIV)
}

func (s *encOnlySuite) TestZeroBlackIVFuse(c *C) {
	s.fuses.BlackKeyIV = nil
	c.Check(s.validate(c), testutil.ErrorIs, secloader.ErrEncOnlyIV)
}

func (s *encOnlySuite) TestIVUpperMismatch(c *C) {
	s.table.IV[0] ^= 0x01
	c.Check(s.validate(c), testutil.ErrorIs, secloader.ErrEncOnlyIV)
}

func (s *encOnlySuite) TestIVBelowFuse(c *C) {
	s.table.IV[11] = 0x9f
	c.Check(s.validate(c), testutil.ErrorIs, secloader.ErrEncOnlyIV)
}

func (s *encOnlySuite) TestIVFuseGlitch(c *C) {
	s.fuses.InjectGlitch(hwsim.QueryMetaHeaderIV, 1)
	c.Check(s.validate(c), testutil.ErrorIs, secloader.ErrGlitchDetected)
}

func (s *encOnlySuite) TestKeySourceMismatch(c *C) {
	s.bh.KeySource = secloader.KeySourceBBRAMBlack
	c.Check(s.validate(c), testutil.ErrorIs, secloader.ErrKeySrcMismatch)
}
