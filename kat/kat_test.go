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

package kat_test

import (
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"

	snapd_testutil "github.com/snapcore/snapd/testutil"
	. "gopkg.in/check.v1"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/engine"
	"github.com/canonical/secloader/hwsim"
	"github.com/canonical/secloader/internal/testutil"
	. "github.com/canonical/secloader/kat"
)

func Test(t *testing.T) { TestingT(t) }

type katSuite struct {
	engines *engine.Engines
	fuses   *hwsim.Fuses
	store   *MemoryStore
}

var _ = Suite(&katSuite{})

func (s *katSuite) SetUpTest(c *C) {
	s.engines = engine.NewSoftEngines()
	s.fuses = &hwsim.Fuses{CryptoKatEnable: true}
	s.store = new(MemoryStore)
}

func (s *katSuite) newGatekeeper(c *C) *Gatekeeper {
	g, err := NewGatekeeper(s.engines, s.store, s.fuses)
	c.Assert(err, IsNil)
	return g
}

func (s *katSuite) testDefaultVector(c *C, p Primitive) {
	g := s.newGatekeeper(c)
	c.Check(g.EnsureTested(p), IsNil)
	c.Check(g.Mask().Has(p), testutil.IsTrue)

	mask, err := s.store.Load()
	c.Check(err, IsNil)
	c.Check(mask.Has(p), testutil.IsTrue)
}

func (s *katSuite) TestHash(c *C) {
	s.testDefaultVector(c, Hash)
}

func (s *katSuite) TestRSA(c *C) {
	s.testDefaultVector(c, RSA)
}

func (s *katSuite) TestECCP384(c *C) {
	s.testDefaultVector(c, ECCP384)
}

func (s *katSuite) TestECCP521(c *C) {
	s.testDefaultVector(c, ECCP521)
}

func (s *katSuite) TestAES(c *C) {
	s.testDefaultVector(c, AES)
	c.Check(s.engines.AES.(*engine.SoftAES).Loaded(secloader.KeySlotKUP), testutil.IsFalse)
}

func (s *katSuite) TestAESDPA(c *C) {
	s.testDefaultVector(c, AESDPA)
	c.Check(s.engines.AES.(*engine.SoftAES).DpaCountermeasureEnabled(), testutil.IsFalse)
}

func (s *katSuite) TestAESDPAUnsupported(c *C) {
	s.engines.AES = engine.NewSoftAES(false)
	s.testDefaultVector(c, AESDPA)
}

func (s *katSuite) TestRunsAtMostOnce(c *C) {
	g := s.newGatekeeper(c)
	calls := 0
	g.SetVector(Hash, func(*engine.Engines) error {
		calls++
		return nil
	})
	for i := 0; i < 3; i++ {
		c.Check(g.EnsureTested(Hash), IsNil)
	}
	c.Check(calls, Equals, 1)
}

func (s *katSuite) TestFailureIsLatched(c *C) {
	g := s.newGatekeeper(c)
	calls := 0
	g.SetVector(RSA, func(*engine.Engines) error {
		calls++
		return errors.New("bad result")
	})

	err := g.EnsureTested(RSA)
	c.Check(err, ErrorMatches, `RSA known answer test: known answer test failed: bad result`)
	c.Check(err, testutil.ErrorIs, secloader.ErrKatFailed)
	c.Check(secloader.KindOf(err), Equals, secloader.ErrorKindKAT)

	err = g.EnsureTested(RSA)
	c.Check(err, testutil.ErrorIs, secloader.ErrKatFailed)
	c.Check(calls, Equals, 1)
	c.Check(g.Mask().Has(RSA), testutil.IsFalse)

	// Other primitives are unaffected.
	c.Check(g.EnsureTested(Hash), IsNil)
}

func (s *katSuite) TestMaskLoadedFromStore(c *C) {
	c.Assert(s.store.Save(Mask(Hash|AES)), IsNil)
	g := s.newGatekeeper(c)
	g.SetVector(Hash, func(*engine.Engines) error {
		c.Error("unexpected call")
		return nil
	})
	c.Check(g.EnsureTested(Hash), IsNil)
}

func (s *katSuite) TestKatDisabledByFuse(c *C) {
	s.fuses.CryptoKatEnable = false
	g := s.newGatekeeper(c)
	g.SetVector(ECCP384, func(*engine.Engines) error {
		c.Error("unexpected call")
		return nil
	})
	c.Check(g.EnsureTested(ECCP384), IsNil)
}

func (s *katSuite) TestKatFuseGlitch(c *C) {
	s.fuses.InjectGlitch(hwsim.QueryCryptoKatEnable, 1)
	_, err := NewGatekeeper(s.engines, s.store, s.fuses)
	c.Check(err, testutil.ErrorIs, secloader.ErrGlitchDetected)
}

func (s *katSuite) TestCorruptedEngineFails(c *C) {
	g := s.newGatekeeper(c)
	s.engines.SHA3 = brokenSHA3{}
	c.Check(g.EnsureTested(Hash), testutil.ErrorIs, secloader.ErrKatFailed)
}

type brokenSHA3 struct{}

func (brokenSHA3) Digest(parts ...[]byte) ([]byte, error) {
	return make([]byte, 48), nil
}

// zeroAES returns an all-zero plaintext without decrypting.
type zeroAES struct {
	engine.AES
}

func (zeroAES) Open(dst []byte, slot secloader.KeySlot, iv, in []byte) ([]byte, error) {
	return append(dst, make([]byte, len(in)-secloader.GcmTagLen)...), nil
}

// tagIgnoringAES decrypts but doesn't reject units with a bad tag.
type tagIgnoringAES struct {
	engine.AES
}

func (a tagIgnoringAES) Open(dst []byte, slot secloader.KeySlot, iv, in []byte) ([]byte, error) {
	out, err := a.AES.Open(dst, slot, iv, in)
	if err != nil {
		return append(dst, make([]byte, len(in)-secloader.GcmTagLen)...), nil
	}
	return out, nil
}

func (s *katSuite) testBrokenAES(c *C, p Primitive, aes engine.AES) {
	s.engines.AES = aes
	g := s.newGatekeeper(c)
	c.Check(g.EnsureTested(p), testutil.ErrorIs, secloader.ErrKatFailed)
	c.Check(g.Mask().Has(p), testutil.IsFalse)

	mask, err := s.store.Load()
	c.Check(err, IsNil)
	c.Check(mask.Has(p), testutil.IsFalse)
}

func (s *katSuite) TestAESNonDecryptingEngine(c *C) {
	s.testBrokenAES(c, AES, zeroAES{engine.NewSoftAES(true)})
}

func (s *katSuite) TestAESDPANonDecryptingEngine(c *C) {
	s.testBrokenAES(c, AESDPA, zeroAES{engine.NewSoftAES(true)})
}

func (s *katSuite) TestAESTagNotChecked(c *C) {
	s.testBrokenAES(c, AES, tagIgnoringAES{engine.NewSoftAES(true)})
}

func (s *katSuite) TestAESDPATagNotChecked(c *C) {
	s.testBrokenAES(c, AESDPA, tagIgnoringAES{engine.NewSoftAES(true)})
}

func (s *katSuite) TestPrimitiveString(c *C) {
	c.Check(Hash.String(), Equals, "SHA3-384")
	c.Check((AES | AESDPA).String(), Equals, "AES|AES-DPA")
}

type fileStoreSuite struct {
	snapd_testutil.BaseTest
}

var _ = Suite(&fileStoreSuite{})

func (s *fileStoreSuite) TestLoadMissing(c *C) {
	store := &FileStore{Path: filepath.Join(c.MkDir(), "kat")}
	mask, err := store.Load()
	c.Check(err, IsNil)
	c.Check(mask, Equals, Mask(0))
}

func (s *fileStoreSuite) TestSaveAndLoad(c *C) {
	path := filepath.Join(c.MkDir(), "kat")
	store := &FileStore{Path: path}
	c.Assert(store.Save(Mask(Hash|ECCP384)), IsNil)
	c.Check(path, snapd_testutil.FileEquals, "0x5\n")

	mask, err := (&FileStore{Path: path}).Load()
	c.Check(err, IsNil)
	c.Check(mask.Has(Hash), testutil.IsTrue)
	c.Check(mask.Has(ECCP384), testutil.IsTrue)
	c.Check(mask.Has(RSA), testutil.IsFalse)
}

func (s *fileStoreSuite) TestLoadInvalid(c *C) {
	path := filepath.Join(c.MkDir(), "kat")
	c.Assert(ioutil.WriteFile(path, []byte("foo\n"), 0600), IsNil)
	_, err := (&FileStore{Path: path}).Load()
	c.Check(err, ErrorMatches, `cannot parse KAT mask: .*`)

	c.Assert(ioutil.WriteFile(path, []byte("0x100\n"), 0600), IsNil)
	_, err = (&FileStore{Path: path}).Load()
	c.Check(err, ErrorMatches, `invalid KAT mask 0x100`)
}

func (s *fileStoreSuite) TestGatekeeperPersistsAcrossInstances(c *C) {
	fuses := &hwsim.Fuses{CryptoKatEnable: true}
	store := &FileStore{Path: filepath.Join(c.MkDir(), "kat")}

	gk, err := NewGatekeeper(engine.NewSoftEngines(), store, fuses)
	c.Assert(err, IsNil)
	c.Assert(gk.EnsureTested(Hash), IsNil)

	gk, err = NewGatekeeper(engine.NewSoftEngines(), store, fuses)
	c.Assert(err, IsNil)
	c.Check(gk.Mask().Has(Hash), testutil.IsTrue)
	c.Check(gk.Mask().Has(AES), testutil.IsFalse)
}
