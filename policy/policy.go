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

// Package policy implements the secure policy and state gate, which
// decides whether a boot image or partition is permitted given the secure
// state of the device.
package policy

import (
	"encoding/binary"
	"fmt"

	"github.com/snapcore/snapd/logger"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/cert"
	"github.com/canonical/secloader/internal/redundant"
	"github.com/canonical/secloader/kat"
)

// Gate evaluates the secure policy. The secure state registers are read
// on every decision and compared against the shadow captured at the start
// of the boot session. The register is authoritative, and any disagreement
// with the shadow is treated as a glitch.
type Gate struct {
	regs   secloader.SecureStateRegisters
	shadow secloader.SecureStateShadow
	fuses  secloader.FuseStore
	dev    secloader.DeviceCopier
	kat    *kat.Gatekeeper
}

// NewGate returns a new Gate.
func NewGate(regs secloader.SecureStateRegisters, shadow secloader.SecureStateShadow, fuses secloader.FuseStore, dev secloader.DeviceCopier, gatekeeper *kat.Gatekeeper) *Gate {
	return &Gate{
		regs:   regs,
		shadow: shadow,
		fuses:  fuses,
		dev:    dev,
		kat:    gatekeeper}
}

func (g *Gate) level(name string, read func() (secloader.SecureState, error), shadow, enabled, emulated secloader.SecureState) (Level, error) {
	op := "read " + name + " state"

	first, err := read()
	if err != nil {
		return 0, secloader.IOError(op, secloader.ErrInvalidState, err)
	}
	second, err := read()
	if err != nil {
		return 0, secloader.IOError(op, secloader.ErrInvalidState, err)
	}
	agree, err := redundant.FromBools(first == shadow, second == shadow).Result(op)
	if err != nil {
		return 0, err
	}
	if !agree {
		logger.Noticef("%s register %v does not match shadow %v", name, first, shadow)
		return 0, secloader.GlitchError(op)
	}

	switch first {
	case enabled:
		return Enabled, nil
	case emulated:
		return Emulated, nil
	case secloader.SecureStateNonSecure:
		return NonSecure, nil
	default:
		return 0, secloader.PolicyError(fmt.Sprintf("%s %v", op, first), secloader.ErrInvalidState)
	}
}

// AHWRoT returns the asymmetric hardware root of trust state.
func (g *Gate) AHWRoT() (Level, error) {
	return g.level("A-HWRoT", g.regs.AHWRoT, g.shadow.AHWRoT, secloader.SecureStateAHWRoT, secloader.SecureStateEmulatedAHWRoT)
}

// SHWRoT returns the symmetric hardware root of trust state.
func (g *Gate) SHWRoT() (Level, error) {
	return g.level("S-HWRoT", g.regs.SHWRoT, g.shadow.SHWRoT, secloader.SecureStateSHWRoT, secloader.SecureStateEmulatedSHWRoT)
}

// InitAuth returns the certificate of the partition described by hdr, or
// nil if the partition is not authenticated.
func (g *Gate) InitAuth(hdr *secloader.PartitionHeader) (*cert.Certificate, error) {
	if hdr.CertificateOffset == 0 {
		return nil, nil
	}
	logger.Debugf("authentication is enabled")
	return cert.ReadCertificate(g.dev, hdr.CertificateOffset)
}

// InitEnc indicates whether the partition described by hdr is encrypted,
// after checking that decryption is permitted.
func (g *Gate) InitEnc(hdr *secloader.PartitionHeader) (bool, error) {
	const op = "initialize decryption"

	if hdr.Checksum && (hdr.Encrypted || hdr.CertificateOffset != 0) {
		return false, secloader.PolicyError(op, secloader.ErrChecksumConflict)
	}
	if !hdr.Encrypted {
		return false, nil
	}

	if err := g.kat.EnsureTested(kat.AES); err != nil {
		return false, err
	}
	dpaDisabled, err := redundant.ReadBool("read DPA countermeasure disable", g.fuses.DpaCountermeasureDisabled)
	if err != nil {
		return false, err
	}
	if !dpaDisabled {
		if err := g.kat.EnsureTested(kat.AESDPA); err != nil {
			return false, err
		}
	}

	a, err := g.AHWRoT()
	if err != nil {
		return false, err
	}
	s, err := g.SHWRoT()
	if err != nil {
		return false, err
	}
	if !encryptionPermitted(a, s) {
		return false, secloader.PolicyError(op, secloader.ErrDecryptNotAllowed)
	}

	if s == Enabled && (hdr.KeySource == secloader.KeySourceEfuse || hdr.KeySource == secloader.KeySourceBBRAM) {
		return false, secloader.PolicyError(fmt.Sprintf("%s with key source %v", op, hdr.KeySource), secloader.ErrEncOnlyKeySource)
	}

	logger.Debugf("encryption is enabled")
	return true, nil
}

// FuseAuth indicates whether authenticated objects must chain to a PPK
// programmed in the fuses. This is the case when A-HWRoT is enabled, or
// when boot header authentication is not requested.
func (g *Gate) FuseAuth(bh *secloader.BootHeader) (bool, error) {
	a, err := g.AHWRoT()
	if err != nil {
		return false, err
	}
	if a == Enabled {
		return true, nil
	}
	return !bh.BootHeaderAuth, nil
}

// ValidateBootSecurity checks that the image header table described by
// table is permitted by the secure state of the device.
func (g *Gate) ValidateBootSecurity(bh *secloader.BootHeader, table *secloader.HeaderTable) error {
	const op = "validate boot security"

	a, err := g.AHWRoT()
	if err != nil {
		return err
	}
	s, err := g.SHWRoT()
	if err != nil {
		return err
	}

	in := Inputs{
		AHWRoT:         a,
		SHWRoT:         s,
		Auth:           table.Authenticated(),
		Enc:            table.Encrypted,
		BootHeaderAuth: bh.BootHeaderAuth}
	d := Decide(in)
	logger.Debugf("boot security inputs %+v", in)

	if d.Err != nil {
		return secloader.PolicyError(op, d.Err)
	}
	if d.EncOnlyChecks {
		if err := g.validateEncOnly(table); err != nil {
			return err
		}
	}
	if d.KeySourceCheck && table.KeySource != bh.KeySource {
		return secloader.PolicyError(fmt.Sprintf("%s: header table key source %v", op, table.KeySource), secloader.ErrKeySrcMismatch)
	}
	return nil
}

func (g *Gate) validateEncOnly(table *secloader.HeaderTable) error {
	const op = "validate encrypt-only header table"

	keySrcOK, err := redundant.FromBools(table.KeySource == secloader.KeySourceEfuseBlack, secloader.KeySourceEfuseBlack == table.KeySource).Result(op)
	if err != nil {
		return err
	}
	if !keySrcOK {
		return secloader.PolicyError(op, secloader.ErrEncOnlyKeySource)
	}

	pufOK, err := redundant.FromBools(table.PufHelper == secloader.PufHelperInFuse, secloader.PufHelperInFuse == table.PufHelper).Result(op)
	if err != nil {
		return err
	}
	if !pufOK {
		return secloader.PolicyError(op, secloader.ErrEncOnlyPufHelperData)
	}

	headerIV, err := redundant.ReadBytes("read header table IV fuse", g.fuses.MetaHeaderIV)
	if err != nil {
		return err
	}
	blackIV, err := redundant.ReadBytes("read black key IV fuse", g.fuses.BlackIV)
	if err != nil {
		return err
	}
	for _, iv := range [][]byte{headerIV, blackIV} {
		zero, err := redundant.IsZero(iv).Result(op)
		if err != nil {
			return err
		}
		if zero {
			return secloader.PolicyError(op, secloader.ErrEncOnlyIV)
		}
	}

	return validateIV(op, table.IV[:], headerIV)
}

// validateIV checks that the upper 64 bits of iv match the fuse value,
// and that the lower 32 bits are not below it.
func validateIV(op string, iv, fuse []byte) error {
	upper, err := redundant.Equal(iv[:8], fuse[:8]).Result(op)
	if err != nil {
		return err
	}
	if !upper {
		return secloader.PolicyError(op, secloader.ErrEncOnlyIV)
	}

	lo := binary.BigEndian.Uint32(iv[8:])
	fuseLo := binary.BigEndian.Uint32(fuse[8:])
	inRange, err := redundant.FromBools(lo >= fuseLo, fuseLo <= lo).Result(op)
	if err != nil {
		return err
	}
	if !inRange {
		return secloader.PolicyError(op, secloader.ErrEncOnlyIV)
	}
	return nil
}
