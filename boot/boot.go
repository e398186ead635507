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

// Package boot ties the secure loading components together for a single
// boot session. It owns the state that is shared between partitions: the
// captured secure state, the known answer test mask and the cache of
// unwrapped keys.
package boot

import (
	"github.com/snapcore/snapd/logger"
	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/authjtag"
	"github.com/canonical/secloader/cert"
	"github.com/canonical/secloader/engine"
	"github.com/canonical/secloader/kat"
	"github.com/canonical/secloader/keys"
	"github.com/canonical/secloader/loader"
	"github.com/canonical/secloader/policy"
)

// Config contains the platform collaborators for a boot session.
type Config struct {
	Fuses  secloader.FuseStore
	Regs   secloader.SecureStateRegisters
	Device secloader.DeviceCopier
	Memory secloader.Memory
	PUF    secloader.PUF

	// Debug is the authenticated JTAG port. If it is nil, the session
	// has no JTAG controller.
	Debug secloader.DebugPort

	// Engines are the crypto engines. The default is a set of software
	// engines.
	Engines *engine.Engines

	// KatStore persists the known answer test mask. The default keeps
	// it in memory.
	KatStore kat.Store

	// BootHeader contains the boot header fields. The default is an
	// empty boot header.
	BootHeader *secloader.BootHeader

	Loader   loader.Options
	AuthJtag authjtag.Config
}

// Session is a boot session.
type Session struct {
	shadow     secloader.SecureStateShadow
	engines    *engine.Engines
	gatekeeper *kat.Gatekeeper
	gate       *policy.Gate
	auth       *cert.Authenticator
	keys       *keys.Resolver
	jtag       *authjtag.Controller

	env loader.Env
}

// NewSession begins a boot session, capturing the secure state
// registers.
func NewSession(config *Config) (*Session, error) {
	switch {
	case config.Fuses == nil:
		return nil, secloader.NewInvalidParameterError("config", "no fuse store")
	case config.Regs == nil:
		return nil, secloader.NewInvalidParameterError("config", "no secure state registers")
	case config.Device == nil:
		return nil, secloader.NewInvalidParameterError("config", "no boot device")
	case config.Memory == nil:
		return nil, secloader.NewInvalidParameterError("config", "no execution memory")
	case config.PUF == nil:
		return nil, secloader.NewInvalidParameterError("config", "no PUF")
	}

	engines := config.Engines
	if engines == nil {
		engines = engine.NewSoftEngines()
	}
	store := config.KatStore
	if store == nil {
		store = new(kat.MemoryStore)
	}
	bh := config.BootHeader
	if bh == nil {
		bh = new(secloader.BootHeader)
	}

	shadow, err := secloader.CaptureSecureState(config.Regs)
	if err != nil {
		return nil, xerrors.Errorf("cannot capture secure state: %w", err)
	}
	logger.Debugf("secure state: A-HWRoT %v, S-HWRoT %v", shadow.AHWRoT, shadow.SHWRoT)

	gatekeeper, err := kat.NewGatekeeper(engines, store, config.Fuses)
	if err != nil {
		return nil, xerrors.Errorf("cannot initialize known answer tests: %w", err)
	}

	s := &Session{
		shadow:     shadow,
		engines:    engines,
		gatekeeper: gatekeeper,
		gate:       policy.NewGate(config.Regs, shadow, config.Fuses, config.Device, gatekeeper),
		auth:       cert.NewAuthenticator(config.Fuses, engines, gatekeeper),
		keys:       keys.NewResolver(engines.AES, config.PUF, config.Fuses, bh)}
	if config.Debug != nil {
		s.jtag = authjtag.NewController(config.Debug, config.Fuses, s.gate, s.auth, &config.AuthJtag)
	}

	s.env = loader.Env{
		Gate:       s.gate,
		Auth:       s.auth,
		Keys:       s.keys,
		AES:        engines.AES,
		Device:     config.Device,
		Memory:     config.Memory,
		BootHeader: bh,
		Options:    config.Loader}
	return s, nil
}

func (s *Session) Shadow() secloader.SecureStateShadow {
	return s.shadow
}

func (s *Session) Gatekeeper() *kat.Gatekeeper {
	return s.gatekeeper
}

func (s *Session) Gate() *policy.Gate {
	return s.gate
}

func (s *Session) Authenticator() *cert.Authenticator {
	return s.auth
}

func (s *Session) Keys() *keys.Resolver {
	return s.keys
}

// AuthJtag returns the authenticated JTAG controller, or nil if the
// session was created without a debug port.
func (s *Session) AuthJtag() *authjtag.Controller {
	return s.jtag
}

// RegisterTasks adds the periodic tasks of this session to sched.
func (s *Session) RegisterTasks(sched secloader.Scheduler) error {
	if s.jtag == nil {
		return nil
	}
	return s.jtag.Register(sched)
}

// ValidateHeaderTable checks that the image header table is secured as
// required by the secure state, and authenticates it if it has a
// certificate. The table data is cleared if authentication fails.
func (s *Session) ValidateHeaderTable(table *secloader.HeaderTable, data []byte) error {
	if err := s.gate.ValidateBootSecurity(s.env.BootHeader, table); err != nil {
		return err
	}
	if !table.Authenticated() {
		return nil
	}
	return loader.AuthenticateHeaderTable(&s.env, table, data)
}

// NewPartition begins loading the partition described by hdr.
func (s *Session) NewPartition(hdr *secloader.PartitionHeader) (*loader.SecureSession, error) {
	return loader.NewSecureSession(&s.env, hdr)
}

// LoadPartition loads every block of the partition described by hdr to
// consecutive addresses starting at dest. The sizes of the blocks are
// supplied in blockSizes, and the last one is the last block. The total
// number of payload bytes is returned.
func (s *Session) LoadPartition(hdr *secloader.PartitionHeader, dest uint64, blockSizes []uint32) (int, error) {
	if len(blockSizes) == 0 {
		return 0, secloader.NewInvalidParameterError("block sizes", "no blocks")
	}

	p, err := s.NewPartition(hdr)
	if err != nil {
		return 0, err
	}
	defer p.Close()

	total := 0
	for i, size := range blockSizes {
		n, err := p.ProcessBlock(dest+uint64(total), size, i == len(blockSizes)-1)
		if err != nil {
			return total, err
		}
		total += n
	}
	logger.Debugf("loaded %d bytes to %#x", total, dest)
	return total, nil
}

// Clear zeroizes the keys unwrapped during this session and resets the
// AES engine. It is called at the end of a boot session, or when boot
// fails.
func (s *Session) Clear() error {
	if err := s.keys.Clear(); err != nil {
		return err
	}
	if err := s.engines.AES.Reset(); err != nil {
		return xerrors.Errorf("cannot reset AES engine: %w", err)
	}
	return nil
}
