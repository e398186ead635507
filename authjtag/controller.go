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

// Package authjtag implements authenticated unlocking of the debug port.
// A host posts a signed unlock message, which is verified against the
// PPK hashes in the fuses before the debug port is opened.
package authjtag

import (
	"fmt"

	"github.com/snapcore/snapd/logger"
	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/cert"
	"github.com/canonical/secloader/internal/redundant"
	"github.com/canonical/secloader/policy"
)

const (
	DefaultMaxAttempts = 1
	DefaultPollPeriod  = 1
	DefaultPriority    = 1

	taskName = "auth-jtag"
)

var messageUseDna = (*Message).UseDna

// Config configures a Controller. The zero value is valid.
type Config struct {
	// MaxAttempts is the number of failed unlock attempts after which
	// every further request is rejected. The default is
	// DefaultMaxAttempts.
	MaxAttempts int

	// PollPeriod is the number of scheduler ticks between polls. The
	// default is DefaultPollPeriod.
	PollPeriod uint32

	// Priority is the scheduler priority of the poll task.
	Priority uint32
}

// State describes whether the debug port is open.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Controller polls for and services unlock requests.
type Controller struct {
	port  secloader.DebugPort
	fuses secloader.FuseStore
	gate  *policy.Gate
	auth  *cert.Authenticator

	maxAttempts int
	pollPeriod  uint32
	priority    uint32

	state      State
	failures   int
	timeout    uint32
	timerArmed bool
}

// NewController returns a new controller for the supplied debug port.
func NewController(port secloader.DebugPort, fuses secloader.FuseStore, gate *policy.Gate, auth *cert.Authenticator, config *Config) *Controller {
	if config == nil {
		config = new(Config)
	}
	c := &Controller{
		port:        port,
		fuses:       fuses,
		gate:        gate,
		auth:        auth,
		maxAttempts: config.MaxAttempts,
		pollPeriod:  config.PollPeriod,
		priority:    config.Priority}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.pollPeriod == 0 {
		c.pollPeriod = DefaultPollPeriod
	}
	return c
}

func (c *Controller) State() State {
	return c.state
}

// Failures returns the number of failed unlock attempts.
func (c *Controller) Failures() int {
	return c.failures
}

// Remaining returns the number of ticks before an unlocked debug port is
// relocked, and whether a timeout is armed.
func (c *Controller) Remaining() (ticks uint32, armed bool) {
	return c.timeout, c.timerArmed
}

func (c *Controller) disabledByFuse() (bool, error) {
	return redundant.ReadBool("read auth JTAG disable", c.fuses.AuthJtagDisabled)
}

// Register adds the poll task to s. Nothing is registered if
// authenticated JTAG is disabled in the fuses or if A-HWRoT is not
// enabled.
func (c *Controller) Register(s secloader.Scheduler) error {
	disabled, err := c.disabledByFuse()
	if err != nil {
		return err
	}
	if disabled {
		logger.Debugf("authenticated JTAG is disabled")
		return nil
	}

	level, err := c.gate.AHWRoT()
	if err != nil {
		return err
	}
	if level != policy.Enabled {
		logger.Debugf("authenticated JTAG is not available with A-HWRoT %v", level)
		return nil
	}

	if err := s.AddPeriodicTask(taskName, c.Tick, c.pollPeriod, c.priority); err != nil {
		return xerrors.Errorf("cannot add %s task: %w", taskName, err)
	}
	logger.Debugf("%s task added", taskName)
	return nil
}

// Tick polls for an unlock request. If there is one and the attempt limit
// hasn't been reached, it is verified. If there isn't one and the debug
// port was unlocked with a timeout, the timeout is decremented and the
// port is relocked when it expires. The debug port is closed whenever an
// error is returned.
func (c *Controller) Tick() error {
	pending, err := redundant.ReadBool("read auth JTAG request", c.port.RequestPending)
	if err != nil {
		return c.lock(err)
	}

	if !pending {
		if !c.timerArmed {
			return nil
		}
		c.timeout--
		if c.timeout == 0 {
			return c.lock(secloader.PolicyError("debug port timeout", secloader.ErrDapTimeoutDisabled))
		}
		return nil
	}

	if err := c.port.AckRequest(); err != nil {
		return c.lock(secloader.IOError("acknowledge unlock request", secloader.ErrDebugPortAccess, err))
	}
	if c.failures >= c.maxAttempts {
		return c.lock(secloader.PolicyError("unlock debug port", secloader.ErrAuthJtagExceeded))
	}

	timeout, err := c.VerifyAndUnlock()
	if err != nil {
		c.failures++
		return c.lock(err)
	}
	c.timeout = timeout
	c.timerArmed = timeout != 0
	return nil
}

func (c *Controller) lock(err error) error {
	logger.Noticef("locking debug port: %v", err)
	c.timeout = 0
	c.timerArmed = false
	c.state = Locked
	if derr := c.port.Disable(); derr != nil {
		logger.Noticef("cannot disable debug port: %v", derr)
	}
	return err
}

// VerifyAndUnlock reads the posted unlock message, verifies it and opens
// the debug port. It returns the timeout requested by the message. The
// debug port is not opened on failure.
func (c *Controller) VerifyAndUnlock() (timeout uint32, err error) {
	const op = "verify unlock request"

	data := make([]byte, MessageLen)
	if err := c.port.ReadMessage(data); err != nil {
		return 0, secloader.IOError("read unlock message", secloader.ErrCopyFailed, err)
	}

	disabled, err := c.disabledByFuse()
	if err != nil {
		return 0, err
	}
	if disabled {
		return 0, secloader.PolicyError(op, secloader.ErrAuthJtagDisabled)
	}

	level, err := c.gate.AHWRoT()
	if err != nil {
		return 0, err
	}
	if level != policy.Enabled {
		return 0, secloader.PolicyError(op, secloader.ErrAuthCompulsory)
	}

	m, err := ParseMessage(data)
	if err != nil {
		return 0, err
	}

	if _, err := c.auth.VerifyPpk(m.PPK); err != nil {
		return 0, err
	}
	if err := c.auth.VerifyRevocation(m.RevocationID()); err != nil {
		return 0, err
	}
	hash, err := c.auth.Digest(m.SignedData())
	if err != nil {
		return 0, err
	}
	if err := c.auth.VerifyContentSignature(m.Algorithm(), hash, m.PPK, m.Signature); err != nil {
		return 0, err
	}

	useDna, err := redundant.FromBools(messageUseDna(m), messageUseDna(m)).Result(op)
	if err != nil {
		return 0, err
	}
	if useDna {
		dna, err := redundant.ReadBytes("read DNA", c.fuses.Dna)
		if err != nil {
			return 0, err
		}
		match, err := redundant.Equal(dna, m.Dna[:]).Result(op)
		if err != nil {
			return 0, err
		}
		if !match {
			return 0, secloader.CryptoError(op, secloader.ErrInvalidDna)
		}
	}

	if err := c.port.Enable(); err != nil {
		return 0, secloader.IOError("enable debug port", secloader.ErrDebugPortAccess, err)
	}
	c.state = Unlocked
	logger.Noticef("debug port unlocked with timeout %d", m.Timeout)
	return m.Timeout, nil
}
