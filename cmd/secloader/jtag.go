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

package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/snapcore/snapd/osutil"
	"golang.org/x/xerrors"

	"github.com/canonical/secloader/authjtag"
	"github.com/canonical/secloader/boot"
	"github.com/canonical/secloader/hwsim"
	"github.com/canonical/secloader/internal/pdigen"
	"github.com/canonical/secloader/scheduler"
)

type unlockMessageCommand struct {
	PPK          string `long:"ppk" required:"true" description:"The PPK in PEM format"`
	RevocationID uint32 `long:"revocation-id" description:"The revocation ID of the message"`
	Dna          string `long:"dna" description:"Bind the message to the device with the specified hex encoded DNA"`
	Timeout      uint32 `long:"timeout" description:"The number of ticks before the debug port is relocked, or 0 for no timeout"`

	Output string `short:"o" long:"output" required:"true" description:"File to write the message to"`
}

func (c *unlockMessageCommand) Execute(args []string) error {
	data, err := ioutil.ReadFile(c.PPK)
	if err != nil {
		return err
	}
	ppk, err := pdigen.ParseKeyPEM(data)
	if err != nil {
		return xerrors.Errorf("cannot load PPK: %w", err)
	}

	params := &pdigen.UnlockParams{
		PPK:          ppk,
		RevocationID: c.RevocationID,
		Timeout:      c.Timeout}
	if c.Dna != "" {
		if params.Dna, err = hex.DecodeString(c.Dna); err != nil {
			return xerrors.Errorf("invalid DNA: %w", err)
		}
	}

	msg, err := pdigen.NewUnlockMessage(rand.Reader, params)
	if err != nil {
		return err
	}
	return osutil.AtomicWriteFile(c.Output, msg.Marshal(), 0644, 0)
}

type jtagCommand struct {
	Device      string        `long:"device" required:"true" description:"The device description"`
	Message     string        `long:"message" description:"The unlock message to post to the debug port"`
	Ticks       uint64        `long:"ticks" default:"10" description:"The number of scheduler ticks to run for"`
	Interval    time.Duration `long:"interval" default:"10ms" description:"The scheduler tick interval"`
	MaxAttempts int           `long:"max-attempts" default:"1" description:"The number of failed unlock attempts permitted"`
	PollPeriod  uint32        `long:"poll-period" default:"1" description:"The number of ticks between polls of the debug port"`
}

func (c *jtagCommand) Execute(args []string) error {
	if c.Ticks == 0 {
		return errors.New("invalid number of ticks")
	}

	cfg, err := hwsim.LoadDeviceConfig(c.Device)
	if err != nil {
		return xerrors.Errorf("cannot load device description: %w", err)
	}
	dev, err := hwsim.NewDevice(cfg)
	if err != nil {
		return xerrors.Errorf("cannot create device: %w", err)
	}

	session, err := boot.NewSession(&boot.Config{
		Fuses:   dev.Fuses,
		Regs:    dev.Regs,
		Device:  dev.Boot,
		Memory:  dev.Memory,
		PUF:     dev.PUF,
		Debug:   dev.Debug,
		Engines: dev.Engines,
		AuthJtag: authjtag.Config{
			MaxAttempts: c.MaxAttempts,
			PollPeriod:  c.PollPeriod}})
	if err != nil {
		return err
	}
	defer session.Clear()

	sched := scheduler.New()
	if err := session.RegisterTasks(sched); err != nil {
		return err
	}
	if len(sched.Tasks()) == 0 {
		return errors.New("authenticated JTAG is not available on this device")
	}

	if c.Message != "" {
		msg, err := ioutil.ReadFile(c.Message)
		if err != nil {
			return xerrors.Errorf("cannot read unlock message: %w", err)
		}
		dev.Debug.Post(msg)
	}

	jtag := session.AuthJtag()
	state := jtag.State()
	done := make(chan struct{})
	monitor := func() error {
		if s := jtag.State(); s != state {
			fmt.Fprintf(Stdout, "tick %d: debug port %v\n", sched.Ticks(), s)
			state = s
		}
		if sched.Ticks() == c.Ticks {
			close(done)
		}
		return nil
	}
	if err := sched.AddPeriodicTask("monitor", monitor, 1, ^uint32(0)); err != nil {
		return err
	}

	runner := scheduler.NewRunner(sched, c.Interval, func(err error) error {
		fmt.Fprintln(Stderr, describeError(err))
		return nil
	})
	runner.Start()
	<-done
	if err := runner.Stop(); err != nil {
		return err
	}

	fmt.Fprintf(Stdout, "debug port %v after %d ticks (%d failed attempts)\n", jtag.State(), sched.Ticks(), jtag.Failures())
	return nil
}
