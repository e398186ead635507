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
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bsiegert/ranges"
	"github.com/snapcore/snapd/osutil"
	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/boot"
	"github.com/canonical/secloader/hwsim"
	"github.com/canonical/secloader/kat"
	"github.com/canonical/secloader/loader"
)

type revocationRange []uint32

func (r revocationRange) MarshalFlag() (string, error) {
	var s []string
	for _, id := range r {
		s = append(s, strconv.FormatUint(uint64(id), 10))
	}
	return strings.Join(s, ","), nil
}

func (r *revocationRange) UnmarshalFlag(value string) error {
	i, err := ranges.Parse(value)
	if err != nil {
		return err
	}
	for _, id := range i {
		*r = append(*r, uint32(id))
	}
	return nil
}

type loadCommand struct {
	Dir       string          `short:"d" long:"dir" description:"Directory containing the output of the build command"`
	Device    string          `long:"device" description:"The device description (default: <dir>/device.yaml)"`
	Partition string          `long:"partition" description:"The partition description (default: <dir>/partition.yaml)"`
	Image     string          `long:"image" description:"The boot device image (default: <dir>/image.bin)"`
	Revoke    revocationRange `long:"revoke" description:"Revoke the specified IDs before loading, eg, 0-3,7"`
	KatStore  string          `long:"kat-store" description:"File in which to persist the known answer test results"`
	ChunkSize int             `long:"chunk-size" description:"The size of the chunk buffer"`

	Output string `short:"o" long:"output" description:"File to write the loaded payload to"`
}

func (c *loadCommand) path(explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	if c.Dir == "" {
		return name
	}
	return filepath.Join(c.Dir, name)
}

func describeError(err error) string {
	s := err.Error()
	if kind := secloader.KindOf(err); kind != secloader.ErrorKindUnknown {
		s = fmt.Sprintf("%s (%v error)", s, kind)
	}
	return s
}

func (c *loadCommand) Execute(args []string) error {
	cfg, err := hwsim.LoadDeviceConfig(c.path(c.Device, deviceName))
	if err != nil {
		return xerrors.Errorf("cannot load device description: %w", err)
	}
	for _, id := range c.Revoke {
		cfg.Fuses.Revoke(id)
	}
	dev, err := hwsim.NewDevice(cfg)
	if err != nil {
		return xerrors.Errorf("cannot create device: %w", err)
	}

	pf, err := readPartitionFile(c.path(c.Partition, partitionName))
	if err != nil {
		return err
	}
	hdr, err := pf.header()
	if err != nil {
		return xerrors.Errorf("invalid partition description: %w", err)
	}
	bh, err := pf.bootHeader()
	if err != nil {
		return err
	}

	if dev.Boot.Data, err = ioutil.ReadFile(c.path(c.Image, imageName)); err != nil {
		return xerrors.Errorf("cannot read image: %w", err)
	}

	config := &boot.Config{
		Fuses:      dev.Fuses,
		Regs:       dev.Regs,
		Device:     dev.Boot,
		Memory:     dev.Memory,
		PUF:        dev.PUF,
		Engines:    dev.Engines,
		BootHeader: bh,
		Loader:     loader.Options{ChunkSize: c.ChunkSize}}
	if c.KatStore != "" {
		config.KatStore = &kat.FileStore{Path: c.KatStore}
	}

	session, err := boot.NewSession(config)
	if err != nil {
		return err
	}
	defer session.Clear()

	table := &secloader.HeaderTable{
		CertificateOffset: hdr.CertificateOffset,
		Encrypted:         hdr.Encrypted,
		KeySource:         hdr.KeySource,
		IV:                hdr.IV,
		PufHelper:         hdr.PufHelper}
	if err := session.Gate().ValidateBootSecurity(bh, table); err != nil {
		return fmt.Errorf("cannot load partition: %s", describeError(err))
	}

	n, err := session.LoadPartition(hdr, pf.LoadAddress, pf.BlockSizes)
	if err != nil {
		return fmt.Errorf("cannot load partition: %s", describeError(err))
	}
	fmt.Fprintf(Stdout, "loaded %d bytes to %#x\n", n, pf.LoadAddress)

	if c.Output != "" {
		payload := dev.Memory.Read(pf.LoadAddress, pf.PayloadLength)
		if err := osutil.AtomicWriteFile(c.Output, payload, 0644, 0); err != nil {
			return xerrors.Errorf("cannot write payload: %w", err)
		}
	}
	return nil
}
