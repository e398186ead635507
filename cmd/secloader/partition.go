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

	"github.com/snapcore/snapd/osutil"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/hwsim"
)

// bootHeaderFile describes the boot header fields of an image.
type bootHeaderFile struct {
	KeySource      string         `yaml:"key-source,omitempty"`
	BootHeaderAuth bool           `yaml:"boot-header-auth,omitempty"`
	PufHelper      string         `yaml:"puf-helper,omitempty"`
	BlackKey       hwsim.HexBytes `yaml:"black-key,omitempty"`
	KekIV          hwsim.HexBytes `yaml:"kek-iv,omitempty"`
	RedKey         hwsim.HexBytes `yaml:"red-key,omitempty"`
}

// partitionFile describes a partition image produced by the build
// command.
type partitionFile struct {
	CertificateOffset uint64         `yaml:"certificate-offset"`
	DataOffset        uint64         `yaml:"data-offset"`
	Encrypted         bool           `yaml:"encrypted,omitempty"`
	KeySource         string         `yaml:"key-source,omitempty"`
	IV                hwsim.HexBytes `yaml:"iv,omitempty"`
	EncryptedLength   uint32         `yaml:"encrypted-length,omitempty"`
	RevocationID      uint32         `yaml:"revocation-id,omitempty"`
	PufHelper         string         `yaml:"puf-helper,omitempty"`
	KekIV             hwsim.HexBytes `yaml:"kek-iv,omitempty"`
	DpaCountermeasure bool           `yaml:"dpa-countermeasure,omitempty"`

	BlockSizes    []uint32 `yaml:"block-sizes"`
	LoadAddress   uint64   `yaml:"load-address"`
	PayloadLength int      `yaml:"payload-length"`

	BootHeader bootHeaderFile `yaml:"boot-header,omitempty"`
}

func copyIV(dst *[secloader.IvLen]byte, src []byte, name string) error {
	switch len(src) {
	case 0:
		return nil
	case secloader.IvLen:
		copy(dst[:], src)
		return nil
	default:
		return fmt.Errorf("invalid %s length %d", name, len(src))
	}
}

func parseKeySource(name string) (secloader.KeySource, error) {
	if name == "" {
		return secloader.KeySourceNone, nil
	}
	return secloader.ParseKeySource(name)
}

func parsePufHelper(name string) (secloader.PufHelperLocation, error) {
	if name == "" {
		return secloader.PufHelperInBootHeader, nil
	}
	return hwsim.ParsePufHelperLocation(name)
}

func pufHelperName(loc secloader.PufHelperLocation) string {
	if loc == secloader.PufHelperInFuse {
		return "fuse"
	}
	return "boot-header"
}

func newPartitionFile(hdr *secloader.PartitionHeader) *partitionFile {
	f := &partitionFile{
		CertificateOffset: hdr.CertificateOffset,
		DataOffset:        hdr.DataOffset,
		Encrypted:         hdr.Encrypted,
		RevocationID:      hdr.RevocationID,
		DpaCountermeasure: hdr.DpaCountermeasure}
	if hdr.Encrypted {
		f.KeySource = hdr.KeySource.String()
		f.IV = hdr.IV[:]
		f.EncryptedLength = hdr.EncryptedLength
		f.PufHelper = pufHelperName(hdr.PufHelper)
		f.KekIV = hdr.KekIV[:]
	}
	return f
}

// header returns the partition header described by this file.
func (f *partitionFile) header() (*secloader.PartitionHeader, error) {
	hdr := &secloader.PartitionHeader{
		CertificateOffset: f.CertificateOffset,
		DataOffset:        f.DataOffset,
		Encrypted:         f.Encrypted,
		EncryptedLength:   f.EncryptedLength,
		RevocationID:      f.RevocationID,
		DpaCountermeasure: f.DpaCountermeasure}

	var err error
	if hdr.KeySource, err = parseKeySource(f.KeySource); err != nil {
		return nil, err
	}
	if hdr.PufHelper, err = parsePufHelper(f.PufHelper); err != nil {
		return nil, err
	}
	if err := copyIV(&hdr.IV, f.IV, "IV"); err != nil {
		return nil, err
	}
	if err := copyIV(&hdr.KekIV, f.KekIV, "KEK IV"); err != nil {
		return nil, err
	}
	return hdr, nil
}

// bootHeader returns the boot header described by this file.
func (f *partitionFile) bootHeader() (*secloader.BootHeader, error) {
	bh := &secloader.BootHeader{
		BootHeaderAuth: f.BootHeader.BootHeaderAuth,
		BlackKey:       f.BootHeader.BlackKey,
		RedKey:         f.BootHeader.RedKey}

	var err error
	if bh.KeySource, err = parseKeySource(f.BootHeader.KeySource); err != nil {
		return nil, xerrors.Errorf("invalid boot header: %w", err)
	}
	if bh.PufHelper, err = parsePufHelper(f.BootHeader.PufHelper); err != nil {
		return nil, xerrors.Errorf("invalid boot header: %w", err)
	}
	if err := copyIV(&bh.KekIV, f.BootHeader.KekIV, "boot header KEK IV"); err != nil {
		return nil, err
	}
	return bh, nil
}

func readPartitionFile(path string) (*partitionFile, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f partitionFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, xerrors.Errorf("cannot decode partition description: %w", err)
	}
	if len(f.BlockSizes) == 0 {
		return nil, fmt.Errorf("cannot decode partition description: no block sizes")
	}
	return &f, nil
}

func (f *partitionFile) write(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return osutil.AtomicWriteFile(path, data, 0644, 0)
}
