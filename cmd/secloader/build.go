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
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/snapcore/snapd/osutil"
	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/hwsim"
	"github.com/canonical/secloader/internal/pdigen"
)

const (
	imageName     = "image.bin"
	partitionName = "partition.yaml"
	deviceName    = "device.yaml"
	ppkName       = "ppk.pem"
)

var algorithms = map[string]secloader.AuthAlgorithm{
	"p384":    secloader.AuthAlgorithmECDSAP384,
	"p521":    secloader.AuthAlgorithmECDSAP521,
	"rsa4096": secloader.AuthAlgorithmRSA4096,
}

type buildCommand struct {
	Algorithm string `long:"algorithm" default:"p384" choice:"p384" choice:"p521" choice:"rsa4096" description:"Signature algorithm for a generated PPK and SPK"`
	PPK       string `long:"ppk" description:"Sign with the PPK in the specified PEM file rather than generating one"`
	PpkSlot   int    `long:"ppk-slot" default:"0" description:"The PPK hash fuse slot to provision"`
	NoAuth    bool   `long:"no-auth" description:"Don't sign the partition"`

	BootHeaderAuth bool `long:"boot-header-auth" description:"Request boot header authentication, which skips verification of the PPK against the fuses"`

	Encrypt           bool   `long:"encrypt" description:"Encrypt the partition"`
	KeySource         string `long:"key-source" default:"user0" description:"The key source for an encrypted partition"`
	PufHelper         string `long:"puf-helper" default:"fuse" choice:"fuse" choice:"boot-header" description:"The location of the PUF helper data for black keys"`
	DpaCountermeasure bool   `long:"dpa-countermeasure" description:"Request DPA countermeasures"`
	UnitsPerChunk     int    `long:"units-per-chunk" default:"1" description:"The number of encrypted units in each chunk"`

	ChunkSize       int    `long:"chunk-size" default:"32768" description:"The number of payload bytes in each chunk"`
	RevocationID    uint32 `long:"revocation-id" description:"The revocation ID of the content or encryption key"`
	SPKRevocationID uint32 `long:"spk-revocation-id" description:"The revocation ID of the SPK"`
	LoadAddress     uint64 `long:"load-address" default:"4096" description:"The execution memory address to load the payload to"`

	CryptoKat bool `long:"crypto-kat" description:"Program the fuse that enables the known answer tests on the simulated device"`

	AHWRoT string `long:"a-hwrot" default:"enabled" choice:"enabled" choice:"emulated" choice:"non-secure" description:"The A-HWRoT state of the simulated device"`
	SHWRoT string `long:"s-hwrot" default:"non-secure" choice:"enabled" choice:"emulated" choice:"non-secure" description:"The S-HWRoT state of the simulated device"`

	Output string `short:"o" long:"output-dir" required:"true" description:"The directory to write the image and descriptions to"`

	Positional struct {
		Payload string `positional-arg-name:"payload" description:"The file containing the partition payload"`
	} `positional-args:"true" required:"true"`
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *buildCommand) authParams() (params *pdigen.AuthParams, generated bool, err error) {
	var ppk *pdigen.Key
	if c.PPK != "" {
		data, err := ioutil.ReadFile(c.PPK)
		if err != nil {
			return nil, false, err
		}
		if ppk, err = pdigen.ParseKeyPEM(data); err != nil {
			return nil, false, xerrors.Errorf("cannot load PPK: %w", err)
		}
	} else {
		if ppk, err = pdigen.GenerateKey(algorithms[c.Algorithm], rand.Reader); err != nil {
			return nil, false, xerrors.Errorf("cannot generate PPK: %w", err)
		}
		generated = true
	}

	spk, err := pdigen.GenerateKey(ppk.Algorithm, rand.Reader)
	if err != nil {
		return nil, false, xerrors.Errorf("cannot generate SPK: %w", err)
	}

	return &pdigen.AuthParams{
		PPK:                 ppk,
		SPK:                 spk,
		SPKRevocationID:     c.SPKRevocationID,
		ContentRevocationID: c.RevocationID,
		BootHeaderAuth:      c.BootHeaderAuth}, generated, nil
}

// provisionKey generates a partition key for src and provisions it in
// either the device or the boot header.
func (c *buildCommand) provisionKey(src secloader.KeySource, loc secloader.PufHelperLocation, dev *hwsim.DeviceConfig, bh *bootHeaderFile) (*pdigen.EncParams, error) {
	if !src.IsValid() {
		return nil, fmt.Errorf("cannot encrypt with key source %v", src)
	}

	key, err := randomBytes(secloader.AesKeyLen)
	if err != nil {
		return nil, err
	}
	iv, err := randomBytes(secloader.IvLen)
	if err != nil {
		return nil, err
	}
	params := &pdigen.EncParams{
		Key:           key,
		KeySource:     src,
		RevocationID:  c.RevocationID,
		PufHelper:     loc,
		UnitsPerChunk: c.UnitsPerChunk}
	copy(params.IV[:], iv)
	bh.KeySource = src.String()

	// The header table shares the partition IV, which must match the
	// fuses for encrypt-only boot.
	dev.Fuses.HeaderIV = iv

	if !src.IsBlack() {
		if src == secloader.KeySourceBootHeader {
			bh.RedKey = key
		} else {
			dev.Keys[src.String()] = key
		}
		return params, nil
	}

	secret, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	helper, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	dev.PufSecret = secret
	dev.PufHelper[pufHelperName(loc)] = helper

	wrapIV, err := randomBytes(secloader.IvLen)
	if err != nil {
		return nil, err
	}
	switch src {
	case secloader.KeySourceEfuseBlack, secloader.KeySourceEfuseUser0Black, secloader.KeySourceEfuseUser1Black:
		dev.Fuses.BlackKeyIV = wrapIV
	default:
		copy(params.KekIV[:], wrapIV)
	}

	black, err := pdigen.WrapKey(hwsim.DeriveKEK(secret, helper), wrapIV, key)
	if err != nil {
		return nil, err
	}
	if src == secloader.KeySourceBootHeaderBlack {
		bh.BlackKey = black
		bh.PufHelper = pufHelperName(loc)
	} else {
		dev.Keys[src.String()] = black
	}
	return params, nil
}

func (c *buildCommand) Execute(args []string) error {
	if c.NoAuth && !c.Encrypt {
		return errors.New("partition must be authenticated or encrypted")
	}

	payload, err := ioutil.ReadFile(c.Positional.Payload)
	if err != nil {
		return xerrors.Errorf("cannot read payload: %w", err)
	}

	dev := &hwsim.DeviceConfig{
		SecureState: hwsim.SecureStateConfig{AHWRoT: c.AHWRoT, SHWRoT: c.SHWRoT},
		PufHelper:   make(map[string]hwsim.HexBytes),
		Keys:        make(map[string]hwsim.HexBytes)}
	dev.Fuses.CryptoKatEnable = c.CryptoKat
	bh := bootHeaderFile{BootHeaderAuth: c.BootHeaderAuth}

	params := &pdigen.PartitionParams{Payload: payload, ChunkSize: c.ChunkSize}

	var ppkPEM []byte
	if !c.NoAuth {
		auth, generated, err := c.authParams()
		if err != nil {
			return err
		}
		dev.Fuses.SetPpkHash(c.PpkSlot, pdigen.PpkHash(auth.PPK))
		if generated {
			if ppkPEM, err = auth.PPK.MarshalPEM(); err != nil {
				return err
			}
		}
		params.Auth = auth
	}

	if c.Encrypt {
		src, err := secloader.ParseKeySource(c.KeySource)
		if err != nil {
			return err
		}
		loc, err := hwsim.ParsePufHelperLocation(c.PufHelper)
		if err != nil {
			return err
		}
		if params.Enc, err = c.provisionKey(src, loc, dev, &bh); err != nil {
			return xerrors.Errorf("cannot provision partition key: %w", err)
		}
	}

	p, err := pdigen.BuildPartition(rand.Reader, params)
	if err != nil {
		return err
	}
	p.Header.DpaCountermeasure = c.DpaCountermeasure && c.Encrypt

	pf := newPartitionFile(&p.Header)
	pf.BlockSizes = p.BlockSizes
	pf.LoadAddress = c.LoadAddress
	pf.PayloadLength = len(payload)
	pf.BootHeader = bh

	devData, err := dev.Marshal()
	if err != nil {
		return xerrors.Errorf("cannot encode device description: %w", err)
	}

	if err := os.MkdirAll(c.Output, 0755); err != nil {
		return err
	}
	if err := osutil.AtomicWriteFile(filepath.Join(c.Output, imageName), p.Image, 0644, 0); err != nil {
		return xerrors.Errorf("cannot write image: %w", err)
	}
	if err := pf.write(filepath.Join(c.Output, partitionName)); err != nil {
		return xerrors.Errorf("cannot write partition description: %w", err)
	}
	if err := osutil.AtomicWriteFile(filepath.Join(c.Output, deviceName), devData, 0600, 0); err != nil {
		return xerrors.Errorf("cannot write device description: %w", err)
	}
	if ppkPEM != nil {
		if err := osutil.AtomicWriteFile(filepath.Join(c.Output, ppkName), ppkPEM, 0600, 0); err != nil {
			return xerrors.Errorf("cannot write PPK: %w", err)
		}
	}

	fmt.Fprintf(Stdout, "built %d byte partition with %d blocks in %s\n", len(p.Image), len(p.BlockSizes), c.Output)
	return nil
}
