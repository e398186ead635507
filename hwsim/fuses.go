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

// Package hwsim provides software models of the platform collaborators
// used during secure boot, for testing and for running the loader off
// device.
package hwsim

import (
	"encoding/hex"
	"errors"

	"github.com/canonical/secloader"
)

// HexBytes is a byte slice that is serialized as a hex string.
type HexBytes []byte

func (b HexBytes) MarshalYAML() (interface{}, error) {
	return hex.EncodeToString(b), nil
}

func (b *HexBytes) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// Fuse query names, used to inject faults and to count reads.
const (
	QueryPpkHash         = "ppk-hash"
	QueryPpkInvalid      = "ppk-invalid"
	QueryRevocation      = "revocation"
	QueryDpaDisable      = "dpa-disable"
	QueryAuthJtagDisable = "auth-jtag-disable"
	QueryCryptoKatEnable = "crypto-kat-enable"
	QueryMetaHeaderIV    = "meta-header-iv"
	QueryDna             = "dna"
	QueryBlackIV         = "black-iv"
)

var ErrInvalidFuseIndex = errors.New("invalid fuse index")

// Fuses is a model of the fuse store.
type Fuses struct {
	// PpkHashes and InvalidPpks are indexed by slot. Missing entries
	// read as zero.
	PpkHashes   []HexBytes `yaml:"ppk-hashes"`
	InvalidPpks []bool     `yaml:"ppk-invalid"`

	Revoked         []uint32 `yaml:"revoked"`
	DpaDisable      bool     `yaml:"dpa-disable"`
	AuthJtagDisable bool     `yaml:"auth-jtag-disable"`
	CryptoKatEnable bool     `yaml:"crypto-kat-enable"`
	DeviceDna       HexBytes `yaml:"dna"`
	BlackKeyIV      HexBytes `yaml:"black-iv"`
	HeaderIV        HexBytes `yaml:"meta-header-iv"`

	glitches map[string]int
	reads    map[string]int
}

// SetPpkHash programs the specified slot.
func (f *Fuses) SetPpkHash(slot int, hash []byte) {
	for len(f.PpkHashes) <= slot {
		f.PpkHashes = append(f.PpkHashes, nil)
	}
	f.PpkHashes[slot] = append(HexBytes(nil), hash[:secloader.PpkHashLen]...)
}

// InvalidatePpk sets the invalid bit of the specified slot.
func (f *Fuses) InvalidatePpk(slot int) {
	for len(f.InvalidPpks) <= slot {
		f.InvalidPpks = append(f.InvalidPpks, false)
	}
	f.InvalidPpks[slot] = true
}

// Revoke sets the revocation bit for id.
func (f *Fuses) Revoke(id uint32) {
	f.Revoked = append(f.Revoked, id)
}

// InjectGlitch arranges for the next n reads of query to return a
// corrupted value.
func (f *Fuses) InjectGlitch(query string, n int) {
	if f.glitches == nil {
		f.glitches = make(map[string]int)
	}
	f.glitches[query] += n
}

// Reads returns the number of times query has been read.
func (f *Fuses) Reads(query string) int {
	return f.reads[query]
}

func (f *Fuses) read(query string) (glitch bool) {
	if f.reads == nil {
		f.reads = make(map[string]int)
	}
	f.reads[query]++
	if f.glitches[query] > 0 {
		f.glitches[query]--
		return true
	}
	return false
}

func (f *Fuses) readBool(query string, v bool) (bool, error) {
	if f.read(query) {
		return !v, nil
	}
	return v, nil
}

func (f *Fuses) readBytes(query string, v []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	copy(out, v)
	if f.read(query) {
		out[0] ^= 0xff
	}
	return out, nil
}

func (f *Fuses) PpkHash(slot int) ([]byte, error) {
	if slot < 0 || slot >= secloader.NumPpkSlots {
		return nil, ErrInvalidFuseIndex
	}
	var h []byte
	if slot < len(f.PpkHashes) {
		h = f.PpkHashes[slot]
	}
	return f.readBytes(QueryPpkHash, h, secloader.PpkHashLen)
}

func (f *Fuses) PpkInvalid(slot int) (bool, error) {
	if slot < 0 || slot >= secloader.NumPpkSlots {
		return false, ErrInvalidFuseIndex
	}
	return f.readBool(QueryPpkInvalid, slot < len(f.InvalidPpks) && f.InvalidPpks[slot])
}

func (f *Fuses) RevocationWord(word int) (uint32, error) {
	if word < 0 || word >= secloader.RevocationWords {
		return 0, ErrInvalidFuseIndex
	}
	var v uint32
	for _, id := range f.Revoked {
		if int(id/32) == word {
			v |= 1 << (id % 32)
		}
	}
	if f.read(QueryRevocation) {
		v = ^v
	}
	return v, nil
}

func (f *Fuses) DpaCountermeasureDisabled() (bool, error) {
	return f.readBool(QueryDpaDisable, f.DpaDisable)
}

func (f *Fuses) AuthJtagDisabled() (bool, error) {
	return f.readBool(QueryAuthJtagDisable, f.AuthJtagDisable)
}

func (f *Fuses) CryptoKatEnabled() (bool, error) {
	return f.readBool(QueryCryptoKatEnable, f.CryptoKatEnable)
}

func (f *Fuses) MetaHeaderIV() ([]byte, error) {
	return f.readBytes(QueryMetaHeaderIV, f.HeaderIV, secloader.IvLen)
}

func (f *Fuses) Dna() ([]byte, error) {
	return f.readBytes(QueryDna, f.DeviceDna, secloader.DnaLen)
}

func (f *Fuses) BlackIV() ([]byte, error) {
	return f.readBytes(QueryBlackIV, f.BlackKeyIV, secloader.IvLen)
}
