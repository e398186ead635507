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

// Package kat runs the known answer tests that gate the use of each crypto
// primitive.
package kat

import (
	"fmt"
	"strings"

	"github.com/snapcore/snapd/logger"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/engine"
	"github.com/canonical/secloader/internal/redundant"
)

// Primitive identifies a crypto primitive that must pass a known answer
// test before use.
type Primitive uint32

const (
	Hash Primitive = 1 << iota
	RSA
	ECCP384
	ECCP521
	AES
	AESDPA

	all = Hash | RSA | ECCP384 | ECCP521 | AES | AESDPA
)

var primitiveNames = []struct {
	p    Primitive
	name string
}{
	{Hash, "SHA3-384"},
	{RSA, "RSA"},
	{ECCP384, "ECC-P384"},
	{ECCP521, "ECC-P521"},
	{AES, "AES"},
	{AESDPA, "AES-DPA"},
}

func (p Primitive) String() string {
	var names []string
	for _, n := range primitiveNames {
		if p&n.p != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Primitive(%#x)", uint32(p))
	}
	return strings.Join(names, "|")
}

// Mask records the primitives that have passed their known answer test.
type Mask uint32

// Has indicates whether p is set in the mask.
func (m Mask) Has(p Primitive) bool {
	return uint32(m)&uint32(p) == uint32(p)
}

// Store persists the KAT mask across the components of a boot session.
type Store interface {
	Load() (Mask, error)
	Save(mask Mask) error
}

// MemoryStore is a Store that keeps the mask in memory.
type MemoryStore struct {
	mask Mask
}

func (s *MemoryStore) Load() (Mask, error) {
	return s.mask, nil
}

func (s *MemoryStore) Save(mask Mask) error {
	s.mask = mask
	return nil
}

// Vector runs the known answer test for a primitive.
type Vector func(e *engine.Engines) error

// Gatekeeper runs each known answer test at most once per boot session.
type Gatekeeper struct {
	engines *engine.Engines
	store   Store
	vectors map[Primitive]Vector

	mask   Mask
	failed Mask
}

// NewGatekeeper returns a new gatekeeper. If the crypto KAT fuse is not
// programmed, every primitive is treated as already tested.
func NewGatekeeper(engines *engine.Engines, store Store, fuses secloader.FuseStore) (*Gatekeeper, error) {
	enabled, err := redundant.ReadBool("read crypto KAT enable", fuses.CryptoKatEnabled)
	if err != nil {
		return nil, err
	}

	g := &Gatekeeper{
		engines: engines,
		store:   store,
		vectors: DefaultVectors()}

	if !enabled {
		g.mask = Mask(all)
		return g, nil
	}

	mask, err := store.Load()
	if err != nil {
		return nil, secloader.IOError("load KAT mask", secloader.ErrKatFailed, err)
	}
	g.mask = mask
	return g, nil
}

// SetVector overrides the known answer test for p.
func (g *Gatekeeper) SetVector(p Primitive, v Vector) {
	g.vectors[p] = v
}

// Mask returns the primitives that have passed their known answer tests.
func (g *Gatekeeper) Mask() Mask {
	return g.mask
}

// EnsureTested runs the known answer test for p if it hasn't already
// passed in this boot session. A primitive that fails its test is latched
// and every subsequent call returns an error without running it again.
func (g *Gatekeeper) EnsureTested(p Primitive) error {
	op := p.String() + " known answer test"

	if g.failed.Has(p) {
		return secloader.NewError(secloader.ErrorKindKAT, op, secloader.ErrKatFailed)
	}
	if g.mask.Has(p) {
		return nil
	}

	v, ok := g.vectors[p]
	if !ok {
		return secloader.NewInvalidParameterError("primitive", "%v has no known answer test", p)
	}
	if err := v(g.engines); err != nil {
		g.failed |= Mask(p)
		logger.Noticef("%s failed: %v", op, err)
		return &secloader.Error{Kind: secloader.ErrorKindKAT, Op: op, Err: secloader.ErrKatFailed, Cause: err}
	}

	g.mask |= Mask(p)
	if err := g.store.Save(g.mask); err != nil {
		return secloader.IOError("save KAT mask", secloader.ErrKatFailed, err)
	}
	logger.Debugf("%s passed", op)
	return nil
}
