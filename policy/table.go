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

package policy

import (
	"github.com/canonical/secloader"
)

// Level is the classification of a secure state register.
type Level int

const (
	NonSecure Level = iota
	Emulated
	Enabled
)

func (l Level) String() string {
	switch l {
	case NonSecure:
		return "non-secure"
	case Emulated:
		return "emulated"
	case Enabled:
		return "enabled"
	default:
		return "invalid"
	}
}

// Inputs are the values that the boot security decision depends on.
type Inputs struct {
	AHWRoT Level
	SHWRoT Level

	// Auth and Enc indicate whether the image header table is
	// authenticated and encrypted.
	Auth bool
	Enc  bool

	// BootHeaderAuth indicates whether the boot header requests boot
	// header authentication.
	BootHeaderAuth bool
}

// Decision is the outcome of the boot security decision.
type Decision struct {
	// Err is the policy violation, or nil if the image is permitted.
	Err error

	// EncOnlyChecks indicates that the header table must satisfy the
	// encrypt-only constraints on its key source, PUF helper data and
	// IV.
	EncOnlyChecks bool

	// KeySourceCheck indicates that the header table key source must
	// match the boot header key source.
	KeySourceCheck bool
}

type match int

const (
	either match = iota
	yes
	no
)

func (m match) matches(v bool) bool {
	return m == either || (m == yes) == v
}

type level struct {
	set bool
	l   Level
}

func is(l Level) level {
	return level{set: true, l: l}
}

func (l level) matches(v Level) bool {
	return !l.set || l.l == v
}

type row struct {
	a, s           level
	auth, enc, bha match
	decision       Decision
}

// decisionTable is evaluated in order and the first matching row wins.
var decisionTable = []row{
	{a: is(Enabled), auth: no, decision: Decision{Err: secloader.ErrAuthCompulsory}},
	{a: is(Enabled), bha: yes, decision: Decision{Err: secloader.ErrBootHeaderAuthOnly}},
	{a: is(NonSecure), auth: yes, decision: Decision{Err: secloader.ErrBootHeaderAuthRequired}},
	{s: is(Enabled), enc: no, decision: Decision{Err: secloader.ErrEncCompulsory}},
	{s: is(Enabled), enc: yes, decision: Decision{EncOnlyChecks: true, KeySourceCheck: true}},
	{enc: yes, decision: Decision{KeySourceCheck: true}},
	{decision: Decision{}},
}

// Decide evaluates the boot security decision table.
func Decide(in Inputs) Decision {
	for _, r := range decisionTable {
		if r.a.matches(in.AHWRoT) && r.s.matches(in.SHWRoT) &&
			r.auth.matches(in.Auth) && r.enc.matches(in.Enc) && r.bha.matches(in.BootHeaderAuth) {
			return r.decision
		}
	}
	panic("not reached")
}

// encryptionPermitted indicates whether partitions may be encrypted in the
// supplied secure state.
func encryptionPermitted(a, s Level) bool {
	return a != NonSecure || s != NonSecure
}
