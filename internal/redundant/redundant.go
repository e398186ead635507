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

// Package redundant provides primitives for evaluating security decisions
// more than once so that a single injected fault cannot flip the result.
package redundant

import (
	"crypto/subtle"

	"github.com/canonical/secloader"
)

// Outcome is the result of a doubled evaluation.
type Outcome int

const (
	// Disagree indicates that the two evaluations produced different
	// results. It is the zero value.
	Disagree Outcome = iota
	AgreeFalse
	AgreeTrue
)

func (o Outcome) String() string {
	switch o {
	case AgreeFalse:
		return "agree-false"
	case AgreeTrue:
		return "agree-true"
	default:
		return "disagree"
	}
}

// FromBools combines two independently computed results.
func FromBools(first, second bool) Outcome {
	switch {
	case first && second:
		return AgreeTrue
	case !first && !second:
		return AgreeFalse
	default:
		return Disagree
	}
}

// Result converts o into a boolean, returning an error with the
// ErrGlitchDetected sentinel on behalf of op if the evaluations disagreed.
func (o Outcome) Result(op string) (bool, error) {
	switch o {
	case AgreeTrue:
		return true, nil
	case AgreeFalse:
		return false, nil
	default:
		return false, secloader.GlitchError(op)
	}
}

// Equal compares a and b in constant time, twice.
func Equal(a, b []byte) Outcome {
	return EqualPair(a, b, a, b)
}

// EqualPair compares a1 with b1 and a2 with b2 in constant time, where
// each pair is an independent read of the same operands.
func EqualPair(a1, b1, a2, b2 []byte) Outcome {
	first := subtle.ConstantTimeCompare(a1, b1) == 1
	second := subtle.ConstantTimeCompare(b2, a2) == 1
	return FromBools(first, second)
}

// IsZero checks whether b is all zeroes in constant time, twice.
func IsZero(b []byte) Outcome {
	var first, second byte
	for _, v := range b {
		first |= v
	}
	for i := len(b) - 1; i >= 0; i-- {
		second |= b[i]
	}
	return FromBools(subtle.ConstantTimeByteEq(first, 0) == 1, subtle.ConstantTimeByteEq(second, 0) == 1)
}

// ReadBool calls read twice and returns the result if both reads agree.
func ReadBool(op string, read func() (bool, error)) (bool, error) {
	first, err := read()
	if err != nil {
		return false, err
	}
	second, err := read()
	if err != nil {
		return false, err
	}
	return FromBools(first, second).Result(op)
}

// ReadUint32 calls read twice and returns the result if both reads agree.
func ReadUint32(op string, read func() (uint32, error)) (uint32, error) {
	first, err := read()
	if err != nil {
		return 0, err
	}
	second, err := read()
	if err != nil {
		return 0, err
	}
	if first != second {
		return 0, secloader.GlitchError(op)
	}
	return first, nil
}

// ReadBytes calls read twice and returns the first result if both reads
// agree.
func ReadBytes(op string, read func() ([]byte, error)) ([]byte, error) {
	first, err := read()
	if err != nil {
		return nil, err
	}
	second, err := read()
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(first, second) != 1 {
		return nil, secloader.GlitchError(op)
	}
	return first, nil
}
