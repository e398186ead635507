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

package testutil

import (
	"io"

	drbg "github.com/canonical/go-sp800.90a-drbg"
)

var testRngSeed = []byte{
	0x8b, 0x1e, 0x52, 0x3c, 0x07, 0x9d, 0x4f, 0xe0, 0x6a, 0x31, 0xc8, 0x95, 0xd2, 0x40, 0x7b, 0x1f,
	0xe4, 0x66, 0x2a, 0x9c, 0x53, 0xbd, 0x0e, 0x71, 0xa8, 0x34, 0xf9, 0x12, 0xc6, 0x5e, 0x83, 0x2d}

var testRngNonce = []byte{
	0x3f, 0x90, 0x1d, 0xa6, 0x72, 0xce, 0x05, 0xb8, 0x49, 0xe3, 0x2c, 0x67, 0x9a, 0x14, 0xd5, 0x8e}

// NewSeededRand returns a deterministic source of random bytes, so that
// keys and IVs generated from it are the same on every run. Distinct
// personalization strings produce independent streams.
func NewSeededRand(personalization string) io.Reader {
	rng, err := drbg.NewCTRWithExternalEntropy(32, testRngSeed, testRngNonce, []byte(personalization), nil)
	if err != nil {
		panic(err)
	}
	return &singleByteSkipper{rng}
}

// singleByteSkipper makes the standard library's key generation
// deterministic by discarding the single byte reads that it makes to
// randomize its consumption of the stream. Those reads succeed without
// consuming anything from the underlying reader.
type singleByteSkipper struct {
	r io.Reader
}

func (s *singleByteSkipper) Read(p []byte) (int, error) {
	if len(p) == 1 {
		return 1, nil
	}
	return s.r.Read(p)
}
