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


package testutil_test

import (
	"io"

	. "gopkg.in/check.v1"

	. "github.com/canonical/secloader/internal/testutil"
)

type drbgSuite struct{}

var _ = Suite(&drbgSuite{})

func (s *drbgSuite) read(c *C, r io.Reader, n int) []byte {
	b := make([]byte, n)
	_, err := io.ReadFull(r, b)
	c.Assert(err, IsNil)
	return b
}

func (s *drbgSuite) TestSeededRandIsDeterministic(c *C) {
	c.Check(s.read(c, NewSeededRand("foo"), 64), DeepEquals, s.read(c, NewSeededRand("foo"), 64))
}

func (s *drbgSuite) TestSeededRandPersonalization(c *C) {
	c.Check(s.read(c, NewSeededRand("foo"), 64), Not(DeepEquals), s.read(c, NewSeededRand("bar"), 64))
}

func (s *drbgSuite) TestSeededRandSkipsSingleByteReads(c *C) {
	r1 := NewSeededRand("foo")
	r2 := NewSeededRand("foo")

	var b [1]byte
	n, err := r1.Read(b[:])
	c.Check(err, IsNil)
	c.Check(n, Equals, 1)

	c.Check(s.read(c, r1, 32), DeepEquals, s.read(c, r2, 32))
}
