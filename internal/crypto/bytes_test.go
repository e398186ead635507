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

package crypto_test

import (
	. "gopkg.in/check.v1"

	. "github.com/canonical/secloader/internal/crypto"
)

type bytesSuite struct{}

var _ = Suite(&bytesSuite{})

func (s *bytesSuite) TestReverseBytes(c *C) {
	in := []byte{1, 2, 3, 4}
	c.Check(ReverseBytes(in), DeepEquals, []byte{4, 3, 2, 1})
	c.Check(in, DeepEquals, []byte{1, 2, 3, 4})
	c.Check(ReverseBytes(nil), DeepEquals, []byte{})
}
