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

package engine

import (
	"golang.org/x/crypto/sha3"
)

// SoftSHA3 is a software SHA3-384 engine.
type SoftSHA3 struct{}

func (SoftSHA3) Digest(parts ...[]byte) ([]byte, error) {
	h := sha3.New384()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil), nil
}
