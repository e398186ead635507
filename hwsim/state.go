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

package hwsim

import (
	"github.com/canonical/secloader"
)

// SecureStateRegisters is a model of the secure state registers.
type SecureStateRegisters struct {
	A secloader.SecureState
	S secloader.SecureState

	// Err is returned from every read if set.
	Err error
}

func (r *SecureStateRegisters) AHWRoT() (secloader.SecureState, error) {
	return r.A, r.Err
}

func (r *SecureStateRegisters) SHWRoT() (secloader.SecureState, error) {
	return r.S, r.Err
}
