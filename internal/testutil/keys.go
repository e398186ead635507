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
	"fmt"
	"sync"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/internal/pdigen"
)

var (
	keysMu sync.Mutex
	keys   = make(map[string]*pdigen.Key)
)

// Key returns a signing key for alg. Keys are generated on first use and
// cached for the lifetime of the test binary, as RSA-4096 key generation
// is slow. Distinct names return distinct keys.
func Key(alg secloader.AuthAlgorithm, name string) *pdigen.Key {
	keysMu.Lock()
	defer keysMu.Unlock()

	id := fmt.Sprintf("%v/%s", alg, name)
	if k, ok := keys[id]; ok {
		return k
	}
	k, err := pdigen.GenerateKey(alg, NewSeededRand(id))
	if err != nil {
		panic(err)
	}
	keys[id] = k
	return k
}
