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

package kat

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/snapcore/snapd/osutil"
	"golang.org/x/xerrors"
)

// FileStore is a Store that persists the mask to a file, so that known
// answer tests which passed in one process are not repeated in the next.
type FileStore struct {
	Path string
}

// Load returns the persisted mask. A missing file is an empty mask.
func (s *FileStore) Load() (Mask, error) {
	data, err := ioutil.ReadFile(s.Path)
	switch {
	case os.IsNotExist(err):
		return 0, nil
	case err != nil:
		return 0, err
	}

	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 0, 32)
	if err != nil {
		return 0, xerrors.Errorf("cannot parse KAT mask: %w", err)
	}
	if Mask(v)&^Mask(all) != 0 {
		return 0, fmt.Errorf("invalid KAT mask %#x", v)
	}
	return Mask(v), nil
}

func (s *FileStore) Save(mask Mask) error {
	return osutil.AtomicWriteFile(s.Path, []byte(fmt.Sprintf("%#x\n", uint32(mask))), 0600, 0)
}
