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

package secloader

import (
	"fmt"
)

// KeySource identifies where the key for an encrypted partition is
// provisioned, as declared in its header.
type KeySource uint32

const (
	KeySourceNone KeySource = iota
	KeySourceEfuse
	KeySourceEfuseBlack
	KeySourceBBRAM
	KeySourceBBRAMBlack
	KeySourceBootHeader
	KeySourceBootHeaderBlack
	KeySourceEfuseUser0
	KeySourceEfuseUser0Black
	KeySourceEfuseUser1
	KeySourceEfuseUser1Black
	KeySourceUser0
	KeySourceUser1
	KeySourceUser2
	KeySourceUser3
	KeySourceUser4
	KeySourceUser5
	KeySourceUser6
	KeySourceUser7
)

var keySourceNames = map[KeySource]string{
	KeySourceNone:            "none",
	KeySourceEfuse:           "efuse",
	KeySourceEfuseBlack:      "efuse-black",
	KeySourceBBRAM:           "bbram",
	KeySourceBBRAMBlack:      "bbram-black",
	KeySourceBootHeader:      "boot-header",
	KeySourceBootHeaderBlack: "boot-header-black",
	KeySourceEfuseUser0:      "efuse-user0",
	KeySourceEfuseUser0Black: "efuse-user0-black",
	KeySourceEfuseUser1:      "efuse-user1",
	KeySourceEfuseUser1Black: "efuse-user1-black",
	KeySourceUser0:           "user0",
	KeySourceUser1:           "user1",
	KeySourceUser2:           "user2",
	KeySourceUser3:           "user3",
	KeySourceUser4:           "user4",
	KeySourceUser5:           "user5",
	KeySourceUser6:           "user6",
	KeySourceUser7:           "user7",
}

func (s KeySource) String() string {
	if n, ok := keySourceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("KeySource(%d)", uint32(s))
}

// ParseKeySource returns the KeySource with the supplied name.
func ParseKeySource(name string) (KeySource, error) {
	for s, n := range keySourceNames {
		if n == name {
			return s, nil
		}
	}
	return KeySourceNone, fmt.Errorf("unrecognized key source %q", name)
}

// KeySlot identifies a key register in the AES engine.
type KeySlot int

const (
	KeySlotEfuse KeySlot = iota
	KeySlotEfuseRed
	KeySlotBBRAM
	KeySlotBBRAMRed
	KeySlotBootHeader
	KeySlotBootHeaderRed
	KeySlotEfuseUser0
	KeySlotEfuseUser0Red
	KeySlotEfuseUser1
	KeySlotEfuseUser1Red
	KeySlotUser0
	KeySlotUser1
	KeySlotUser2
	KeySlotUser3
	KeySlotUser4
	KeySlotUser5
	KeySlotUser6
	KeySlotUser7

	// KeySlotPUF holds the key encryption key regenerated by the PUF.
	KeySlotPUF

	// KeySlotKUP holds the rolling key carried in secure headers.
	KeySlotKUP

	NumKeySlots
)

type keySlotPair struct {
	src, red KeySlot
	black    bool
}

var keySourceSlots = map[KeySource]keySlotPair{
	KeySourceEfuse:           {KeySlotEfuse, KeySlotEfuse, false},
	KeySourceEfuseBlack:      {KeySlotEfuse, KeySlotEfuseRed, true},
	KeySourceBBRAM:           {KeySlotBBRAM, KeySlotBBRAM, false},
	KeySourceBBRAMBlack:      {KeySlotBBRAM, KeySlotBBRAMRed, true},
	KeySourceBootHeader:      {KeySlotBootHeader, KeySlotBootHeader, false},
	KeySourceBootHeaderBlack: {KeySlotBootHeader, KeySlotBootHeaderRed, true},
	KeySourceEfuseUser0:      {KeySlotEfuseUser0, KeySlotEfuseUser0, false},
	KeySourceEfuseUser0Black: {KeySlotEfuseUser0, KeySlotEfuseUser0Red, true},
	KeySourceEfuseUser1:      {KeySlotEfuseUser1, KeySlotEfuseUser1, false},
	KeySourceEfuseUser1Black: {KeySlotEfuseUser1, KeySlotEfuseUser1Red, true},
	KeySourceUser0:           {KeySlotUser0, KeySlotUser0, false},
	KeySourceUser1:           {KeySlotUser1, KeySlotUser1, false},
	KeySourceUser2:           {KeySlotUser2, KeySlotUser2, false},
	KeySourceUser3:           {KeySlotUser3, KeySlotUser3, false},
	KeySourceUser4:           {KeySlotUser4, KeySlotUser4, false},
	KeySourceUser5:           {KeySlotUser5, KeySlotUser5, false},
	KeySourceUser6:           {KeySlotUser6, KeySlotUser6, false},
	KeySourceUser7:           {KeySlotUser7, KeySlotUser7, false},
}

// Slots returns the key register holding the provisioned key for this
// source, and the key register that holds the key used for decryption.
// These are the same for plain sources. For black sources, the provisioned
// key is unwrapped from src into red. The ok result is false for an
// unrecognized source.
func (s KeySource) Slots() (src, red KeySlot, ok bool) {
	p, ok := keySourceSlots[s]
	if !ok {
		return 0, 0, false
	}
	return p.src, p.red, true
}

// IsBlack indicates whether this source provides a wrapped key.
func (s KeySource) IsBlack() bool {
	return keySourceSlots[s].black
}

// IsValid indicates whether this is a recognized key source.
func (s KeySource) IsValid() bool {
	_, ok := keySourceSlots[s]
	return ok
}
