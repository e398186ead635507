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

// CopyFlags modifies the behaviour of DeviceCopier.Copy.
type CopyFlags uint32

const (
	// CopyFlagDMA requests that the copy is performed with the DMA
	// engine rather than by the processor.
	CopyFlagDMA CopyFlags = 1 << iota

	// CopyFlagLast indicates that this is the last copy for the
	// current partition.
	CopyFlagLast
)

// DeviceCopier is implemented by the boot device driver. Copy transfers
// len(dst) bytes starting at the boot device offset src into dst. It is
// synchronous and safe to retry.
type DeviceCopier interface {
	Copy(src uint64, dst []byte, flags CopyFlags) error
}

// Memory is the execution memory that verified payloads are loaded into.
type Memory interface {
	Write(addr uint64, data []byte) error
}

// FuseStore provides the read-only fuse queries consumed by this module.
// Every query may be called more than once for the same decision, and
// implementations must perform a fresh read each time.
type FuseStore interface {
	// PpkHash returns the PpkHashLen byte hash programmed in the
	// specified slot.
	PpkHash(slot int) ([]byte, error)

	// PpkInvalid indicates whether the specified slot has been
	// invalidated.
	PpkInvalid(slot int) (bool, error)

	// RevocationWord returns the specified 32-bit word of the
	// revocation bitmap. Bit n of word w corresponds to id w*32+n.
	RevocationWord(word int) (uint32, error)

	DpaCountermeasureDisabled() (bool, error)
	AuthJtagDisabled() (bool, error)
	CryptoKatEnabled() (bool, error)

	// MetaHeaderIV returns the IvLen byte IV programmed for the image
	// header table.
	MetaHeaderIV() ([]byte, error)

	// Dna returns the DnaLen byte device unique identifier.
	Dna() ([]byte, error)

	// BlackIV returns the IvLen byte IV programmed alongside the fuse
	// black key.
	BlackIV() ([]byte, error)
}

// SecureState is the value of a hardware root of trust state register.
type SecureState uint32

const (
	SecureStateAHWRoT         SecureState = 0xA5A5A5A5
	SecureStateEmulatedAHWRoT SecureState = 0x5A5A5A5A
	SecureStateSHWRoT         SecureState = 0x96969696
	SecureStateEmulatedSHWRoT SecureState = 0x69696969
	SecureStateNonSecure      SecureState = 0xD2D2D2D2
)

func (s SecureState) String() string {
	switch s {
	case SecureStateAHWRoT:
		return "A-HWRoT"
	case SecureStateEmulatedAHWRoT:
		return "emulated A-HWRoT"
	case SecureStateSHWRoT:
		return "S-HWRoT"
	case SecureStateEmulatedSHWRoT:
		return "emulated S-HWRoT"
	case SecureStateNonSecure:
		return "non-secure"
	default:
		return fmt.Sprintf("SecureState(%#08x)", uint32(s))
	}
}

// SecureStateRegisters provides access to the secure state registers that
// are computed from the fuses and the boot header during early boot.
type SecureStateRegisters interface {
	AHWRoT() (SecureState, error)
	SHWRoT() (SecureState, error)
}

// SecureStateShadow is a copy of the secure state registers captured when
// the boot session is created.
type SecureStateShadow struct {
	AHWRoT SecureState
	SHWRoT SecureState
}

// CaptureSecureState reads the secure state registers into a new shadow.
func CaptureSecureState(regs SecureStateRegisters) (SecureStateShadow, error) {
	a, err := regs.AHWRoT()
	if err != nil {
		return SecureStateShadow{}, err
	}
	s, err := regs.SHWRoT()
	if err != nil {
		return SecureStateShadow{}, err
	}
	return SecureStateShadow{AHWRoT: a, SHWRoT: s}, nil
}

// PufHelperLocation describes where the PUF helper data used to regenerate
// the key encryption key resides.
type PufHelperLocation uint32

const (
	PufHelperInBootHeader PufHelperLocation = iota
	PufHelperInFuse
)

func (l PufHelperLocation) String() string {
	switch l {
	case PufHelperInBootHeader:
		return "boot-header"
	case PufHelperInFuse:
		return "fuse"
	default:
		return fmt.Sprintf("PufHelperLocation(%d)", uint32(l))
	}
}

// PUF regenerates the device unique key encryption key from its helper
// data, leaving the result in the PUF key slot of the AES engine.
type PUF interface {
	Regenerate(loc PufHelperLocation) error
}

// Scheduler runs periodic tasks cooperatively.
type Scheduler interface {
	AddPeriodicTask(name string, task func() error, periodTicks, priority uint32) error
}

// DebugPort provides access to the authenticated JTAG interface.
type DebugPort interface {
	// RequestPending indicates whether a host has posted an unlock
	// request.
	RequestPending() (bool, error)

	// AckRequest clears the pending request.
	AckRequest() error

	// ReadMessage copies the posted unlock message into dst.
	ReadMessage(dst []byte) error

	// Enable opens the debug and security gates.
	Enable() error

	// Disable closes the debug and security gates.
	Disable() error
}

// PartitionHeader contains the fields of a partition header consumed by
// this module, as decoded by the header parser.
type PartitionHeader struct {
	// CertificateOffset is the boot device offset of the authentication
	// certificate, or zero if the partition is not authenticated.
	CertificateOffset uint64

	// DataOffset is the boot device offset of the first chunk.
	DataOffset uint64

	Encrypted bool
	Checksum  bool

	KeySource KeySource

	// IV is the IV used to decrypt the first secure header.
	IV [IvLen]byte

	// EncryptedLength is the total length of the encrypted partition,
	// including its secure headers and tags.
	EncryptedLength uint32

	RevocationID uint32

	PufHelper PufHelperLocation

	// KekIV is the IV used to unwrap a black key.
	KekIV [IvLen]byte

	DpaCountermeasure bool

	// InPlace indicates that the payload is consumed from the chunk
	// buffer rather than copied to execution memory.
	InPlace bool
}

// BootHeader contains the boot header fields consumed by this module.
type BootHeader struct {
	KeySource KeySource

	// BootHeaderAuth indicates that the image requests boot header
	// authentication, which skips verification of the PPK against the
	// fuses.
	BootHeaderAuth bool

	PufHelper PufHelperLocation

	// BlackKey contains the wrapped key for KeySourceBootHeaderBlack.
	BlackKey []byte
	KekIV    [IvLen]byte

	// RedKey contains the plain key for KeySourceBootHeader.
	RedKey []byte
}

// HeaderTable contains the image header table fields consumed by this
// module.
type HeaderTable struct {
	CertificateOffset uint64
	Encrypted         bool
	KeySource         KeySource
	IV                [IvLen]byte
	PufHelper         PufHelperLocation
}

func (h *HeaderTable) Authenticated() bool {
	return h.CertificateOffset != 0
}
