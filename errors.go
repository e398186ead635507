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
	"errors"
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrCopyFailed is returned when the device-copy collaborator fails to
	// transfer a certificate, chunk or unlock message.
	ErrCopyFailed = errors.New("device copy failed")

	// ErrChecksumConflict indicates that a partition requests checksum
	// validation together with authentication or encryption.
	ErrChecksumConflict = errors.New("checksum validation cannot be combined with authentication or encryption")

	// ErrGlitchDetected indicates that two redundant evaluations of the same
	// security decision disagreed. This is always fatal and is reported
	// separately from ordinary cryptographic failures because it suggests
	// fault injection.
	ErrGlitchDetected = errors.New("redundant evaluation mismatch")

	// ErrKeySrcMismatch is returned when the header table key source differs
	// from the boot header key source with symmetric HWRoT enabled.
	ErrKeySrcMismatch = errors.New("key source does not match the boot header key source")

	ErrAllPpkInvalid        = errors.New("no valid PPK hash matches the supplied PPK")
	ErrInvalidAlgorithm     = errors.New("invalid authentication algorithm")
	ErrRevoked              = errors.New("revocation id is revoked or out of range")
	ErrAuthenticationFailed = errors.New("signature verification failed")
	ErrKekUnwrapFailed      = errors.New("cannot unwrap black key")
	ErrPufRegenFailed       = errors.New("cannot regenerate PUF key")
	ErrInvalidKeySource     = errors.New("invalid key source")
	ErrKatFailed            = errors.New("known answer test failed")
	ErrDecryptFailed        = errors.New("decryption failed")

	// ErrDataLeft is returned when the final block of an encrypted partition
	// has been processed but the declared encrypted length was not fully
	// consumed.
	ErrDataLeft = errors.New("encrypted data left after the last block")

	// ErrAuthJtagExceeded is returned once the number of failed authenticated
	// JTAG attempts reaches the configured cap.
	ErrAuthJtagExceeded = errors.New("authenticated JTAG attempt limit exceeded")

	// ErrDapTimeoutDisabled is reported when an unlocked debug port is
	// relocked because its timeout expired.
	ErrDapTimeoutDisabled = errors.New("debug port disabled after timeout")

	ErrAuthCompulsory         = errors.New("authentication is mandatory in this secure state")
	ErrEncCompulsory          = errors.New("encryption is mandatory in this secure state")
	ErrBootHeaderAuthOnly     = errors.New("boot header authentication is not permitted in this secure state")
	ErrBootHeaderAuthRequired = errors.New("only boot header authentication is permitted when the PPK hash is not programmed")
	ErrDecryptNotAllowed      = errors.New("decryption is not permitted in this secure state")
	ErrEncOnlyKeySource       = errors.New("key source is not permitted in encrypt-only mode")
	ErrEncOnlyPufHelperData   = errors.New("PUF helper data must be fuse resident in encrypt-only mode")
	ErrEncOnlyIV              = errors.New("IV does not satisfy encrypt-only mode constraints")
	ErrAuthJtagDisabled       = errors.New("authenticated JTAG is disabled")
	ErrInvalidDna             = errors.New("device DNA does not match")
	ErrDebugPortAccess        = errors.New("debug port access failed")
	ErrHashMismatch           = errors.New("chunk digest does not match the expected digest")
	ErrInvalidBlockSize       = errors.New("invalid block size")
	ErrInvalidState           = errors.New("invalid secure state")
)

// ErrorKind classifies an error according to how boot is expected to
// react to it.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota

	// ErrorKindPolicy covers policy violations which abort immediately.
	ErrorKindPolicy

	// ErrorKindCrypto covers signature, digest, revocation and
	// decryption failures, which are fatal to the current partition.
	ErrorKindCrypto

	// ErrorKindGlitch covers redundant evaluation mismatches.
	ErrorKindGlitch

	// ErrorKindIO covers collaborator failures, which are surfaced
	// verbatim.
	ErrorKindIO

	// ErrorKindKAT covers known answer test failures.
	ErrorKindKAT
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindPolicy:
		return "policy"
	case ErrorKindCrypto:
		return "crypto"
	case ErrorKindGlitch:
		return "glitch"
	case ErrorKindIO:
		return "io"
	case ErrorKindKAT:
		return "kat"
	default:
		return "unknown"
	}
}

// ScrubStatus is the secondary status attached to an error, describing
// whether the buffers touched by the failed operation were cleared.
type ScrubStatus int

const (
	ScrubNotAttempted ScrubStatus = iota
	ScrubSucceeded
	ScrubFailed
)

// Error is the error type returned from the operations in this module.
// Err is always one of the sentinel errors in this package and can be
// tested with errors.Is. Cause contains the error returned from a
// collaborator, if there was one.
type Error struct {
	Kind  ErrorKind
	Op    string
	Err   error
	Cause error
	Scrub ScrubStatus
}

func (e *Error) Error() string {
	s := e.Op + ": " + e.Err.Error()
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	switch e.Scrub {
	case ScrubSucceeded:
		s += " (buffers cleared)"
	case ScrubFailed:
		s += " (buffer clear failed)"
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows an *Error to match its cause as well as its sentinel, so that
// collaborator failures can be identified by callers.
func (e *Error) Is(target error) bool {
	return e.Cause != nil && xerrors.Is(e.Cause, target)
}

// NewError returns a new error of the specified kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// PolicyError returns a new policy violation error.
func PolicyError(op string, err error) error {
	return NewError(ErrorKindPolicy, op, err)
}

// CryptoError returns a new cryptographic failure error.
func CryptoError(op string, err error) error {
	return NewError(ErrorKindCrypto, op, err)
}

// GlitchError returns a new error reporting a redundant evaluation
// mismatch during op.
func GlitchError(op string) error {
	return NewError(ErrorKindGlitch, op, ErrGlitchDetected)
}

// IOError returns a new error associating the supplied collaborator error
// with the sentinel err.
func IOError(op string, err, cause error) error {
	return &Error{Kind: ErrorKindIO, Op: op, Err: err, Cause: cause}
}

// KindOf returns the kind of the supplied error, or ErrorKindUnknown if it
// isn't an error produced by this module.
func KindOf(err error) ErrorKind {
	var e *Error
	if !xerrors.As(err, &e) {
		return ErrorKindUnknown
	}
	return e.Kind
}

// ScrubStatusOf returns the scrub status attached to the supplied error.
func ScrubStatusOf(err error) ScrubStatus {
	var e *Error
	if !xerrors.As(err, &e) {
		return ScrubNotAttempted
	}
	return e.Scrub
}

// WithScrub attaches the outcome of a buffer clear to err. If err is not
// an *Error, it is wrapped in one of kind ErrorKindUnknown.
func WithScrub(err error, cleared bool) error {
	if err == nil {
		return nil
	}
	status := ScrubFailed
	if cleared {
		status = ScrubSucceeded
	}

	var e *Error
	if xerrors.As(err, &e) {
		cp := *e
		cp.Scrub = status
		return &cp
	}
	return &Error{Kind: ErrorKindUnknown, Op: "scrub", Err: err, Scrub: status}
}

// InvalidParameterError is returned when an argument supplied by the caller
// is malformed.
type InvalidParameterError struct {
	Name string
	msg  string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Name, e.msg)
}

// NewInvalidParameterError returns a new InvalidParameterError.
func NewInvalidParameterError(name, format string, args ...interface{}) error {
	return &InvalidParameterError{Name: name, msg: fmt.Sprintf(format, args...)}
}
