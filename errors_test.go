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


package secloader_test

import (
	"errors"
	"fmt"
	"testing"

	. "gopkg.in/check.v1"

	. "github.com/canonical/secloader"
	"github.com/canonical/secloader/internal/testutil"
)

func Test(t *testing.T) { TestingT(t) }

type errorsSuite struct{}

var _ = Suite(&errorsSuite{})

func (s *errorsSuite) TestErrorString(c *C) {
	err := CryptoError("verify SPK", ErrAuthenticationFailed)
	c.Check(err, ErrorMatches, `verify SPK: signature verification failed`)
}

func (s *errorsSuite) TestErrorStringWithCause(c *C) {
	err := IOError("copy block 1", ErrCopyFailed, errors.New("device I/O error"))
	c.Check(err, ErrorMatches, `copy block 1: device copy failed: device I/O error`)
}

func (s *errorsSuite) TestErrorIs(c *C) {
	cause := errors.New("device I/O error")
	err := fmt.Errorf("cannot load: %w", IOError("copy block 1", ErrCopyFailed, cause))
	c.Check(err, testutil.ErrorIs, ErrCopyFailed)
	c.Check(err, testutil.ErrorIs, cause)
	c.Check(err, Not(testutil.ErrorIs), ErrDecryptFailed)
}

func (s *errorsSuite) TestKindOf(c *C) {
	c.Check(KindOf(PolicyError("op", ErrAuthCompulsory)), Equals, ErrorKindPolicy)
	c.Check(KindOf(CryptoError("op", ErrRevoked)), Equals, ErrorKindCrypto)
	c.Check(KindOf(GlitchError("op")), Equals, ErrorKindGlitch)
	c.Check(KindOf(IOError("op", ErrCopyFailed, nil)), Equals, ErrorKindIO)
	c.Check(KindOf(fmt.Errorf("wrapped: %w", NewError(ErrorKindKAT, "op", ErrKatFailed))), Equals, ErrorKindKAT)
	c.Check(KindOf(errors.New("foo")), Equals, ErrorKindUnknown)
}

func (s *errorsSuite) TestGlitchError(c *C) {
	err := GlitchError("read PPK hash")
	c.Check(err, ErrorMatches, `read PPK hash: redundant evaluation mismatch`)
	c.Check(err, testutil.ErrorIs, ErrGlitchDetected)
}

func (s *errorsSuite) TestWithScrubSucceeded(c *C) {
	orig := CryptoError("decrypt block 0", ErrDecryptFailed)
	err := WithScrub(orig, true)
	c.Check(err, ErrorMatches, `decrypt block 0: decryption failed \(buffers cleared\)`)
	c.Check(ScrubStatusOf(err), Equals, ScrubSucceeded)
	c.Check(KindOf(err), Equals, ErrorKindCrypto)

	// The original error is not modified.
	c.Check(ScrubStatusOf(orig), Equals, ScrubNotAttempted)
}

func (s *errorsSuite) TestWithScrubFailed(c *C) {
	err := WithScrub(PolicyError("process block 0", ErrInvalidBlockSize), false)
	c.Check(err, ErrorMatches, `process block 0: invalid block size \(buffer clear failed\)`)
	c.Check(ScrubStatusOf(err), Equals, ScrubFailed)
}

func (s *errorsSuite) TestWithScrubForeignError(c *C) {
	err := WithScrub(errors.New("foo"), true)
	c.Check(err, ErrorMatches, `scrub: foo \(buffers cleared\)`)
	c.Check(KindOf(err), Equals, ErrorKindUnknown)
	c.Check(WithScrub(nil, true), IsNil)
}

func (s *errorsSuite) TestInvalidParameterError(c *C) {
	err := NewInvalidParameterError("block sizes", "no blocks")
	c.Check(err, ErrorMatches, `invalid block sizes: no blocks`)
	c.Check(err, testutil.ConvertibleTo, &InvalidParameterError{})
}

func (s *errorsSuite) TestErrorKindString(c *C) {
	c.Check(ErrorKindPolicy.String(), Equals, "policy")
	c.Check(ErrorKindIO.String(), Equals, "io")
	c.Check(ErrorKind(100).String(), Equals, "unknown")
}
