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

package cert

import (
	"fmt"

	"github.com/snapcore/snapd/logger"
	"golang.org/x/xerrors"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/engine"
	"github.com/canonical/secloader/internal/redundant"
	"github.com/canonical/secloader/kat"
	"github.com/canonical/secloader/sigverify"
)

// Authenticator verifies certificates against the PPK hashes and the
// revocation bitmap in the fuse store. It holds no state between calls.
type Authenticator struct {
	fuses    secloader.FuseStore
	sha3     engine.SHA3
	kat      *kat.Gatekeeper
	verifier *sigverify.Verifier
}

// NewAuthenticator returns a new Authenticator.
func NewAuthenticator(fuses secloader.FuseStore, engines *engine.Engines, gatekeeper *kat.Gatekeeper) *Authenticator {
	return &Authenticator{
		fuses:    fuses,
		sha3:     engines.SHA3,
		kat:      gatekeeper,
		verifier: sigverify.NewVerifier(engines, gatekeeper)}
}

// Digest computes the SHA3-384 digest of the concatenation of parts, after
// ensuring that the hash engine has passed its known answer test.
func (a *Authenticator) Digest(parts ...[]byte) ([]byte, error) {
	if a.kat != nil {
		if err := a.kat.EnsureTested(kat.Hash); err != nil {
			return nil, err
		}
	}
	return a.sha3.Digest(parts...)
}

func (a *Authenticator) allPpkInvalid() (bool, error) {
	for i := 0; i < secloader.NumPpkSlots; i++ {
		slot := i
		invalid, err := redundant.ReadBool("read PPK invalid bit", func() (bool, error) {
			return a.fuses.PpkInvalid(slot)
		})
		if err != nil {
			return false, err
		}
		if !invalid {
			return false, nil
		}
	}
	return true, nil
}

// VerifyPpk checks the supplied PPK against the PPK hashes in the fuse
// store. Slots are tried in order. Invalidated slots and slots that are
// not programmed are skipped, and the index of the first matching slot
// is returned.
func (a *Authenticator) VerifyPpk(ppk []byte) (slot int, err error) {
	const op = "verify PPK"

	allInvalid, err := a.allPpkInvalid()
	if err != nil {
		return -1, err
	}
	if allInvalid {
		return -1, secloader.CryptoError(op, secloader.ErrAllPpkInvalid)
	}

	digest, err := a.Digest(ppk)
	if err != nil {
		return -1, err
	}
	shadow, err := a.sha3.Digest(ppk)
	if err != nil {
		return -1, err
	}

	for i := 0; i < secloader.NumPpkSlots; i++ {
		slot := i
		invalid, err := redundant.ReadBool("read PPK invalid bit", func() (bool, error) {
			return a.fuses.PpkInvalid(slot)
		})
		if err != nil {
			return -1, err
		}
		if invalid {
			continue
		}

		h1, err := a.fuses.PpkHash(slot)
		if err != nil {
			return -1, secloader.IOError("read PPK hash", secloader.ErrAllPpkInvalid, err)
		}
		h2, err := a.fuses.PpkHash(slot)
		if err != nil {
			return -1, secloader.IOError("read PPK hash", secloader.ErrAllPpkInvalid, err)
		}

		zero, err := redundant.FromBools(redundant.IsZero(h1) == redundant.AgreeTrue, redundant.IsZero(h2) == redundant.AgreeTrue).Result(op)
		if err != nil {
			return -1, err
		}
		if zero {
			continue
		}

		match, err := redundant.EqualPair(digest[:secloader.PpkHashLen], h1, shadow[:secloader.PpkHashLen], h2).Result(op)
		if err != nil {
			return -1, err
		}
		if match {
			logger.Debugf("PPK matches slot %d", slot)
			return slot, nil
		}
	}

	return -1, secloader.CryptoError(op, secloader.ErrAllPpkInvalid)
}

// VerifySpk verifies the SPK signature of c with ppk.
func (a *Authenticator) VerifySpk(c *Certificate, ppk []byte) error {
	digest, err := a.Digest(c.SPKSignedData())
	if err != nil {
		return err
	}
	if err := a.VerifyContentSignature(c.Algorithm(), digest, ppk, c.SPKSignature); err != nil {
		return xerrors.Errorf("cannot verify SPK: %w", err)
	}
	return nil
}

// VerifyContentSignature verifies sig over hash with key, using the
// specified algorithm.
func (a *Authenticator) VerifyContentSignature(alg secloader.AuthAlgorithm, hash, key, sig []byte) error {
	return a.verifier.Verify(alg, hash, key, sig)
}

// VerifyRevocation checks that id is in range and that its bit is not set
// in the revocation bitmap.
func (a *Authenticator) VerifyRevocation(id uint32) error {
	const op = "verify revocation id"

	inRange, err := redundant.FromBools(id <= secloader.MaxRevocationID, id < secloader.MaxRevocationID+1).Result(op)
	if err != nil {
		return err
	}
	if !inRange {
		return secloader.NewError(secloader.ErrorKindCrypto, fmt.Sprintf("%s %d", op, id), secloader.ErrRevoked)
	}

	word := int(id / 32)
	bit := id % 32
	w, err := redundant.ReadUint32("read revocation bitmap", func() (uint32, error) {
		return a.fuses.RevocationWord(word)
	})
	if err != nil {
		return err
	}

	revoked, err := redundant.FromBools(w&(1<<bit) != 0, (w>>bit)&1 == 1).Result(op)
	if err != nil {
		return err
	}
	if revoked {
		return secloader.NewError(secloader.ErrorKindCrypto, fmt.Sprintf("%s %d", op, id), secloader.ErrRevoked)
	}
	return nil
}

// AuthenticateData verifies the full chain of trust for hash, which is the
// digest of the certificate preamble and the data it covers. If fuseAuth
// is true, the PPK is checked against the fuse store and the SPK
// revocation id is checked. Otherwise the certificate is only checked to
// be self consistent, which corresponds to boot header authentication.
func (a *Authenticator) AuthenticateData(c *Certificate, hash []byte, fuseAuth bool) error {
	if fuseAuth {
		if _, err := a.VerifyPpk(c.PPK); err != nil {
			return err
		}
	}
	if err := a.VerifySpk(c, c.PPK); err != nil {
		return err
	}
	if fuseAuth {
		if err := a.VerifyRevocation(c.SPKRevocationID); err != nil {
			return err
		}
	}
	return a.VerifyContentSignature(c.Algorithm(), hash, c.SPK, c.ContentSignature)
}
