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
	"errors"
)

var ErrNoMessage = errors.New("no unlock message posted")

// DebugPort is a model of the authenticated JTAG interface.
type DebugPort struct {
	pending bool
	message []byte
	enabled bool

	// glitchPending makes every other RequestPending read return the
	// opposite value while set.
	glitchPending bool
	reads         int
}

// Post simulates a host posting an unlock message.
func (p *DebugPort) Post(message []byte) {
	p.message = append([]byte(nil), message...)
	p.pending = true
}

// GlitchRequestFlag makes consecutive reads of the request flag
// disagree.
func (p *DebugPort) GlitchRequestFlag(glitch bool) {
	p.glitchPending = glitch
}

func (p *DebugPort) RequestPending() (bool, error) {
	p.reads++
	if p.glitchPending && p.reads%2 == 0 {
		return !p.pending, nil
	}
	return p.pending, nil
}

func (p *DebugPort) AckRequest() error {
	p.pending = false
	return nil
}

func (p *DebugPort) ReadMessage(dst []byte) error {
	if p.message == nil {
		return ErrNoMessage
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, p.message)
	return nil
}

func (p *DebugPort) Enable() error {
	p.enabled = true
	return nil
}

func (p *DebugPort) Disable() error {
	p.enabled = false
	return nil
}

// Enabled indicates whether the debug port is open.
func (p *DebugPort) Enabled() bool {
	return p.enabled
}
