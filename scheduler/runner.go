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

package scheduler

import (
	"time"

	"github.com/snapcore/snapd/logger"
	"gopkg.in/tomb.v2"
)

// ErrorHandler is called with an error returned from Scheduler.Tick. The
// runner stops with the returned error if it is not nil.
type ErrorHandler func(err error) error

// LogErrors is an ErrorHandler that logs errors and keeps running.
func LogErrors(err error) error {
	logger.Noticef("scheduler tick failed: %v", err)
	return nil
}

// Runner calls Tick on a scheduler at a fixed interval from a dedicated
// goroutine.
type Runner struct {
	sched    *Scheduler
	interval time.Duration
	handler  ErrorHandler

	tmb tomb.Tomb
}

// NewRunner returns a new runner for sched. If handler is nil, LogErrors
// is used.
func NewRunner(sched *Scheduler, interval time.Duration, handler ErrorHandler) *Runner {
	if handler == nil {
		handler = LogErrors
	}
	return &Runner{sched: sched, interval: interval, handler: handler}
}

// Start begins running the scheduler.
func (r *Runner) Start() {
	r.tmb.Go(r.run)
}

func (r *Runner) run() error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.tmb.Dying():
			return nil
		case <-ticker.C:
			if err := r.sched.Tick(); err != nil {
				if err := r.handler(err); err != nil {
					return err
				}
			}
		}
	}
}

// Dead returns a channel that is closed once the runner has stopped.
func (r *Runner) Dead() <-chan struct{} {
	return r.tmb.Dead()
}

// Stop stops the runner and returns the error that it stopped with, if
// any. It must only be called after Start.
func (r *Runner) Stop() error {
	r.tmb.Kill(nil)
	return r.tmb.Wait()
}
