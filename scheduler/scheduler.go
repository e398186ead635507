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

// Package scheduler provides a cooperative scheduler for periodic tasks.
// Tasks run to completion on the goroutine that calls Tick.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/snapcore/snapd/logger"
	"golang.org/x/xerrors"
)

// MaxTasks is the maximum number of tasks that can be registered.
const MaxTasks = 16

var (
	ErrTooManyTasks = errors.New("too many tasks")
	ErrTaskExists   = errors.New("task already exists")
	ErrNoTask       = errors.New("no such task")
)

type task struct {
	name     string
	fn       func() error
	period   uint32
	priority uint32
}

// Scheduler runs periodic tasks. Tasks with a lower priority value run
// first, and tasks with the same priority run in the order they were
// added.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*task
	ticks uint64
}

func New() *Scheduler {
	return new(Scheduler)
}

// AddPeriodicTask adds a task that runs every periodTicks ticks.
func (s *Scheduler) AddPeriodicTask(name string, fn func() error, periodTicks, priority uint32) error {
	if periodTicks == 0 {
		return fmt.Errorf("invalid period for task %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) >= MaxTasks {
		return ErrTooManyTasks
	}
	for _, t := range s.tasks {
		if t.name == name {
			return xerrors.Errorf("cannot add task %q: %w", name, ErrTaskExists)
		}
	}

	s.tasks = append(s.tasks, &task{name: name, fn: fn, period: periodTicks, priority: priority})
	sort.SliceStable(s.tasks, func(i, j int) bool {
		return s.tasks[i].priority < s.tasks[j].priority
	})
	return nil
}

// RemoveTask removes the named task.
func (s *Scheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.name == name {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return nil
		}
	}
	return xerrors.Errorf("cannot remove task %q: %w", name, ErrNoTask)
}

// Tasks returns the names of the registered tasks in the order that they
// run.
func (s *Scheduler) Tasks() (names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		names = append(names, t.name)
	}
	return names
}

// Ticks returns the number of times Tick has been called.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Tick advances the scheduler by one tick and runs the tasks that are
// due. A failing task doesn't prevent the other tasks from running, and
// the first error is returned.
func (s *Scheduler) Tick() error {
	s.mu.Lock()
	s.ticks++
	var due []*task
	for _, t := range s.tasks {
		if s.ticks%uint64(t.period) == 0 {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	var firstErr error
	for _, t := range due {
		if err := t.fn(); err != nil {
			logger.Noticef("task %q failed: %v", t.name, err)
			if firstErr == nil {
				firstErr = xerrors.Errorf("task %q failed: %w", t.name, err)
			}
		}
	}
	return firstErr
}
