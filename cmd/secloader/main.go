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

// secloader builds and loads secure boot partitions on a simulated device.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/snapcore/snapd/logger"
	"golang.org/x/xerrors"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

type options struct {
	Verbose bool `short:"v" long:"verbose" description:"Enable debug logging"`
}

var opts options

func newParser() *flags.Parser {
	p := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	p.CommandHandler = func(cmd flags.Commander, args []string) error {
		if opts.Verbose {
			os.Setenv("SNAPD_DEBUG", "1")
		}
		if err := logger.SimpleSetup(); err != nil {
			return xerrors.Errorf("cannot set up logging: %w", err)
		}
		return cmd.Execute(args)
	}

	p.AddCommand("build", "Build a partition image", "Build a signed and/or encrypted partition image together with a matching simulated device description.", &buildCommand{})
	p.AddCommand("load", "Load a partition image", "Load a partition image on a simulated device.", &loadCommand{})
	p.AddCommand("unlock-message", "Create an authenticated JTAG unlock message", "Create an unlock message signed by a primary public key.", &unlockMessageCommand{})
	p.AddCommand("jtag", "Run the authenticated JTAG controller", "Post an unlock message to the debug port of a simulated device and run the controller for a number of ticks.", &jtagCommand{})
	return p
}

func run(args []string) error {
	opts = options{}
	_, err := newParser().ParseArgs(args)
	return err
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(Stdout, err)
			return
		}
		fmt.Fprintln(Stderr, err)
		os.Exit(1)
	}
}
