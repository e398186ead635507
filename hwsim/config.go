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
	"fmt"
	"io/ioutil"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/canonical/secloader"
	"github.com/canonical/secloader/engine"
)

// SecureStateConfig describes the secure state registers. Each field is
// one of "enabled", "emulated" or "non-secure".
type SecureStateConfig struct {
	AHWRoT string `yaml:"a-hwrot"`
	SHWRoT string `yaml:"s-hwrot"`
}

// DeviceConfig describes a simulated device.
type DeviceConfig struct {
	Fuses       Fuses             `yaml:"fuses"`
	SecureState SecureStateConfig `yaml:"secure-state"`

	// DpaUnsupported models an AES engine without DPA countermeasures.
	DpaUnsupported bool `yaml:"dpa-unsupported"`

	PufSecret HexBytes `yaml:"puf-secret"`

	// PufHelper is keyed by "boot-header" or "fuse".
	PufHelper map[string]HexBytes `yaml:"puf-helper"`

	// Keys contains the provisioned keys, keyed by key source name.
	// Black sources are provisioned with their wrapped form.
	Keys map[string]HexBytes `yaml:"keys"`
}

func parseSecureState(value string, enabled, emulated secloader.SecureState) (secloader.SecureState, error) {
	switch value {
	case "enabled":
		return enabled, nil
	case "emulated":
		return emulated, nil
	case "", "non-secure":
		return secloader.SecureStateNonSecure, nil
	default:
		return 0, fmt.Errorf("invalid secure state %q", value)
	}
}

// ParsePufHelperLocation parses the name of a PUF helper data location.
func ParsePufHelperLocation(value string) (secloader.PufHelperLocation, error) {
	switch value {
	case "boot-header":
		return secloader.PufHelperInBootHeader, nil
	case "fuse":
		return secloader.PufHelperInFuse, nil
	default:
		return 0, fmt.Errorf("invalid PUF helper data location %q", value)
	}
}

// ParseDeviceConfig decodes a YAML device description.
func ParseDeviceConfig(data []byte) (*DeviceConfig, error) {
	var cfg DeviceConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, xerrors.Errorf("cannot decode device config: %w", err)
	}
	return &cfg, nil
}

// LoadDeviceConfig reads a YAML device description from path.
func LoadDeviceConfig(path string) (*DeviceConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDeviceConfig(data)
}

// Marshal encodes the device description as YAML.
func (c *DeviceConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Device is a simulated device.
type Device struct {
	Fuses   *Fuses
	Regs    *SecureStateRegisters
	Boot    *BootDevice
	Memory  *Memory
	AES     *engine.SoftAES
	Engines *engine.Engines
	PUF     *PUF
	Debug   *DebugPort
}

// NewDevice creates a simulated device from the supplied description.
func NewDevice(cfg *DeviceConfig) (*Device, error) {
	a, err := parseSecureState(cfg.SecureState.AHWRoT, secloader.SecureStateAHWRoT, secloader.SecureStateEmulatedAHWRoT)
	if err != nil {
		return nil, xerrors.Errorf("cannot parse A-HWRoT state: %w", err)
	}
	s, err := parseSecureState(cfg.SecureState.SHWRoT, secloader.SecureStateSHWRoT, secloader.SecureStateEmulatedSHWRoT)
	if err != nil {
		return nil, xerrors.Errorf("cannot parse S-HWRoT state: %w", err)
	}

	aes := engine.NewSoftAES(!cfg.DpaUnsupported)
	engines := engine.NewSoftEngines()
	engines.AES = aes

	fuses := cfg.Fuses
	d := &Device{
		Fuses:   &fuses,
		Regs:    &SecureStateRegisters{A: a, S: s},
		Boot:    new(BootDevice),
		Memory:  new(Memory),
		AES:     aes,
		Engines: engines,
		PUF:     NewPUF(aes, cfg.PufSecret),
		Debug:   new(DebugPort)}

	for name, helper := range cfg.PufHelper {
		loc, err := ParsePufHelperLocation(name)
		if err != nil {
			return nil, err
		}
		d.PUF.SetHelperData(loc, helper)
	}

	for name, key := range cfg.Keys {
		src, err := secloader.ParseKeySource(name)
		if err != nil {
			return nil, err
		}
		slot, _, ok := src.Slots()
		if !ok {
			return nil, fmt.Errorf("cannot provision key source %v", src)
		}
		if err := aes.WriteKey(slot, key); err != nil {
			return nil, xerrors.Errorf("cannot provision %v key: %w", src, err)
		}
	}

	return d, nil
}
