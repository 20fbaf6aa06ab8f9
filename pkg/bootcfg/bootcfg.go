// Copyright 2024 The Ananas Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bootcfg loads the kernel's boot-time configuration from a
// TOML file: physical memory size, scheduler diagnostics, and the
// UHCI controller's I/O base, mirroring the single-decoded-struct
// configuration style used by gvisor's own runtime tooling.
package bootcfg

import (
	"github.com/BurntSushi/toml"
)

// Config is the top-level boot configuration.
type Config struct {
	Memory    MemoryConfig    `toml:"memory"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	UHCI      UHCIConfig      `toml:"uhci"`
	Devices   []DeviceConfig  `toml:"device"`
}

type MemoryConfig struct {
	PhysicalPages int `toml:"physical_pages"`
}

type SchedulerConfig struct {
	// QuantumTicks is diagnostic only: this scheduler is purely
	// cooperative, there is no timer-driven preemption, but boot
	// configs from the original kernel carry it for trace output.
	QuantumTicks int `toml:"quantum_ticks"`
}

type UHCIConfig struct {
	IOBase uint16 `toml:"io_base"`
	IRQ    int    `toml:"irq"`
}

type DeviceConfig struct {
	Name    string `toml:"name"`
	Class   string `toml:"class"`
	Address int    `toml:"address"`
}

// Default returns a minimal configuration suitable for tests and the
// demo CLI when no file is given.
func Default() *Config {
	return &Config{
		Memory:    MemoryConfig{PhysicalPages: 4096},
		Scheduler: SchedulerConfig{QuantumTicks: 10},
		UHCI:      UHCIConfig{IOBase: 0xC000, IRQ: 11},
	}
}

// Load decodes a Config from a TOML file at path.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
