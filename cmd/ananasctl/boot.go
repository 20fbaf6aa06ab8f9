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

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"ananas.dev/kernel/pkg/bootcfg"
	"ananas.dev/kernel/pkg/klog"
	"ananas.dev/kernel/pkg/mdlayer"
	"ananas.dev/kernel/pkg/sched"
)

type bootCmd struct {
	configPath string
}

func (*bootCmd) Name() string     { return "boot" }
func (*bootCmd) Synopsis() string { return "wire up the kernel subsystems and run a scripted demo" }
func (*bootCmd) Usage() string    { return "boot [-config path]\n" }

func (c *bootCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to a boot TOML config; defaults to bootcfg.Default()")
}

func (c *bootCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg := bootcfg.Default()
	if c.configPath != "" {
		loaded, err := bootcfg.Load(c.configPath)
		if err != nil {
			klog.Errorf("boot: loading config: %v", err)
			return subcommands.ExitFailure
		}
		cfg = loaded
	}

	md := mdlayer.New()
	scheduler := sched.New(md)

	idle := sched.NewThread("idle", &mdlayer.Context{Name: "idle"})
	scheduler.AddThread(idle, true)
	scheduler.Activate()

	fmt.Printf("booted: %d physical pages, uhci io base %#x, quantum %d ticks\n",
		cfg.Memory.PhysicalPages, cfg.UHCI.IOBase, cfg.Scheduler.QuantumTicks)
	for _, d := range cfg.Devices {
		fmt.Printf("  device: %s (%s) @ %d\n", d.Name, d.Class, d.Address)
	}

	scheduler.Schedule()
	fmt.Println("scheduler active, idle thread selected")
	return subcommands.ExitSuccess
}
