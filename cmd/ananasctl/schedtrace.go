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

	"ananas.dev/kernel/pkg/mdlayer"
	"ananas.dev/kernel/pkg/sched"
)

type schedTraceCmd struct {
	rounds int
}

func (*schedTraceCmd) Name() string     { return "schedtrace" }
func (*schedTraceCmd) Synopsis() string { return "print a few rounds of scheduler selection" }
func (*schedTraceCmd) Usage() string    { return "schedtrace [-rounds n]\n" }

func (c *schedTraceCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.rounds, "rounds", 6, "number of Schedule() calls to trace")
}

func (c *schedTraceCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	md := mdlayer.New()
	s := sched.New(md)

	idle := sched.NewThread("idle", &mdlayer.Context{Name: "idle"})
	s.AddThread(idle, true)
	for _, name := range []string{"A", "B", "C"} {
		s.AddThread(sched.NewThread(name, &mdlayer.Context{Name: name}), false)
	}
	s.Activate()

	for i := 0; i < c.rounds; i++ {
		s.Schedule()
		fmt.Printf("round %d: current = %s\n", i, s.Current().Name)
	}
	return subcommands.ExitSuccess
}
