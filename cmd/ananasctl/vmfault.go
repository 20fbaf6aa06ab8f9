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
	"ananas.dev/kernel/pkg/vm"
)

type memBacking struct {
	key  string
	data []byte
}

// ReadAt always fills p entirely, zero-padding past the end of data:
// the demo backing file is a multiple of the page size, so a real
// short read never occurs here.
func (m *memBacking) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	if off < int64(len(m.data)) {
		n = copy(p, m.data[off:])
	}
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

func (m *memBacking) InodeKey() any { return m.key }

type vmFaultCmd struct{}

func (*vmFaultCmd) Name() string     { return "vmfault" }
func (*vmFaultCmd) Synopsis() string { return "exercise the page fault handler against a synthetic file" }
func (*vmFaultCmd) Usage() string    { return "vmfault\n" }
func (*vmFaultCmd) SetFlags(*flag.FlagSet) {}

func (*vmFaultCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	md := mdlayer.New()
	vs := vm.NewVMSpace(0)
	sp := vm.NewSharedPages()

	backing := &memBacking{key: "demo-file", data: make([]byte, vm.PageSize*2)}
	for i := 0; i < vm.PageSize; i++ {
		backing.data[i] = 'A'
	}
	for i := vm.PageSize; i < 2*vm.PageSize; i++ {
		backing.data[i] = 'B'
	}

	const base = 0x40000000
	if _, err := vs.MapArea(base, 2*vm.PageSize, vm.AreaRead|vm.AreaUser|vm.AreaLazy, backing, 0, int64(len(backing.data))); err != nil {
		fmt.Println("map_area failed:", err)
		return subcommands.ExitFailure
	}

	for _, va := range []uintptr{base, base + vm.PageSize} {
		if err := vm.HandleFault(vs, md, sp, va, vm.AreaRead); err != nil {
			fmt.Printf("fault at %#x failed: %v\n", va, err)
			return subcommands.ExitFailure
		}
		fmt.Printf("fault at %#x resolved\n", va)
	}

	anon, _ := vs.MapArea(0x50000000, vm.PageSize, vm.AreaRead|vm.AreaWrite|vm.AreaAlloc, nil, 0, 0)
	if err := vm.HandleFault(vs, md, sp, anon.Base, vm.AreaRead|vm.AreaWrite); err != nil {
		fmt.Println("anonymous fault failed:", err)
		return subcommands.ExitFailure
	}
	fmt.Println("anonymous fault resolved, page zeroed")
	return subcommands.ExitSuccess
}
