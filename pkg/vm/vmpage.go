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

// Package vm implements the kernel's virtual memory subsystem:
// address spaces, demand-paged areas, and the page-fault handler that
// resolves file-backed, shared, copy-on-write, and anonymous pages.
package vm

import (
	"sync"

	"ananas.dev/kernel/pkg/ilist"
	"ananas.dev/kernel/pkg/mdlayer"
	"ananas.dev/kernel/pkg/refs"
)

const PageSize = mdlayer.PageSize

// PageFlag is a bitmask of VM page state flags.
type PageFlag uint32

const (
	PagePrivate PageFlag = 1 << iota
	PageShared
	PageReadOnly
	PagePending
	PageCOW
)

// VMPage binds a virtual address (within its owning VMArea) to a
// physical frame, or represents a shared page still being filled
// (Pending). Its refcount tracks how many VMAreas alias the same
// physical frame through PageShared links.
type VMPage struct {
	refs.Refs
	ilist.Entry[*VMPage]

	mu    sync.Mutex
	Vaddr uintptr
	Phys  []byte // backing frame, PageSize bytes once resolved
	Flags PageFlag

	// Identity used for shared-page lookup; set only on the page held
	// in SharedPages, nil on link and private pages.
	InodeKey any
	Offset   int64
}

func (p *VMPage) Lock()   { p.mu.Lock() }
func (p *VMPage) Unlock() { p.mu.Unlock() }

func (p *VMPage) IsPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Flags&PagePending != 0
}

func (p *VMPage) ClearPending() {
	p.mu.Lock()
	p.Flags &^= PagePending
	p.mu.Unlock()
}

// newSharedPending creates an unresolved shared page identified by
// (inodeKey, offset), refcount 1 for the caller.
func newSharedPending(inodeKey any, offset int64) *VMPage {
	p := &VMPage{InodeKey: inodeKey, Offset: offset, Flags: PageShared | PagePending}
	p.InitRefs()
	return p
}

// link creates a new VMPage aliasing the same physical frame as
// shared, bumping shared's refcount (a zero-copy shared mapping).
func link(shared *VMPage, vaddr uintptr) *VMPage {
	shared.IncRef()
	p := &VMPage{
		Vaddr: vaddr,
		Phys:  shared.Phys,
		Flags: PageShared | PageReadOnly,
	}
	p.InitRefs()
	return p
}

// copyFrom allocates a private page with its own frame and copies
// src's contents into it.
func copyFrom(src *VMPage, vaddr uintptr) *VMPage {
	frame := make([]byte, PageSize)
	copy(frame, src.Phys)
	p := &VMPage{Vaddr: vaddr, Phys: frame, Flags: PagePrivate}
	p.InitRefs()
	return p
}

func newAnonymous(vaddr uintptr) *VMPage {
	p := &VMPage{Vaddr: vaddr, Phys: make([]byte, PageSize), Flags: PagePrivate}
	p.InitRefs()
	return p
}
