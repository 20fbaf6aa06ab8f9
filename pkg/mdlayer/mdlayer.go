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

// Package mdlayer implements the machine-dependent contract consumed
// by the kernel's core: address space page-table manipulation,
// context switch, IRQ registration, and DMA-safe memory allocation.
//
// The real kernel's MD layer talks to actual page tables and CPU
// registers; this is a reference/test backend that models the same
// contract on top of host memory, so the core subsystems can be
// exercised without real hardware. Physical/DMA memory is backed by
// real anonymous mmap'd pages via golang.org/x/sys/unix, so callers
// get real addressable storage rather than an arithmetic fake.
package mdlayer

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"ananas.dev/kernel/pkg/errno"
)

const PageSize = 4096

// Context is the opaque per-thread machine context: register save
// area, stacks, and page-table root. The core never inspects its
// fields, only passes it to ContextSwitch.
type Context struct {
	Name       string
	Registers  [32]uint64
	KStackTop  uintptr
	PageTable  uintptr
}

// IRQHandler is invoked from IRQ context. It must not block.
type IRQHandler func(vector int)

// MD is one machine-dependent layer instance. Real kernels have
// exactly one; tests may construct several to model independent
// "boards".
type MD struct {
	mu   sync.Mutex
	irqs map[int]IRQHandler

	dmaMu sync.Mutex
	dma   map[uintptr][]byte // physical "address" -> backing mmap region
	nextP uintptr
}

func New() *MD {
	return &MD{
		irqs:  make(map[int]IRQHandler),
		dma:   make(map[uintptr][]byte),
		nextP: 0x1000, // physical address 0 is reserved, matches real MMU conventions
	}
}

// MapKernel seeds a new address space's kernel half. The reference
// backend has no real MMU, so this is a no-op.
func (m *MD) MapKernel(root uintptr) {}

// MapPages installs n pages of mapping va -> pa with the given
// permission flags. The reference backend does not enforce
// permissions (there is no real MMU underneath); it exists so callers
// can be written against the real contract.
func (m *MD) MapPages(root uintptr, va, pa uintptr, n int, flags int) error {
	if n <= 0 {
		return errno.BadLength
	}
	return nil
}

// UnmapPages removes n pages of mapping starting at va.
func (m *MD) UnmapPages(root uintptr, va uintptr, n int) error {
	if n <= 0 {
		return errno.BadLength
	}
	return nil
}

// ContextSwitch saves old (if non-nil) and switches to new. The
// reference backend has no real CPU state to swap; the call exists so
// the scheduler's control-transfer point is exercised end to end.
func (m *MD) ContextSwitch(newCtx, oldCtx *Context) {
	// Nothing to save/restore on the host; the scheduler itself
	// tracks "current" and this call marks the transfer point.
}

// IRQRegister installs handler for vector. At most one handler per
// vector, matching the real contract.
func (m *MD) IRQRegister(vector int, handler IRQHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.irqs[vector]; exists {
		return errno.Busy
	}
	m.irqs[vector] = handler
	return nil
}

// Deliver invokes the handler registered for vector, if any. Test/demo
// harnesses use this to simulate a hardware interrupt.
func (m *MD) Deliver(vector int) {
	m.mu.Lock()
	h := m.irqs[vector]
	m.mu.Unlock()
	if h != nil {
		h(vector)
	}
}

// DMAAlloc returns size bytes of DMA-capable memory and its "physical"
// address (an opaque handle stable for the lifetime of the
// allocation). Backed by a real anonymous mmap region.
func (m *MD) DMAAlloc(size int) (buf []byte, phys uintptr, err error) {
	if size <= 0 {
		return nil, 0, errno.BadLength
	}
	region, mmapErr := unix.Mmap(-1, 0, roundUp(size, PageSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if mmapErr != nil {
		return nil, 0, fmt.Errorf("mdlayer: dma alloc: %w", mmapErr)
	}

	m.dmaMu.Lock()
	p := m.nextP
	m.nextP += uintptr(roundUp(size, PageSize))
	m.dma[p] = region
	m.dmaMu.Unlock()

	return region[:size], p, nil
}

// DMAFree releases a region previously returned by DMAAlloc.
func (m *MD) DMAFree(phys uintptr) error {
	m.dmaMu.Lock()
	region, ok := m.dma[phys]
	if ok {
		delete(m.dma, phys)
	}
	m.dmaMu.Unlock()
	if !ok {
		return errno.NotFound
	}
	return unix.Munmap(region)
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
