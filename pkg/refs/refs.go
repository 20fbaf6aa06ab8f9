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

// Package refs provides an atomic reference-counting mixin for
// kernel objects whose lifetime is cache-managed (inodes, dentries,
// vmpages): the count reaches zero under concurrent access, and a
// caller-supplied hook decides what happens next rather than a
// destructor performing I/O implicitly.
package refs

import (
	"sync/atomic"

	"ananas.dev/kernel/pkg/klog"
)

// Refs is embedded by any type that needs atomic refcounting with a
// drop hook. The zero value is not ready to use; call InitRefs first.
type Refs struct {
	count atomic.Int64
}

// InitRefs sets the initial reference count to 1, representing the
// reference implicitly held by whoever is constructing the object.
func (r *Refs) InitRefs() {
	r.count.Store(1)
}

// ReadRefs returns the current count, for diagnostics and tests only.
func (r *Refs) ReadRefs() int64 {
	return r.count.Load()
}

// IncRef adds a reference. Panics if the count was already zero: a
// zero-refcount object must never be reachable for IncRef to observe,
// by the same invariant the dcache/icache rely on.
func (r *Refs) IncRef() {
	if r.count.Add(1) <= 1 {
		klog.Fatalf("refs: IncRef on a dead object")
	}
}

// TryIncRef speculatively adds a reference, backing out if the object
// was concurrently dropped to zero. Used when a reference is obtained
// from a lock-free lookup (e.g. a cache slot) rather than from an
// already-owned reference.
func (r *Refs) TryIncRef() bool {
	for {
		v := r.count.Load()
		if v <= 0 {
			return false
		}
		if r.count.CompareAndSwap(v, v+1) {
			return true
		}
	}
}

// Revive adds a reference to a slot the caller found at zero, the one
// case IncRef's zero-is-dead invariant must not apply: a dcache/icache
// hit on an entry that was dereferenced to zero but not yet evicted.
// Unlike IncRef and TryIncRef, Revive never fails and never fatals on
// a 0->1 transition, matching the source kernel's dcache_lookup, which
// bumps a cache hit's refcount directly rather than through the
// asserting dentry_ref path. Callers must hold whatever lock also
// guards the corresponding DecRef, so a revival can never race a slot
// actually being handed back to the free list.
func (r *Refs) Revive() {
	r.count.Add(1)
}

// DecRef releases a reference. When the count reaches zero, destroy
// is invoked exactly once. destroy may be nil.
func (r *Refs) DecRef(destroy func()) {
	v := r.count.Add(-1)
	switch {
	case v > 0:
		return
	case v == 0:
		if destroy != nil {
			destroy()
		}
	default:
		klog.Fatalf("refs: DecRef underflow")
	}
}
