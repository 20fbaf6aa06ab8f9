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

package vfs

import (
	"sync"

	"ananas.dev/kernel/pkg/ilist"
	"ananas.dev/kernel/pkg/klog"
	"ananas.dev/kernel/pkg/refs"
)

// DentryFlag is a bitmask of dentry state flags.
type DentryFlag uint32

const (
	DentryRoot DentryFlag = 1 << iota
	DentryNegative
)

var log = klog.WithSubsystem("vfs")

// Dentry is a cached (parent, name) -> inode binding. A Dentry
// contributes exactly one reference to Inode for as long as it names
// it; it never contributes a reference to Parent's inode, only to
// Parent itself (breaking the natural inode<->dentry reference cycle,
// following the source kernel's asymmetry).
type Dentry struct {
	refs.Refs
	ilist.Entry[*Dentry]

	FS     any
	Parent *Dentry
	Name   string
	Inode  *Inode
	flags  DentryFlag
}

func (d *Dentry) IsRoot() bool     { return d.flags&DentryRoot != 0 }
func (d *Dentry) IsNegative() bool { return d.flags&DentryNegative != 0 }

// Dcache is the LRU dentry cache: a fixed pool of slots split between
// an in-use list (recency-ordered, head = most recent) and a free
// list, guarded by a single mutex covering the whole cache.
//
// Grounded on the original kernel's dcache_find_entry_to_use /
// dcache_lookup / dcache_set_inode / dcache_purge_old_entries.
type Dcache struct {
	mu    sync.Mutex
	icache *Icache
	inuse ilist.List[*Dentry]
	free  ilist.List[*Dentry]
}

func NewDcache(capacity int, icache *Icache) *Dcache {
	dc := &Dcache{icache: icache}
	for n := 0; n < capacity; n++ {
		dc.free.PushBack(nil, &Dentry{})
	}
	return dc
}

// CreateRoot allocates and returns a new root dentry for fs, pinned
// with an internal reference (refcount 1, never evicted: Root
// dentries are skipped by eviction and never appear on the free
// list).
func (dc *Dcache) CreateRoot(fs any) *Dentry {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	d := dc.findEntryToUseLocked()
	if d == nil {
		klog.Fatalf("dcache: exhausted allocating root dentry")
	}
	d.InitRefs()
	d.FS = fs
	d.Parent = nil
	d.Name = "/"
	d.flags = DentryRoot
	d.Inode = nil
	dc.inuse.PushFront(nil, d)
	return d
}

// Lookup resolves (parent, name). On a hit for an already-resolved
// dentry, it is moved to the front of the LRU and its refcount is
// incremented. On a hit for a still-pending dentry (no inode, not
// Negative) it returns (nil, nil) so the caller retries after the
// resolver finishes. On a miss, a new dentry is allocated, linked to
// parent (taking a reference on parent), and returned unresolved: the
// caller must call SetInode or Unlink on it.
func (dc *Dcache) Lookup(parent *Dentry, name string) (*Dentry, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	var found *Dentry
	dc.inuse.Each(nil, func(d *Dentry) {
		if found == nil && d.Parent == parent && d.Name == name {
			found = d
		}
	})

	if found != nil {
		if found.Inode == nil && !found.IsNegative() {
			return nil, nil // pending: caller retries
		}
		// A cache hit may land on an entry that was dereferenced to
		// zero but not yet evicted (it stays on inuse for exactly this
		// rediscovery). Revive rather than IncRef: IncRef's zero-is-dead
		// assertion is for an already-owned reference, not a lookup.
		// Safe here because dc.mu, held for this whole call, is the
		// same lock Deref takes around the matching decrement.
		found.Revive()
		dc.inuse.MoveToFront(nil, found)
		return found, nil
	}

	d := dc.findEntryToUseLocked()
	if d == nil {
		klog.Fatalf("dcache: exhausted")
	}
	parent.IncRef()
	d.InitRefs()
	d.FS = parent.FS
	d.Parent = parent
	d.Name = name
	d.flags = 0
	d.Inode = nil
	dc.inuse.PushFront(nil, d)
	return d, nil
}

// SetInode attaches inode to d, taking a strong reference and
// dropping any previously attached inode's reference. Clears
// Negative.
func (dc *Dcache) SetInode(d *Dentry, inode *Inode) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if d.Inode != nil {
		dc.icache.Drop(d.Inode)
	}
	inode.IncRef()
	d.Inode = inode
	d.flags &^= DentryNegative
}

// Unlink marks d Negative and releases its backing inode reference.
func (dc *Dcache) Unlink(d *Dentry) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if d.Inode != nil {
		dc.icache.Drop(d.Inode)
		d.Inode = nil
	}
	d.flags |= DentryNegative
}

// Deref releases a reference to d. Reaching zero does not return the
// slot to the free list — it stays on the in-use LRU so the same
// (parent, name) can be rediscovered without touching the filesystem;
// only eviction reclaims a zero-ref slot. Reaching zero recursively
// derefs Parent.
//
// Holds dc.mu for the whole recursive chain, matching the original
// kernel's dentry_deref/dentry_deref_locked split: this is the lock
// Lookup's revival path also holds, so a decrement-to-zero and a
// rediscovery of the same entry can never interleave.
func (dc *Dcache) Deref(d *Dentry) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.derefLocked(d)
}

func (dc *Dcache) derefLocked(d *Dentry) {
	d.DecRef(func() {
		if d.Parent != nil {
			dc.derefLocked(d.Parent)
		}
	})
}

// PurgeOld walks the in-use list and moves every zero-ref, non-root
// entry to the free list, releasing its inode reference first. This
// is a maintenance sweep distinct from per-lookup eviction: it is the
// only operation that proactively shrinks cache pressure rather than
// reclaiming lazily on the next miss.
func (dc *Dcache) PurgeOld() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	var victims []*Dentry
	dc.inuse.Each(nil, func(d *Dentry) {
		if !d.IsRoot() && d.ReadRefs() == 0 {
			victims = append(victims, d)
		}
	})
	for _, d := range victims {
		if d.Inode != nil {
			dc.icache.Drop(d.Inode)
			d.Inode = nil
		}
		dc.inuse.Remove(nil, d)
		dc.free.PushBack(nil, d)
	}
}

// findEntryToUseLocked returns a slot to (re)initialize: the free
// list first, else the tail of the in-use LRU scanned for the first
// zero-ref, non-root victim, whose backing inode reference is
// released before reuse. Caller holds dc.mu.
func (dc *Dcache) findEntryToUseLocked() *Dentry {
	if s := dc.free.Front(); s != nil {
		dc.free.Remove(nil, s)
		return s
	}
	for victim := dc.inuse.Back(); victim != nil; victim = victim.Prev() {
		if victim.IsRoot() || victim.ReadRefs() != 0 {
			continue
		}
		if victim.Inode != nil {
			dc.icache.Drop(victim.Inode)
			victim.Inode = nil
		}
		dc.inuse.Remove(nil, victim)
		log.Debugf("dcache: evicted %q under pressure", victim.Name)
		return victim
	}
	return nil
}
