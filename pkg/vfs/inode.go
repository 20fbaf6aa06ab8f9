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

// Package vfs implements the kernel's dentry and inode caches: LRU
// name and metadata caches with a strict refcount contract between
// them (a dentry contributes exactly one reference to the inode it
// names, for as long as it names it).
package vfs

import (
	"sync"

	"ananas.dev/kernel/pkg/ilist"
	"ananas.dev/kernel/pkg/klog"
	"ananas.dev/kernel/pkg/refs"
)

// InodeFlag is a bitmask of inode state flags.
type InodeFlag uint32

const (
	InodeDirty InodeFlag = 1 << iota
	InodePending
	InodeGone
)

// Stat mirrors the stat block every inode carries.
type Stat struct {
	Size  int64
	Mode  uint32
	Inum  uint64
}

// FSDriver is the filesystem driver contract VFS consumes, per the
// external interface list: mount-level and per-inode operations.
type FSDriver interface {
	ReadInode(inum uint64) (*Stat, any, error) // returns stat and a filesystem-private blob
	WriteInode(inum uint64, blob any) error
	DiscardInode(inum uint64, blob any)
}

// Inode is a cached VFS inode. Its list linkage lets it live on an
// Icache's LRU list.
type Inode struct {
	refs.Refs
	ilist.Entry[*Inode]

	mu    sync.Mutex
	Inum  uint64
	Stat  Stat
	flags InodeFlag
	FS    FSDriver
	Blob  any // filesystem-private data

	pages []any // shared VM pages this inode backs, keyed elsewhere by (inode, offset)
}

func (i *Inode) Lock()   { i.mu.Lock() }
func (i *Inode) Unlock() { i.mu.Unlock() }

func (i *Inode) SetFlag(f InodeFlag) {
	i.mu.Lock()
	i.flags |= f
	i.mu.Unlock()
}

func (i *Inode) HasFlag(f InodeFlag) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.flags&f != 0
}

// Icache is the inode cache: fixed-capacity LRU list of Inodes keyed
// by (FSDriver, Inum), analogous to the dentry cache.
type Icache struct {
	mu       sync.Mutex
	capacity int
	inuse    ilist.List[*Inode]
	free     ilist.List[*Inode]
	byKey    map[icacheKey]*Inode
}

type icacheKey struct {
	fs   FSDriver
	inum uint64
}

func NewIcache(capacity int) *Icache {
	ic := &Icache{capacity: capacity, byKey: make(map[icacheKey]*Inode)}
	for n := 0; n < capacity; n++ {
		ic.free.PushBack(nil, &Inode{})
	}
	return ic
}

// Get returns the cached inode for (fs, inum), reading it through fs
// if not already cached. On a cache hit the inode is moved to the
// front of the LRU and its refcount incremented.
func (ic *Icache) Get(fs FSDriver, inum uint64) (*Inode, error) {
	key := icacheKey{fs, inum}

	ic.mu.Lock()
	if in, ok := ic.byKey[key]; ok {
		// A hit may land on an entry dropped to zero but not yet
		// evicted (Drop keeps it on inuse for exactly this
		// rediscovery). TryIncRef's failure-on-zero is for a lock-free
		// caller racing eviction; here ic.mu is the same lock Drop's
		// destroy closure takes before touching the slot, so a
		// zero-ref hit can only mean "rediscoverable", never
		// "concurrently being evicted out from under us".
		in.Revive()
		ic.inuse.MoveToFront(nil, in)
		ic.mu.Unlock()
		// in.mu is taken only after ic.mu is released, keeping the
		// per-inode -> icache order Drop uses; the revived reference
		// keeps Drop's destroy step from discarding in meanwhile.
		in.mu.Lock()
		in.flags &^= InodeGone
		in.mu.Unlock()
		return in, nil
	}
	slot := ic.findSlotLocked()
	if slot == nil {
		ic.mu.Unlock()
		klog.Fatalf("icache: exhausted")
	}
	slot.InitRefs()
	slot.Inum = inum
	slot.FS = fs
	slot.flags = InodePending
	ic.byKey[key] = slot
	ic.inuse.PushFront(nil, slot)
	ic.mu.Unlock()

	stat, blob, err := fs.ReadInode(inum)
	if err != nil {
		ic.Drop(slot)
		return nil, err
	}
	slot.mu.Lock()
	slot.Stat = *stat
	slot.Blob = blob
	slot.flags &^= InodePending
	slot.mu.Unlock()
	return slot, nil
}

// findSlotLocked returns a free slot, evicting the LRU tail of the
// in-use list if the free list is empty. Caller holds ic.mu.
func (ic *Icache) findSlotLocked() *Inode {
	if s := ic.free.Front(); s != nil {
		ic.free.Remove(nil, s)
		return s
	}
	for victim := ic.inuse.Back(); victim != nil; victim = victim.Prev() {
		if victim.ReadRefs() == 0 {
			ic.inuse.Remove(nil, victim)
			for k, v := range ic.byKey {
				if v == victim {
					delete(ic.byKey, k)
					break
				}
			}
			return victim
		}
	}
	return nil
}

// Drop releases a reference to in, calling the filesystem's
// DiscardInode when the refcount reaches zero. The slot stays on the
// in-use list so a later Get for the same key can rediscover it
// without a fresh ReadInode; only eviction under pressure reclaims a
// zero-ref slot.
//
// Locks in.mu before ic.mu, per the dcache -> per-inode -> icache
// order. The destroy closure re-checks the refcount once both locks
// are held: DecRef's zero-crossing and this closure's execution are
// not atomic with each other, so a concurrent Get can revive in back
// to a live refcount in between. Since Get's revival also requires
// ic.mu, once this closure holds it the count can no longer change
// out from under the check, so a nonzero count here means "someone
// else already rediscovered this slot" and the discard must be
// skipped rather than run against a live inode.
func (ic *Icache) Drop(in *Inode) {
	in.DecRef(func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		ic.mu.Lock()
		defer ic.mu.Unlock()
		if in.ReadRefs() != 0 {
			return
		}
		in.FS.DiscardInode(in.Inum, in.Blob)
		in.flags |= InodeGone
	})
}
