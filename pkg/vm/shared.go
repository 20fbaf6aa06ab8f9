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

package vm

import (
	"sync"

	"github.com/google/btree"
)

func pageLess(a, b *VMPage) bool { return a.Offset < b.Offset }

// SharedPages is the registry mapping (inode identity, offset) to the
// single shared VMPage that identity resolves to, satisfying the
// invariant that for every (inode, offset) at most one shared vmpage
// exists. One btree per inode, ordered by offset.
type SharedPages struct {
	mu      sync.Mutex
	byInode map[any]*btree.BTreeG[*VMPage]
}

func NewSharedPages() *SharedPages {
	return &SharedPages{byInode: make(map[any]*btree.BTreeG[*VMPage])}
}

// lookupOrCreate returns the shared page for (inodeKey, offset),
// creating a Pending one if absent. The returned page's refcount has
// already been incremented for the caller.
func (sp *SharedPages) lookupOrCreate(inodeKey any, offset int64) *VMPage {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	tree, ok := sp.byInode[inodeKey]
	if !ok {
		tree = btree.NewG(32, pageLess)
		sp.byInode[inodeKey] = tree
	}

	if existing, found := tree.Get(&VMPage{Offset: offset}); found {
		existing.IncRef()
		return existing
	}

	p := newSharedPending(inodeKey, offset)
	tree.ReplaceOrInsert(p)
	return p
}
