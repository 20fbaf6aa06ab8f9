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

	"ananas.dev/kernel/pkg/errno"
)

func areaLess(a, b *VMArea) bool { return a.Base < b.Base }

// VMSpace is one address space: an ordered, non-overlapping set of
// VMAreas plus an opaque page-table root the MD layer owns.
type VMSpace struct {
	mu       sync.Mutex
	areas    *btree.BTreeG[*VMArea]
	pageRoot uintptr
}

func NewVMSpace(pageRoot uintptr) *VMSpace {
	return &VMSpace{
		areas:    btree.NewG(32, areaLess),
		pageRoot: pageRoot,
	}
}

// MapArea inserts a new non-overlapping vmarea. Returns errno.Busy if
// [base, base+len) overlaps an existing area.
func (vs *VMSpace) MapArea(base, length uintptr, flags AreaFlag, backing Backing, doffset, dlength int64) (*VMArea, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	overlap := false
	vs.areas.AscendGreaterOrEqual(&VMArea{Base: 0}, func(item *VMArea) bool {
		if item.Base >= base+length {
			return false
		}
		if item.Base+item.Len > base {
			overlap = true
			return false
		}
		return true
	})
	if overlap {
		return nil, errno.Busy
	}

	area := &VMArea{
		Base:    base,
		Len:     length,
		Flags:   flags,
		Backing: backing,
		DOffset: doffset,
		DLength: dlength,
	}
	vs.areas.ReplaceOrInsert(area)
	return area, nil
}

// findArea returns the vmarea containing virt, or nil.
func (vs *VMSpace) findArea(virt uintptr) *VMArea {
	var found *VMArea
	vs.areas.DescendLessOrEqual(&VMArea{Base: virt}, func(item *VMArea) bool {
		if item.Contains(virt) {
			found = item
		}
		return false
	})
	return found
}

func (vs *VMSpace) PageRoot() uintptr { return vs.pageRoot }
