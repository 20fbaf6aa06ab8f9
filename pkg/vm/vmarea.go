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

import "ananas.dev/kernel/pkg/ilist"

// AreaFlag is a bitmask of vmarea permission/behavior flags.
type AreaFlag uint32

const (
	AreaRead AreaFlag = 1 << iota
	AreaWrite
	AreaExec
	AreaUser
	AreaPrivate
	AreaLazy
	AreaAlloc
)

// Backing describes the file slice a vmarea maps, when it is not a
// purely anonymous mapping. InodeKey must be a comparable value
// stable for the lifetime of the backing inode, used to identify
// shared pages.
type Backing interface {
	ReadAt(p []byte, off int64) (int, error)
	InodeKey() any
}

// VMArea is a contiguous virtual range within a VMSpace, with uniform
// permissions and an optional file backing.
type VMArea struct {
	Base  uintptr
	Len   uintptr
	Flags AreaFlag

	Backing Backing
	DOffset int64
	DLength int64

	pages ilist.List[*VMPage]
}

func (a *VMArea) Contains(va uintptr) bool {
	return va >= a.Base && va < a.Base+a.Len
}

func (a *VMArea) hasFlag(f AreaFlag) bool { return a.Flags&f != 0 }

func (a *VMArea) appendPage(p *VMPage) {
	a.pages.PushBack(nil, p)
}

// Pages returns the area's instantiated pages, most-recently-appended
// last.
func (a *VMArea) Pages() []*VMPage {
	var out []*VMPage
	a.pages.Each(nil, func(p *VMPage) { out = append(out, p) })
	return out
}
