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
	"ananas.dev/kernel/pkg/errno"
	"ananas.dev/kernel/pkg/klog"
	"ananas.dev/kernel/pkg/mdlayer"
)

var log = klog.WithSubsystem("vm")

// HandleFault resolves a page fault at virt within vs, following the
// file-backed and anonymous branches of the original fault handler.
//
// Panics (via klog.Fatalf) when the faulting address falls in an area
// without Alloc or Lazy set (the fault should never have happened),
// and when a file-backed page fill returns fewer than PageSize bytes
// (a short read is treated as an impossible condition, not a
// recoverable error, per the resolved open question).
func HandleFault(vs *VMSpace, md *mdlayer.MD, sp *SharedPages, virt uintptr, access AreaFlag) error {
	area := vs.findArea(virt)
	if area == nil {
		return errno.BadAddress
	}
	if !area.hasFlag(AreaAlloc) && !area.hasFlag(AreaLazy) {
		klog.Fatalf("vm: fault at %#x in area without Alloc/Lazy (flags=%v)", virt, area.Flags)
	}

	vpage := virt &^ (PageSize - 1)
	var newPage *VMPage

	readOff := int64(vpage-area.Base) + area.DOffset
	fileBacked := area.Backing != nil && readOff < area.DLength

	if fileBacked {
		shared := sp.lookupOrCreate(area.Backing.InodeKey(), readOff)
		shared.Lock()
		if shared.Flags&PagePending != 0 {
			frame := make([]byte, PageSize)
			n, err := area.Backing.ReadAt(frame, readOff)
			if err != nil || n != PageSize {
				shared.Unlock()
				klog.Fatalf("vm: short read filling page at offset %d (got %d of %d): %v", readOff, n, PageSize, err)
			}
			shared.Phys = frame
			shared.Flags &^= PagePending
		}

		wholePage := readOff+PageSize <= area.DLength
		if wholePage && !area.hasFlag(AreaPrivate) {
			newPage = link(shared, vpage)
		} else {
			newPage = copyFrom(shared, vpage)
		}
		shared.Unlock()
	} else {
		newPage = newAnonymous(vpage)
	}

	area.appendPage(newPage)
	if err := md.MapPages(vs.pageRoot, vpage, vpage, 1, int(area.Flags)); err != nil {
		return err
	}
	log.Debugf("vm: fault at %#x resolved (private=%v shared=%v)", virt,
		newPage.Flags&PagePrivate != 0, newPage.Flags&PageShared != 0)
	return nil
}
