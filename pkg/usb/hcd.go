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

package usb

import "ananas.dev/kernel/pkg/ilist"

// TD status bits, matching the UHCI Transfer Descriptor status word.
type TDStatus uint32

const (
	TDActive TDStatus = 1 << iota
	TDStalled
	TDDataBufErr
	TDBabble
	TDNAK
	TDCRCErr
	TDBitStuff
)

func (s TDStatus) isError() bool {
	return s&(TDStalled|TDDataBufErr|TDBabble|TDCRCErr|TDBitStuff) != 0
}

// PID identifies the packet type carried by a TD.
type PID int

const (
	PIDSetup PID = iota
	PIDIn
	PIDOut
)

// Toggle is the DATA0/DATA1 synchronization bit.
type Toggle int

const (
	Data0 Toggle = iota
	Data1
)

// TD is one UHCI Transfer Descriptor: a single packet in a chain.
type TD struct {
	ilist.Entry[*TD]

	PID       PID
	Toggle    Toggle
	MaxLen    int
	Data      []byte
	IOC       bool // interrupt-on-complete
	Status    TDStatus
	ActualLen int
}

// QH is a UHCI Queue Head: it points at the first TD of the chain
// currently scheduled on it.
type QH struct {
	Name    string
	Element *TD // first TD, nil when idle
}

// hcdState is the HCD-private blob a Transfer carries once
// SetupTransfer has run: the QH it was published on and the chain's
// first TD, mirroring xfer.hcd in the original driver.
type hcdState struct {
	qh      *QH
	firstTD *TD
}

// scheduledItem pairs a chain's first TD with its owning transfer, so
// the IRQ-completion walk can tell which transfers are done without
// consulting the transfer itself.
type scheduledItem struct {
	ilist.Entry[*scheduledItem]

	firstTD *TD
	xfer    *Transfer
}

// createDataTDs builds a chain of IN or OUT data-phase TDs, chunked
// by maxPacket and alternating DATA0/DATA1, linked from last chunk to
// first (built back-to-front so the caller can prepend a SETUP TD).
// tail is linked after the last (i.e. first-linked) TD; the function
// returns the head of the newly built data chain.
func createDataTDs(data []byte, dir Direction, maxPacket int, startToggle Toggle, tail *TD) *TD {
	pid := PIDIn
	if dir == DirOut {
		pid = PIDOut
	}

	if len(data) == 0 {
		return tail
	}

	n := (len(data) + maxPacket - 1) / maxPacket
	tds := make([]*TD, n)
	toggle := startToggle
	for i := 0; i < n; i++ {
		start := i * maxPacket
		end := start + maxPacket
		if end > len(data) {
			end = len(data)
		}
		tds[i] = &TD{PID: pid, Toggle: toggle, MaxLen: maxPacket, Data: data[start:end], Status: TDActive}
		if toggle == Data0 {
			toggle = Data1
		} else {
			toggle = Data0
		}
	}

	next := tail
	for i := n - 1; i >= 0; i-- {
		tds[i].SetNext(next)
		next = tds[i]
	}
	return next
}

// verifyChainAndCalculateLength walks a completed chain from first,
// summing actual transferred lengths and ORing together any error
// status bits, matching VerifyChainAndCalculateLength.
func verifyChainAndCalculateLength(first *TD) (length int, failed bool) {
	for td := first; td != nil; td = td.Next() {
		if td.PID != PIDSetup {
			length += td.ActualLen
		}
		if td.Status.isError() {
			failed = true
		}
	}
	return length, failed
}
