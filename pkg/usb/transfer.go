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

// Package usb implements a UHCI-style USB host-controller transfer
// engine: frame-list scheduling of control and interrupt transfers
// built from Transfer Descriptor / Queue Head chains, and IRQ-driven
// deferred completion.
package usb

import (
	"sync"

	"ananas.dev/kernel/pkg/ilist"
)

// TransferType identifies the USB transfer type.
type TransferType int

const (
	Control TransferType = iota
	Interrupt
	Bulk
	Isochronous
)

// Direction is the data-phase direction of a transfer.
type Direction int

const (
	DirNone Direction = iota
	DirIn
	DirOut
)

// TransferFlag is a bitmask of transfer state flags.
type TransferFlag uint32

const (
	FlagPending TransferFlag = 1 << iota
	FlagError
	FlagRead
	FlagData
)

// ControlRequest is the 8-byte setup packet for a Control transfer.
type ControlRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Transfer is one USB request in flight, matching the data model's
// USB transfer object: it carries its own buffer, is queued on its
// owning device's pending list while Pending is set, and reports
// completion through complete.
type Transfer struct {
	ilist.Entry[*Transfer]

	Device     *Device
	Endpoint   int
	Dir        Direction
	Type       TransferType
	Data       []byte
	Length     int
	ResultLen  int
	Req        *ControlRequest
	flags      TransferFlag

	hcd *hcdState // QH/TD chain, private to the engine

	mu       sync.Mutex
	onComplete func(*Transfer)
}

func NewTransfer(dev *Device, ep int, dir Direction, typ TransferType, data []byte) *Transfer {
	return &Transfer{Device: dev, Endpoint: ep, Dir: dir, Type: typ, Data: data, Length: len(data)}
}

func (t *Transfer) SetCompletion(fn func(*Transfer)) {
	t.mu.Lock()
	t.onComplete = fn
	t.mu.Unlock()
}

func (t *Transfer) Flags() TransferFlag {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags
}

func (t *Transfer) setFlag(f TransferFlag) {
	t.mu.Lock()
	t.flags |= f
	t.mu.Unlock()
}

func (t *Transfer) clearFlag(f TransferFlag) {
	t.mu.Lock()
	t.flags &^= f
	t.mu.Unlock()
}

func (t *Transfer) hasFlag(f TransferFlag) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags&f != 0
}

// complete transitions the transfer out of Pending and invokes its
// completion callback. Called from the engine's IRQ path; the
// callback itself must not block and is permitted to re-arm the pipe
// (start a new transfer) from within the call.
func (t *Transfer) complete() {
	t.clearFlag(FlagPending)
	t.mu.Lock()
	cb := t.onComplete
	t.mu.Unlock()
	if cb != nil {
		cb(t)
	}
}
