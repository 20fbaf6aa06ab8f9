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

import (
	"sync"

	"ananas.dev/kernel/pkg/ilist"
)

// DeviceFlag is a bitmask of device flags.
type DeviceFlag uint32

const (
	DeviceRootHub DeviceFlag = 1 << iota
)

// Operations is the base capability every attached device exposes.
// Additional capabilities (e.g. SCSI) are queried through typed
// accessor methods on the concrete device type, per the capability-
// set composition pattern: a caller checks for nil rather than a type
// switch or interface assertion.
type Operations interface {
	Attach() error
}

// Device is one USB device attached to the controller: an address, a
// flag set, and the list of transfers currently Pending against it.
type Device struct {
	Address  int
	Flags    DeviceFlag
	LowSpeed bool

	mu      sync.Mutex
	pending ilist.List[*Transfer]

	Ops Operations
}

func NewDevice(addr int, flags DeviceFlag) *Device {
	return &Device{Address: addr, Flags: flags}
}

func (d *Device) IsRootHub() bool { return d.Flags&DeviceRootHub != 0 }

func (d *Device) addPending(t *Transfer) {
	d.mu.Lock()
	d.pending.PushBack(nil, t)
	d.mu.Unlock()
}

func (d *Device) removePending(t *Transfer) {
	d.mu.Lock()
	d.pending.Remove(nil, t)
	d.mu.Unlock()
}

// Pipe binds a device+endpoint+direction to a reusable Transfer,
// modeling the "pipe owns one completion receiver" design note: a
// pipe holds a single Transfer it repeatedly re-submits via Start.
type Pipe struct {
	Device   *Device
	Endpoint int
	Dir      Direction
	Type     TransferType

	engine *Engine
	xfer   *Transfer
}

func NewPipe(engine *Engine, dev *Device, ep int, dir Direction, typ TransferType, bufLen int) *Pipe {
	p := &Pipe{Device: dev, Endpoint: ep, Dir: dir, Type: typ, engine: engine}
	p.xfer = NewTransfer(dev, ep, dir, typ, make([]byte, bufLen))
	return p
}

// Transfer returns the pipe's reusable transfer, for callers that
// need to inspect or refill its buffer before Start.
func (p *Pipe) Transfer() *Transfer { return p.xfer }

// SetCompletion installs the completion callback fired every time
// this pipe's transfer completes.
func (p *Pipe) SetCompletion(fn func(*Transfer)) {
	p.xfer.SetCompletion(fn)
}

// Start (re-)submits the pipe's transfer to the engine.
func (p *Pipe) Start() error {
	return p.engine.ScheduleTransfer(p.xfer)
}
