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

	"ananas.dev/kernel/pkg/errno"
	"ananas.dev/kernel/pkg/ilist"
	"ananas.dev/kernel/pkg/klog"
	"ananas.dev/kernel/pkg/mdlayer"
)

var log = klog.WithSubsystem("usb")

const (
	FrameListSize   = 1024
	NumIntervalQHs  = 6 // periods 1,2,4,8,16,32 ms
	DefaultMaxPacket = 8
)

// UHCI register bits, per the register map: USBCMD{Run, HCReset,
// GReset, MAXP}; USBSTS{USBInt, HCPE, HSE, HCHalted}.
const (
	usbcmdRun     = 0x1
	usbcmdHCReset = 0x2
	usbcmdGReset  = 0x4
	usbcmdMAXP    = 0x80

	usbstsUSBInt   = 0x1
	usbstsHCPE     = 0x8
	usbstsHSE      = 0x10
	usbstsHCHalted = 0x20
)

// Responder answers a transfer submitted against a device, standing
// in for real silicon: it fills IN data, consumes OUT data, and
// reports success. RootHub and the storage backend used by tests both
// implement it.
type Responder interface {
	HandleTransfer(t *Transfer) (ok bool)
}

// Engine is one UHCI-style host controller: the frame list, the
// periodic interrupt/control/bulk QH lattice, and the scheduled-item
// list drained by OnIRQ.
type Engine struct {
	md *mdlayer.MD

	mu          sync.Mutex
	frameList   [FrameListSize]*QH
	interruptQH [NumIntervalQHs]*QH
	lsControlQH *QH
	fsControlQH *QH
	bulkQH      *QH
	scheduled   ilist.List[*scheduledItem]

	usbcmd uint16
	usbsts uint16

	responders map[*Device]Responder
}

func NewEngine(md *mdlayer.MD) *Engine {
	e := &Engine{md: md, responders: make(map[*Device]Responder), usbcmd: usbcmdRun | usbcmdMAXP}
	e.buildLattice()
	return e
}

// buildLattice creates the six interrupt QHs and the ls-control,
// fs-control and bulk QHs, and populates the frame list: frame i
// points at interrupt QH bucketForFrame(i), so bucket k (k < 5) is
// entered every 2^(k+1) frames and bucket 5 every 32 frames. QH has
// no horizontal link pointer, so the interrupt[k] -> interrupt[k-1]
// -> ls-control -> fs-control -> bulk chain is not built, and every
// interrupt transfer is published on interrupt[0].
func (e *Engine) buildLattice() {
	for k := 0; k < NumIntervalQHs; k++ {
		e.interruptQH[k] = &QH{Name: intervalName(k)}
	}
	// interrupt[k] -> interrupt[k-1] -> ls-control -> fs-control ->
	// bulk -> terminator is the horizontal lattice topology; the
	// engine itself walks scheduled items directly rather than
	// literal QH horizontal pointers, since there is no real
	// hardware polling the frame list here.
	e.lsControlQH = &QH{Name: "ls-control"}
	e.fsControlQH = &QH{Name: "fs-control"}
	e.bulkQH = &QH{Name: "bulk"}

	for i := 0; i < FrameListSize; i++ {
		bucket := bucketForFrame(i)
		e.frameList[i] = e.interruptQH[bucket]
	}
}

func intervalName(k int) string {
	names := [NumIntervalQHs]string{"interrupt-1ms", "interrupt-2ms", "interrupt-4ms", "interrupt-8ms", "interrupt-16ms", "interrupt-32ms"}
	return names[k]
}

// bucketForFrame returns which of the 6 periodic buckets frame i
// belongs to, by counting trailing zero bits of i+1 (capped at 5).
func bucketForFrame(i int) int {
	v := i + 1
	b := 0
	for b < NumIntervalQHs-1 && v&1 == 0 {
		v >>= 1
		b++
	}
	return b
}

// RegisterResponder installs the fake-hardware backend that answers
// transfers submitted against dev.
func (e *Engine) RegisterResponder(dev *Device, r Responder) {
	e.mu.Lock()
	e.responders[dev] = r
	e.mu.Unlock()
}

// SetupTransfer allocates the HCD-private chain state for xfer.
func (e *Engine) SetupTransfer(xfer *Transfer) {
	xfer.hcd = &hcdState{}
}

// TearDownTransfer removes xfer from its device's pending list if
// still pending. TD reclamation is implicit: Go's GC frees the chain
// once nothing references it.
func (e *Engine) TearDownTransfer(xfer *Transfer) {
	e.CancelTransfer(xfer)
}

// CancelTransfer is a no-op if xfer is not Pending; otherwise it
// removes it from the device's pending list and clears Pending.
func (e *Engine) CancelTransfer(xfer *Transfer) {
	if !xfer.hasFlag(FlagPending) {
		return
	}
	xfer.Device.removePending(xfer)
	xfer.clearFlag(FlagPending)
}

// ScheduleTransfer submits xfer: it is marked Pending and appended to
// its device's pending list before dispatch. Root-hub transfers are
// answered synchronously by the root-hub emulator. Control, Interrupt
// and Bulk transfers build a TD chain and register a scheduled item
// for OnIRQ to complete; Isochronous is Unsupported.
func (e *Engine) ScheduleTransfer(xfer *Transfer) error {
	xfer.setFlag(FlagPending)
	xfer.Device.addPending(xfer)

	if xfer.Device.IsRootHub() {
		e.runResponder(xfer)
		xfer.Device.removePending(xfer)
		xfer.complete()
		return nil
	}

	switch xfer.Type {
	case Control:
		return e.scheduleControl(xfer)
	case Interrupt:
		return e.scheduleInterrupt(xfer)
	case Bulk:
		return e.scheduleBulk(xfer)
	default:
		xfer.Device.removePending(xfer)
		xfer.clearFlag(FlagPending)
		return errno.Unsupported
	}
}

// scheduleControl builds the chain in reverse: HANDSHAKE (opposite
// direction, IOC, DATA1) built first, then DATA TDs prepended
// (alternating toggle, chunked by max packet), then a SETUP TD
// (PID=SETUP, DATA0) prepended in front of all of it.
func (e *Engine) scheduleControl(xfer *Transfer) error {
	if xfer.hcd == nil {
		e.SetupTransfer(xfer)
	}

	handshakePID := PIDOut
	if xfer.Dir == DirOut {
		handshakePID = PIDIn
	}
	handshake := &TD{PID: handshakePID, Toggle: Data1, IOC: true, Status: TDActive}

	dataHead := createDataTDs(xfer.Data[:xfer.Length], xfer.Dir, DefaultMaxPacket, Data0, handshake)

	setup := &TD{PID: PIDSetup, Toggle: Data0, Status: TDActive, Data: encodeSetup(xfer.Req)}
	setup.SetNext(dataHead)

	xfer.hcd.firstTD = setup

	e.mu.Lock()
	qh := e.fsControlQH
	if xfer.Device.LowSpeed {
		qh = e.lsControlQH
	}
	qh.Element = setup
	xfer.hcd.qh = qh
	e.mu.Unlock()

	e.runResponder(xfer)
	e.registerScheduled(setup, xfer)
	return nil
}

// scheduleInterrupt builds a data-only chain; the last TD gets IOC.
func (e *Engine) scheduleInterrupt(xfer *Transfer) error {
	if xfer.hcd == nil {
		e.SetupTransfer(xfer)
	}

	terminal := &TD{PID: pidFor(xfer.Dir), Toggle: Data1, IOC: true, Status: TDActive, MaxLen: DefaultMaxPacket}
	head := createDataTDs(xfer.Data[:xfer.Length], xfer.Dir, DefaultMaxPacket, Data0, nil)
	if head == nil {
		head = terminal
	} else {
		last := head
		for last.Next() != nil {
			last = last.Next()
		}
		last.SetNext(terminal)
	}

	xfer.hcd.firstTD = head

	e.mu.Lock()
	e.interruptQH[0].Element = head
	xfer.hcd.qh = e.interruptQH[0]
	e.mu.Unlock()

	e.runResponder(xfer)
	e.registerScheduled(head, xfer)
	return nil
}

// scheduleBulk builds a data-only chain like scheduleInterrupt but
// publishes it into the bulk QH with no periodic guarantee. Bulk
// transport is not named in the original driver's periodic lattice
// discussion, but USB mass storage's CBW/CSW exchange is built
// directly on top of bulk pipes, so the engine must be able to
// schedule it; this mirrors the interrupt path structurally.
func (e *Engine) scheduleBulk(xfer *Transfer) error {
	if xfer.hcd == nil {
		e.SetupTransfer(xfer)
	}

	terminal := &TD{PID: pidFor(xfer.Dir), Toggle: Data1, IOC: true, Status: TDActive, MaxLen: DefaultMaxPacket}
	head := createDataTDs(xfer.Data[:xfer.Length], xfer.Dir, DefaultMaxPacket, Data0, nil)
	if head == nil {
		head = terminal
	} else {
		last := head
		for last.Next() != nil {
			last = last.Next()
		}
		last.SetNext(terminal)
	}

	xfer.hcd.firstTD = head

	e.mu.Lock()
	e.bulkQH.Element = head
	xfer.hcd.qh = e.bulkQH
	e.mu.Unlock()

	e.runResponder(xfer)
	e.registerScheduled(head, xfer)
	return nil
}

func pidFor(dir Direction) PID {
	if dir == DirOut {
		return PIDOut
	}
	return PIDIn
}

func (e *Engine) registerScheduled(firstTD *TD, xfer *Transfer) {
	e.mu.Lock()
	e.scheduled.PushBack(nil, &scheduledItem{firstTD: firstTD, xfer: xfer})
	e.usbsts |= usbstsUSBInt
	e.mu.Unlock()
}

// runResponder executes the transfer against its device's registered
// Responder (if any), filling TD statuses/actual lengths so the
// subsequent OnIRQ walk observes a finished chain. This stands in for
// the asynchronous work real silicon would perform between submission
// and the completion interrupt.
func (e *Engine) runResponder(xfer *Transfer) {
	e.mu.Lock()
	r := e.responders[xfer.Device]
	e.mu.Unlock()

	ok := true
	if r != nil {
		ok = r.HandleTransfer(xfer)
	}

	if xfer.hcd == nil {
		return
	}
	// The responder has already filled xfer.Data in place for IN
	// transfers; TD.Data slices alias that same backing array, so
	// each data TD's actual length is simply its own slice length.
	for td := xfer.hcd.firstTD; td != nil; td = td.Next() {
		td.ActualLen = len(td.Data)
		if !ok {
			td.Status |= TDStalled
		}
		td.Status &^= TDActive
	}
}

// OnIRQ reads and writes back USBSTS to acknowledge it, diagnoses
// HCHalted/HCPE/HSE, and, if USBInt was latched, walks the
// scheduled-item list completing every transfer whose first TD is no
// longer Active. The walk runs under the engine lock, captures each
// item's successor before removing it, and only collects finished
// items; their completion callbacks run after the walk, with the lock
// released, so a callback re-arming a pipe (which appends a new
// scheduled item) cannot disturb the walk.
func (e *Engine) OnIRQ() {
	e.mu.Lock()
	stat := e.usbsts
	e.usbsts = 0
	e.mu.Unlock()

	if stat&usbstsHCHalted != 0 {
		log.Warningf("usb: host controller halted")
	}
	if stat&usbstsHCPE != 0 {
		log.Warningf("usb: host controller process error")
	}
	if stat&usbstsHSE != 0 {
		klog.Fatalf("usb: host system error")
	}
	if stat&usbstsUSBInt == 0 {
		return
	}

	e.mu.Lock()
	var done []*scheduledItem
	e.scheduled.EachSafe(nil, func(item *scheduledItem) {
		if item.firstTD.Status&TDActive != 0 {
			return
		}
		e.scheduled.Remove(nil, item)
		done = append(done, item)
	})
	e.mu.Unlock()

	for _, item := range done {
		length, failed := verifyChainAndCalculateLength(item.firstTD)
		item.xfer.ResultLen = length
		if failed {
			item.xfer.setFlag(FlagError)
			log.Warningf("usb: transfer on device %d completed with error", item.xfer.Device.Address)
		}
		item.xfer.Device.removePending(item.xfer)
		item.xfer.complete()
	}
}

func encodeSetup(req *ControlRequest) []byte {
	if req == nil {
		return make([]byte, 8)
	}
	b := make([]byte, 8)
	b[0] = req.RequestType
	b[1] = req.Request
	b[2] = byte(req.Value)
	b[3] = byte(req.Value >> 8)
	b[4] = byte(req.Index)
	b[5] = byte(req.Index >> 8)
	b[6] = byte(req.Length)
	b[7] = byte(req.Length >> 8)
	return b
}
