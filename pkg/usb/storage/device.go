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

package storage

import (
	"sync"

	"ananas.dev/kernel/pkg/errno"
	"ananas.dev/kernel/pkg/klog"
	"ananas.dev/kernel/pkg/usb"
)

var log = klog.WithSubsystem("usb-storage")

const (
	reqGetMaxLun = 0xFE
	reqTypeClassInterfaceIn = 0xA1
)

// Device implements the USB mass-storage class over a pair of bulk
// pipes: PerformSCSIRequest drives the CBW -> data -> CSW exchange.
//
// It exposes its SCSI capability through GetSCSIDeviceOperations
// rather than implementing an interface directly, following the
// capability-set composition pattern: a caller that only has an
// Operations handle can probe for SCSI support and get nil if this
// concrete device doesn't back it.
type Device struct {
	bulkIn  *usb.Pipe
	bulkOut *usb.Pipe

	mu           sync.Mutex
	maxLun       uint8
	tag          uint32
	pendingTag   uint32
	outputBuffer []byte
	outputFilled int
	outputLen    int
	resultCh     chan error
}

func NewDevice(bulkIn, bulkOut *usb.Pipe) *Device {
	d := &Device{bulkIn: bulkIn, bulkOut: bulkOut}
	bulkIn.SetCompletion(d.onPipeInCallback)
	bulkOut.SetCompletion(d.onPipeOutCallback)
	return d
}

// Attach queries the device's max LUN over ctrl, defaulting to 0 if
// the device does not support the request (not all mass-storage
// devices implement GET_MAX_LUN).
func (d *Device) Attach(ctrl *usb.Pipe) error {
	req := ctrl.Transfer()
	req.Req = &usb.ControlRequest{RequestType: reqTypeClassInterfaceIn, Request: reqGetMaxLun, Length: 1}
	req.Length = 1
	done := make(chan struct{})
	ctrl.SetCompletion(func(t *usb.Transfer) { close(done) })
	if err := ctrl.Start(); err != nil {
		return nil // no MAX_LUN support: default to 0, matching the original's fallback
	}
	<-done
	if req.ResultLen == 1 && req.Flags()&usb.FlagError == 0 {
		d.mu.Lock()
		d.maxLun = req.Data[0]
		d.mu.Unlock()
	}
	return nil
}

func (d *Device) MaxLun() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLun
}

// GetSCSIDeviceOperations returns d itself: every storage.Device
// backs the SCSI capability. A generic device wrapper that only knows
// it has a storage.Device would call this instead of a type
// assertion, so absence (a device that doesn't support SCSI) can be
// represented by a nil-returning accessor without a panic-prone cast.
func (d *Device) GetSCSIDeviceOperations() *Device { return d }

// PerformSCSIRequest posts a CBW carrying cdb, waits for the data and
// status phases to complete, and validates the CSW. Only one request
// may be outstanding per device at a time; callers must serialize
// externally or via a higher-level per-device mutex, matching the
// original's single us_mutex covering the whole exchange.
func (d *Device) PerformSCSIRequest(lun uint8, dir usb.Direction, cdb [16]byte, cdbLen uint8, result []byte, resultLen int) error {
	d.mu.Lock()
	d.tag++
	tag := d.tag
	d.pendingTag = tag

	flags := uint8(0)
	if dir == usb.DirIn {
		flags = DirFlagIn
	}
	cbw := CBW{
		Signature:          CBWSignature,
		Tag:                tag,
		DataTransferLength: uint32(resultLen),
		Flags:              flags,
		LUN:                lun,
		CBLength:           cdbLen,
		CB:                 cdb,
	}

	d.outputBuffer = result
	d.outputFilled = 0
	d.outputLen = resultLen
	ch := make(chan error, 1)
	d.resultCh = ch

	out := d.bulkOut.Transfer()
	payload := cbw.Marshal()
	copy(out.Data, payload)
	out.Length = len(payload)
	d.mu.Unlock()

	if err := d.bulkOut.Start(); err != nil {
		return err
	}

	return <-ch
}

// onPipeInCallback handles data flowing device -> host: the first
// response(s) are the requested data, the last is the 13-byte CSW.
func (d *Device) onPipeInCallback(t *usb.Transfer) {
	d.mu.Lock()

	length := t.ResultLen
	if d.outputBuffer != nil {
		left := d.outputLen - d.outputFilled
		if length > left {
			length = left
		}
		copy(d.outputBuffer[d.outputFilled:], t.Data[:length])
		d.outputFilled += length
		left -= length
		if left == 0 {
			d.outputBuffer = nil
		}
		d.mu.Unlock()
		d.bulkIn.Start() // more data (or the CSW) still to arrive
		return
	}

	ch := d.resultCh
	var err error
	switch {
	case length != CSWLength:
		log.Warningf("usb-storage: invalid csw length (expected %d got %d)", CSWLength, length)
		err = errno.BadLength
	default:
		csw, ok := UnmarshalCSW(t.Data[:length])
		switch {
		case !ok:
			err = errno.IO
		case csw.Signature != CSWSignature:
			err = errno.IO
		case csw.Tag != d.pendingTag:
			err = errno.IO
		case csw.Status != StatusGood:
			log.Warningf("usb-storage: device rejected request: status %d", csw.Status)
			err = errno.IO
		}
	}
	d.resultCh = nil
	d.mu.Unlock()

	if ch != nil {
		ch <- err
	}
}

// onPipeOutCallback fires once the CBW has been sent. It unconditionally
// arms the bulk-in pipe, even for a nominally OUT-direction transfer
// with no data phase — kept faithfully from the original, which the
// open questions flag as possibly incorrect rather than resolved.
func (d *Device) onPipeOutCallback(t *usb.Transfer) {
	d.bulkIn.Start()
}
