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

package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"ananas.dev/kernel/pkg/mdlayer"
	"ananas.dev/kernel/pkg/usb"
	"ananas.dev/kernel/pkg/usb/storage"
)

// fakeStorageResponder answers bulk transfers for a trivial in-memory
// disk: the bulk-out phase delivers the CBW (its tag is captured for
// the CSW), then bulk-in delivers the disk's contents followed by a
// matching CSW, mimicking a one-block READ(10).
type fakeStorageResponder struct {
	disk    []byte
	lastTag uint32
	phase   int // 0 = data due next on bulk-in, 1 = csw due next
}

func (r *fakeStorageResponder) HandleTransfer(t *usb.Transfer) bool {
	if t.Dir == usb.DirOut {
		if t.Length >= 8 {
			r.lastTag = binary.LittleEndian.Uint32(t.Data[4:8])
		}
		r.phase = 0
		return true
	}

	switch r.phase {
	case 0:
		t.ResultLen = copy(t.Data, r.disk)
		r.phase = 1
	default:
		b := t.Data[:storage.CSWLength]
		binary.LittleEndian.PutUint32(b[0:4], storage.CSWSignature)
		binary.LittleEndian.PutUint32(b[4:8], r.lastTag)
		binary.LittleEndian.PutUint32(b[8:12], 0)
		b[12] = storage.StatusGood
		t.ResultLen = storage.CSWLength
		r.phase = 0
	}
	return true
}

type usbTraceCmd struct{}

func (*usbTraceCmd) Name() string     { return "usbtrace" }
func (*usbTraceCmd) Synopsis() string { return "drive the UHCI engine through a SCSI READ(10)" }
func (*usbTraceCmd) Usage() string    { return "usbtrace\n" }
func (*usbTraceCmd) SetFlags(*flag.FlagSet) {}

func (*usbTraceCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	md := mdlayer.New()
	engine := usb.NewEngine(md)

	root := usb.NewDevice(0, usb.DeviceRootHub)
	hub := usb.NewRootHub(2)
	engine.RegisterResponder(root, hub)

	dev := usb.NewDevice(1, 0)
	disk := make([]byte, 512)
	for i := range disk {
		disk[i] = byte(i)
	}
	engine.RegisterResponder(dev, &fakeStorageResponder{disk: disk})

	bulkIn := usb.NewPipe(engine, dev, 1, usb.DirIn, usb.Bulk, 512)
	bulkOut := usb.NewPipe(engine, dev, 2, usb.DirOut, usb.Bulk, 64)
	sdev := storage.NewDevice(bulkIn, bulkOut)

	// One goroutine drives the SCSI request itself, another supervises
	// IRQ delivery until the request settles; errgroup ties their
	// lifetimes together and surfaces whichever error, if any, the
	// request goroutine returns.
	done := make(chan struct{})
	var eg errgroup.Group
	eg.Go(func() error {
		defer close(done)
		buf := make([]byte, 512)
		cdb := storage.BuildCDB10(storage.CmdRead10, 0, len(buf))
		return sdev.PerformSCSIRequest(0, usb.DirIn, cdb, 10, buf, len(buf))
	})
	eg.Go(func() error {
		for {
			select {
			case <-done:
				return nil
			default:
				engine.OnIRQ()
			}
		}
	})

	if err := eg.Wait(); err != nil {
		fmt.Println("scsi request failed:", err)
		return subcommands.ExitFailure
	}
	fmt.Println("scsi READ(10) completed successfully")
	return subcommands.ExitSuccess
}
