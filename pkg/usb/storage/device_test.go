package storage

import (
	"encoding/binary"
	"testing"

	"ananas.dev/kernel/pkg/mdlayer"
	"ananas.dev/kernel/pkg/usb"
)

// noDataResponder answers a zero-data-phase SCSI command (e.g. TEST
// UNIT READY): it remembers the CBW's tag on the OUT phase and hands
// back a matching, good-status CSW on the single bulk-in round trip
// that follows.
type noDataResponder struct{ tag uint32 }

func (r *noDataResponder) HandleTransfer(t *usb.Transfer) bool {
	if t.Dir == usb.DirOut {
		r.tag = binary.LittleEndian.Uint32(t.Data[4:8])
		return true
	}
	b := t.Data[:CSWLength]
	binary.LittleEndian.PutUint32(b[0:4], CSWSignature)
	binary.LittleEndian.PutUint32(b[4:8], r.tag)
	binary.LittleEndian.PutUint32(b[8:12], 0)
	b[12] = StatusGood
	return true
}

func TestPerformSCSIRequestNoDataCommand(t *testing.T) {
	md := mdlayer.New()
	engine := usb.NewEngine(md)
	dev := usb.NewDevice(1, 0)
	responder := &noDataResponder{}
	engine.RegisterResponder(dev, responder)

	bulkIn := usb.NewPipe(engine, dev, 1, usb.DirIn, usb.Bulk, CSWLength)
	bulkOut := usb.NewPipe(engine, dev, 2, usb.DirOut, usb.Bulk, CBWLength)
	sdev := NewDevice(bulkIn, bulkOut)

	errCh := make(chan error, 1)
	go func() {
		cdb := BuildCDB6(0x00, 0) // TEST UNIT READY
		errCh <- sdev.PerformSCSIRequest(0, usb.DirOut, cdb, 6, nil, 0)
	}()

	for i := 0; i < 5; i++ {
		engine.OnIRQ()
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("PerformSCSIRequest: %v", err)
			}
			return
		default:
		}
	}
	t.Fatal("request did not complete after draining OnIRQ")
}

func TestPerformSCSIRequestRejectsWrongTag(t *testing.T) {
	md := mdlayer.New()
	engine := usb.NewEngine(md)
	dev := usb.NewDevice(1, 0)

	// A responder that always answers with a stale tag, simulating a
	// device replying to the wrong outstanding command.
	responder := usbResponderFunc(func(t *usb.Transfer) bool {
		if t.Dir == usb.DirIn {
			b := t.Data[:CSWLength]
			binary.LittleEndian.PutUint32(b[0:4], CSWSignature)
			binary.LittleEndian.PutUint32(b[4:8], 0xDEADBEEF)
			b[12] = StatusGood
		}
		return true
	})
	engine.RegisterResponder(dev, responder)

	bulkIn := usb.NewPipe(engine, dev, 1, usb.DirIn, usb.Bulk, CSWLength)
	bulkOut := usb.NewPipe(engine, dev, 2, usb.DirOut, usb.Bulk, CBWLength)
	sdev := NewDevice(bulkIn, bulkOut)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sdev.PerformSCSIRequest(0, usb.DirOut, BuildCDB6(0x00, 0), 6, nil, 0)
	}()

	for i := 0; i < 5; i++ {
		engine.OnIRQ()
		select {
		case err := <-errCh:
			if err == nil {
				t.Fatal("expected a tag mismatch to surface as an error")
			}
			return
		default:
		}
	}
	t.Fatal("request did not complete after draining OnIRQ")
}

type usbResponderFunc func(*usb.Transfer) bool

func (f usbResponderFunc) HandleTransfer(t *usb.Transfer) bool { return f(t) }
