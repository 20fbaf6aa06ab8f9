package storage

import (
	"fmt"
	"runtime"
	"testing"

	"ananas.dev/kernel/pkg/mdlayer"
	"ananas.dev/kernel/pkg/usb"
)

func TestDebugTrace(t *testing.T) {
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
		cdb := BuildCDB6(0x00, 0)
		err := sdev.PerformSCSIRequest(0, usb.DirOut, cdb, 6, nil, 0)
		errCh <- err
	}()

	for i := 0; i < 5; i++ {
		runtime.Gosched()
		engine.OnIRQ()
		select {
		case err := <-errCh:
			fmt.Println("done at iter", i, "err", err)
			return
		default:
			fmt.Println("not done at iter", i)
		}
	}
	t.Fatal("request did not complete after draining OnIRQ")
}
