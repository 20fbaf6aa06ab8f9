package vm

import (
	"testing"

	"ananas.dev/kernel/pkg/mdlayer"
)

type memBacking struct {
	key  string
	data []byte
}

func (m *memBacking) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.data[off:off+int64(len(p))]), nil
}

func (m *memBacking) InodeKey() any { return m.key }

func TestFileBackedFaultSharesPages(t *testing.T) {
	md := mdlayer.New()
	sp := NewSharedPages()

	backing := &memBacking{key: "file-1", data: make([]byte, 2*PageSize)}
	for i := 0; i < PageSize; i++ {
		backing.data[i] = 'A'
	}
	for i := PageSize; i < 2*PageSize; i++ {
		backing.data[i] = 'B'
	}

	vs1 := NewVMSpace(1)
	area1, err := vs1.MapArea(0x40000000, 2*PageSize, AreaRead|AreaUser|AreaLazy, backing, 0, int64(len(backing.data)))
	if err != nil {
		t.Fatalf("MapArea: %v", err)
	}

	if err := HandleFault(vs1, md, sp, area1.Base, AreaRead); err != nil {
		t.Fatalf("fault 1: %v", err)
	}
	p1 := area1.Pages()[0]
	if p1.Phys[0] != 'A' {
		t.Fatalf("page 1 byte 0 = %q, want 'A'", p1.Phys[0])
	}

	vs2 := NewVMSpace(2)
	area2, err := vs2.MapArea(0x60000000, 2*PageSize, AreaRead|AreaUser|AreaLazy, backing, 0, int64(len(backing.data)))
	if err != nil {
		t.Fatalf("MapArea 2: %v", err)
	}
	if err := HandleFault(vs2, md, sp, area2.Base, AreaRead); err != nil {
		t.Fatalf("fault 2: %v", err)
	}
	p2 := area2.Pages()[0]

	if &p1.Phys[0] != &p2.Phys[0] {
		t.Fatal("second address space mapping the same (inode, offset) should share the same physical frame, not copy it")
	}
}

func TestPrivateFaultCopies(t *testing.T) {
	md := mdlayer.New()
	sp := NewSharedPages()

	backing := &memBacking{key: "file-2", data: make([]byte, PageSize)}
	for i := range backing.data {
		backing.data[i] = 'A'
	}

	vs := NewVMSpace(1)
	area, err := vs.MapArea(0x40000000, PageSize, AreaRead|AreaUser|AreaLazy|AreaPrivate, backing, 0, int64(len(backing.data)))
	if err != nil {
		t.Fatalf("MapArea: %v", err)
	}
	if err := HandleFault(vs, md, sp, area.Base, AreaRead); err != nil {
		t.Fatalf("fault: %v", err)
	}
	p := area.Pages()[0]
	if p.Flags&PagePrivate == 0 {
		t.Fatal("private area fault should produce a private page")
	}
	if p.Phys[0] != 'A' {
		t.Fatalf("private page byte 0 = %q, want 'A'", p.Phys[0])
	}
}

func TestAnonymousFaultZeroed(t *testing.T) {
	md := mdlayer.New()
	sp := NewSharedPages()

	vs := NewVMSpace(1)
	area, err := vs.MapArea(0x50000000, PageSize, AreaRead|AreaWrite|AreaAlloc, nil, 0, 0)
	if err != nil {
		t.Fatalf("MapArea: %v", err)
	}
	if err := HandleFault(vs, md, sp, area.Base, AreaRead|AreaWrite); err != nil {
		t.Fatalf("fault: %v", err)
	}
	p := area.Pages()[0]
	if p.Phys[0] != 0 {
		t.Fatalf("anonymous page byte 0 = %d, want 0", p.Phys[0])
	}
}

func TestFaultOutsideAnyAreaFails(t *testing.T) {
	md := mdlayer.New()
	sp := NewSharedPages()
	vs := NewVMSpace(1)

	err := HandleFault(vs, md, sp, 0x12345000, AreaRead)
	if err == nil {
		t.Fatal("expected an error for a fault outside any vmarea")
	}
}

func TestFaultOnNonAllocAreaPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a fault in an area without Alloc/Lazy")
		}
	}()
	md := mdlayer.New()
	sp := NewSharedPages()
	vs := NewVMSpace(1)
	area, _ := vs.MapArea(0x70000000, PageSize, AreaRead, nil, 0, 0)
	HandleFault(vs, md, sp, area.Base, AreaRead)
}
