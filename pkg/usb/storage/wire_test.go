package storage

import "testing"

func TestCBWMarshalLayout(t *testing.T) {
	cbw := CBW{
		Signature:          CBWSignature,
		Tag:                0x11223344,
		DataTransferLength: 512,
		Flags:              DirFlagIn,
		LUN:                0,
		CBLength:           10,
	}
	b := cbw.Marshal()
	if len(b) != CBWLength {
		t.Fatalf("len(Marshal()) = %d, want %d", len(b), CBWLength)
	}
	if b[0] != 0x55 || b[1] != 0x53 || b[2] != 0x42 || b[3] != 0x43 {
		t.Fatalf("signature bytes = %x, want little-endian 0x43425355", b[0:4])
	}
	if b[4] != 0x44 || b[5] != 0x33 || b[6] != 0x22 || b[7] != 0x11 {
		t.Fatalf("tag bytes = %x, want little-endian 0x11223344", b[4:8])
	}
	if b[12] != DirFlagIn {
		t.Fatalf("flags byte = %#x, want %#x", b[12], DirFlagIn)
	}
}

func TestUnmarshalCSWRoundTrip(t *testing.T) {
	csw := CSW{Signature: CSWSignature, Tag: 7, Residue: 0, Status: StatusGood}
	b := make([]byte, CSWLength)
	b[0], b[1], b[2], b[3] = 0x55, 0x53, 0x42, 0x53
	b[4] = 7
	b[12] = StatusGood

	got, ok := UnmarshalCSW(b)
	if !ok {
		t.Fatal("UnmarshalCSW rejected a well-formed CSW")
	}
	if got != csw {
		t.Fatalf("UnmarshalCSW = %+v, want %+v", got, csw)
	}
}

func TestUnmarshalCSWRejectsWrongLength(t *testing.T) {
	if _, ok := UnmarshalCSW(make([]byte, 12)); ok {
		t.Fatal("UnmarshalCSW accepted a short buffer")
	}
}

func TestBuildCDB6PatchesAllocationLength(t *testing.T) {
	cb := BuildCDB6(0x12, 36)
	if cb[0] != 0x12 {
		t.Fatalf("opcode = %#x, want 0x12", cb[0])
	}
	if cb[4] != 36 {
		t.Fatalf("allocation length = %d, want 36", cb[4])
	}
}

func TestBuildCDB10Read10UsesSectorCount(t *testing.T) {
	cb := BuildCDB10(CmdRead10, 5, 1024)
	if cb[0] != CmdRead10 {
		t.Fatalf("opcode = %#x, want %#x", cb[0], CmdRead10)
	}
	lba := uint32(cb[2])<<24 | uint32(cb[3])<<16 | uint32(cb[4])<<8 | uint32(cb[5])
	if lba != 5 {
		t.Fatalf("lba = %d, want 5", lba)
	}
	sectors := uint16(cb[7])<<8 | uint16(cb[8])
	if sectors != 2 {
		t.Fatalf("sector count = %d, want 2 (1024/512)", sectors)
	}
}

func TestBuildCDB10NonReadUsesByteLength(t *testing.T) {
	cb := BuildCDB10(0x2A, 0, 512)
	length := uint16(cb[7])<<8 | uint16(cb[8])
	if length != 512 {
		t.Fatalf("transfer length = %d, want 512", length)
	}
}
