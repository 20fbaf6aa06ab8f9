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

// Package storage implements USB mass-storage Bulk-Only Transport
// (BBB): CBW/CSW framing of SCSI commands on top of a pair of bulk
// pipes.
package storage

import "encoding/binary"

const (
	CBWSignature = 0x43425355
	CSWSignature = 0x53425355

	CBWLength = 31
	CSWLength = 13

	StatusGood        = 0x00
	StatusFailed      = 0x01
	StatusPhaseError  = 0x02

	DirFlagIn = 0x80
)

// CBW is the Command Block Wrapper, little-endian on the wire.
type CBW struct {
	Signature     uint32
	Tag           uint32
	DataTransferLength uint32
	Flags         uint8
	LUN           uint8
	CBLength      uint8
	CB            [16]byte
}

func (c *CBW) Marshal() []byte {
	b := make([]byte, CBWLength)
	binary.LittleEndian.PutUint32(b[0:4], c.Signature)
	binary.LittleEndian.PutUint32(b[4:8], c.Tag)
	binary.LittleEndian.PutUint32(b[8:12], c.DataTransferLength)
	b[12] = c.Flags
	b[13] = c.LUN
	b[14] = c.CBLength
	copy(b[15:31], c.CB[:])
	return b
}

// CSW is the Command Status Wrapper.
type CSW struct {
	Signature uint32
	Tag       uint32
	Residue   uint32
	Status    uint8
}

func UnmarshalCSW(b []byte) (CSW, bool) {
	if len(b) != CSWLength {
		return CSW{}, false
	}
	return CSW{
		Signature: binary.LittleEndian.Uint32(b[0:4]),
		Tag:       binary.LittleEndian.Uint32(b[4:8]),
		Residue:   binary.LittleEndian.Uint32(b[8:12]),
		Status:    b[12],
	}, true
}

// BuildCDB6 fills a 6-byte SCSI CDB's allocation-length field (offset
// 4) from resultLen, following the original's per-CDB-length patch.
func BuildCDB6(opcode byte, resultLen int) [16]byte {
	var cb [16]byte
	cb[0] = opcode
	cb[4] = byte(resultLen)
	return cb
}

// SCSI READ(10) opcode. READ(10) has no allocation-length field, so
// BuildCDB10 fills its transfer-length field with a count of 512-byte
// blocks rather than a byte count.
const CmdRead10 = 0x28

// BuildCDB10 fills a 10-byte CDB's LBA (offset 2..5) and its
// transfer-length field (offset 7..8): resultLen in bytes for most
// opcodes, resultLen/512 blocks for READ(10).
func BuildCDB10(opcode byte, lba uint32, resultLen int) [16]byte {
	var cb [16]byte
	cb[0] = opcode
	binary.BigEndian.PutUint32(cb[2:6], lba)
	if opcode != CmdRead10 {
		binary.BigEndian.PutUint16(cb[7:9], uint16(resultLen))
	} else {
		binary.BigEndian.PutUint16(cb[7:9], uint16(resultLen/512))
	}
	return cb
}
