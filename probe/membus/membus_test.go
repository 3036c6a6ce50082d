// ARM MEM-AP memory bus
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package membus

import (
	"bytes"
	"testing"

	"github.com/fieldflash/swdprog/probe/swd"
)

// fakeTarget simulates a MEM-AP backed by a flat byte array, tracking CSW
// and TAR writes the way a real target would.
type fakeTarget struct {
	mem [16 * 1024]byte
	tar uint32
	csw uint32
}

func (f *fakeTarget) ReadAP(addr uint8) (uint32, error) {
	switch addr {
	case swd.AP_DRW:
		v := uint32(f.mem[f.tar]) | uint32(f.mem[f.tar+1])<<8 |
			uint32(f.mem[f.tar+2])<<16 | uint32(f.mem[f.tar+3])<<24
		f.tar += 4
		return v, nil
	case swd.AP_TAR:
		return f.tar, nil
	case swd.AP_CSW:
		return f.csw, nil
	}
	return 0, nil
}

func (f *fakeTarget) WriteAP(addr uint8, v uint32) error {
	switch addr {
	case swd.AP_DRW:
		f.mem[f.tar] = byte(v)
		f.mem[f.tar+1] = byte(v >> 8)
		f.mem[f.tar+2] = byte(v >> 16)
		f.mem[f.tar+3] = byte(v >> 24)
		f.tar += 4
	case swd.AP_TAR:
		f.tar = v
	case swd.AP_CSW:
		f.csw = v
	}
	return nil
}

func TestBusReadWriteU32(t *testing.T) {
	target := &fakeTarget{}
	bus := New(target)

	if err := bus.WriteU32(0x1000, 0xDEADBEEF); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}

	v, err := bus.ReadU32(0x1000)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if v != 0xDEADBEEF {
		t.Fatalf("ReadU32 = %#x, want 0xDEADBEEF", v)
	}
}

func TestBusReadWriteUnaligned(t *testing.T) {
	target := &fakeTarget{}
	bus := New(target)

	data := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	if err := bus.Write(0x1002, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := make([]byte, len(data))
	if err := bus.Read(0x1002, out); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if !bytes.Equal(out, data) {
		t.Fatalf("Read back %x, want %x", out, data)
	}
}

func TestBusWriteUnalignedPreservesNeighbors(t *testing.T) {
	target := &fakeTarget{}
	bus := New(target)

	if err := bus.WriteU32(0x2000, 0xAABBCCDD); err != nil {
		t.Fatalf("seed WriteU32: %v", err)
	}

	// Overwrite only the low byte of the word at 0x2000.
	if err := bus.Write(0x2000, []byte{0xFF}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	v, err := bus.ReadU32(0x2000)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if v != 0xAABBCCFF {
		t.Fatalf("ReadU32 = %#x, want 0xaabbccff", v)
	}
}

func TestBusRejectsUnalignedWordAccess(t *testing.T) {
	bus := New(&fakeTarget{})

	if _, err := bus.ReadU32(0x1001); err == nil {
		t.Fatal("expected an error for unaligned ReadU32")
	}
	if err := bus.WriteU32(0x1001, 0); err == nil {
		t.Fatal("expected an error for unaligned WriteU32")
	}
}
