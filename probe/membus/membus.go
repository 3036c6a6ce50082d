// ARM MEM-AP memory bus
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package membus implements the target memory bus: 32-bit word access and
// bulk auto-increment transfers through the MEM-AP.
package membus

import (
	"encoding/binary"
	"fmt"

	"github.com/fieldflash/swdprog/probe/swd"
)

// CSW (Control/Status Word) fields used to configure 32-bit
// auto-incrementing transfers.
const (
	cswSize32         = 0x2
	cswAddrIncSingle  = 0x1 << 4
	cswDbgSwEnable    = 1 << 6
	cswHProt          = 1 << 25 // privileged access
	cswDefault        = cswSize32 | cswAddrIncSingle | cswDbgSwEnable | cswHProt
	tarWindowSize     = 1 << 10 // TAR auto-increment wraps within a 10-bit window
	tarWindowMask     = tarWindowSize - 1
)

// Transactor is the subset of swd.Transactor the memory bus depends on.
type Transactor interface {
	ReadAP(addr uint8) (uint32, error)
	WriteAP(addr uint8, v uint32) error
}

// Bus is the target memory bus, addressing the connected Cortex-M core's
// address space through a single MEM-AP.
type Bus struct {
	tr Transactor

	cswConfigured bool
	tar           uint32
	tarValid      bool
}

// New returns a Bus using tr for DP/AP access.
func New(tr Transactor) *Bus {
	return &Bus{tr: tr}
}

func (b *Bus) ensureCSW() error {
	if b.cswConfigured {
		return nil
	}
	if err := b.tr.WriteAP(swd.AP_CSW, cswDefault); err != nil {
		return fmt.Errorf("membus: configure CSW: %w", err)
	}
	b.cswConfigured = true
	return nil
}

// setTAR writes TAR only if addr differs from the last known value,
// either because this is the first access or because an auto-increment
// run crossed the TAR window.
func (b *Bus) setTAR(addr uint32) error {
	if b.tarValid && b.tar == addr {
		return nil
	}
	if err := b.tr.WriteAP(swd.AP_TAR, addr); err != nil {
		return fmt.Errorf("membus: set TAR: %w", err)
	}
	b.tar = addr
	b.tarValid = true
	return nil
}

// ReadU32 reads one 32-bit word at addr, which must be 4-byte aligned.
func (b *Bus) ReadU32(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, fmt.Errorf("membus: unaligned read at %#x", addr)
	}
	if err := b.ensureCSW(); err != nil {
		return 0, err
	}
	if err := b.setTAR(addr); err != nil {
		return 0, err
	}

	v, err := b.tr.ReadAP(swd.AP_DRW)
	if err != nil {
		return 0, fmt.Errorf("membus: read %#x: %w", addr, err)
	}

	b.tar += 4
	if b.tar&tarWindowMask == 0 {
		b.tarValid = false
	}

	return v, nil
}

// WriteU32 writes one 32-bit word at addr, which must be 4-byte aligned.
func (b *Bus) WriteU32(addr uint32, v uint32) error {
	if addr%4 != 0 {
		return fmt.Errorf("membus: unaligned write at %#x", addr)
	}
	if err := b.ensureCSW(); err != nil {
		return err
	}
	if err := b.setTAR(addr); err != nil {
		return err
	}

	if err := b.tr.WriteAP(swd.AP_DRW, v); err != nil {
		return fmt.Errorf("membus: write %#x: %w", addr, err)
	}

	b.tar += 4
	if b.tar&tarWindowMask == 0 {
		b.tarValid = false
	}

	return nil
}

// Read fills buf from addr onward using auto-incrementing word transfers,
// handling an unaligned leading/trailing partial word by reading the
// whole word and copying only the requested bytes into buf.
func (b *Bus) Read(addr uint32, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	base := addr &^ 3
	lead := int(addr - base)
	end := addr + uint32(len(buf))
	alignedEnd := (end + 3) &^ 3

	word := make([]byte, 4)
	out := 0

	for cur := base; cur < alignedEnd; cur += 4 {
		v, err := b.ReadU32(cur)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(word, v)

		start := 0
		if cur == base {
			start = lead
		}
		stop := 4
		if cur+4 > end {
			stop = int(end - cur)
		}

		out += copy(buf[out:], word[start:stop])
	}

	return nil
}

// Write sends buf to addr onward using auto-incrementing word transfers.
// Unaligned leading/trailing partial words are merged with a read of the
// existing target word first. Half-word flash programming (flash.Driver
// with a 2-byte ProgramWidth) writes 2-byte chunks and so goes through
// this merge path for every chunk.
func (b *Bus) Write(addr uint32, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	base := addr &^ 3
	lead := int(addr - base)
	end := addr + uint32(len(buf))
	alignedEnd := (end + 3) &^ 3

	in := 0

	for cur := base; cur < alignedEnd; cur += 4 {
		start := 0
		if cur == base {
			start = lead
		}
		stop := 4
		if cur+4 > end {
			stop = int(end - cur)
		}

		var word [4]byte
		if start != 0 || stop != 4 {
			existing, err := b.ReadU32(cur)
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint32(word[:], existing)
		}

		n := copy(word[start:stop], buf[in:])
		in += n

		if err := b.WriteU32(cur, binary.LittleEndian.Uint32(word[:])); err != nil {
			return err
		}
	}

	return nil
}
