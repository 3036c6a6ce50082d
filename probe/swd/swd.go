// Bit-banged SWD transport
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package swd implements the ARM ADIv5 Serial Wire Debug line protocol
// and the typed DP/AP transaction layer built on top of it, bit-banged
// over a probe.Pins instance.
package swd

import (
	"errors"
	"fmt"

	"github.com/fieldflash/swdprog/probe"
)

// Ack is a 3-bit SWD acknowledge code.
type Ack byte

const (
	AckOK    Ack = 0b001
	AckWait  Ack = 0b010
	AckFault Ack = 0b100
)

// maxWaitRetries bounds the number of times transact retries a request
// that comes back WAIT.
const maxWaitRetries = 64

// ErrProtocol is returned when the 3-bit ACK field does not match any of
// OK/WAIT/FAULT; the engine forces a line reset before returning it.
var ErrProtocol = errors.New("swd: protocol error (invalid ack)")

// ErrFault is returned when the target acknowledges FAULT. The engine
// itself does not clear the fault; Transactor writes DP.ABORT to clear
// the sticky error flags before passing ErrFault on.
var ErrFault = errors.New("swd: target fault")

// ErrWaitTimeout is returned when a request still comes back WAIT after
// maxWaitRetries attempts.
var ErrWaitTimeout = errors.New("swd: wait retry limit exceeded")

// ErrParity is returned when a read transaction's 32-bit payload fails
// its even-parity check.
var ErrParity = errors.New("swd: parity error")

// Engine drives the two-wire SWD line protocol: bit framing, the line
// reset sequence, and the request/ack/payload transaction shape. It has
// no notion of DP/AP register semantics; that is layered on top by
// Transactor.
type Engine struct {
	pins *probe.Pins
}

// NewEngine returns an Engine driving pins. pins.Init must already have
// been called.
func NewEngine(pins *probe.Pins) *Engine {
	return &Engine{pins: pins}
}

func (e *Engine) clockLow() {
	e.pins.SetClk(probe.Low)
	e.pins.Tick()
}

func (e *Engine) clockHigh() {
	e.pins.SetClk(probe.High)
	e.pins.Tick()
}

// writeBit drives one bit on IO, toggling CLK low then high around it.
// Outputs change on the falling edge.
func (e *Engine) writeBit(b probe.Level) {
	e.pins.SetClk(probe.Low)
	e.pins.SetIO(b)
	e.pins.Tick()
	e.pins.SetClk(probe.High)
	e.pins.Tick()
}

// readBit samples IO after the rising edge.
func (e *Engine) readBit() probe.Level {
	e.pins.SetClk(probe.Low)
	e.pins.Tick()
	e.pins.SetClk(probe.High)
	b := e.pins.ReadIO()
	e.pins.Tick()
	return b
}

// writeByte writes b LSB-first.
func (e *Engine) writeByte(b byte) {
	for i := 0; i < 8; i++ {
		e.writeBit(probe.Level((b>>uint(i))&1 == 1))
	}
}

// readByte reads one byte LSB-first.
func (e *Engine) readByte() byte {
	var b byte
	for i := 0; i < 8; i++ {
		if e.readBit() == probe.High {
			b |= 1 << uint(i)
		}
	}
	return b
}

// turnaround spends one clock with IO direction settled to newDir.
func (e *Engine) turnaround(newDir probe.Direction) {
	e.pins.SetIODir(newDir)
	e.clockLow()
	e.clockHigh()
}

// LineReset drives the SWD line-reset sequence: at least 50 cycles of
// IO high, followed by the 16-bit JTAG-to-SWD selection sequence 0xE79E
// transmitted LSB-first, followed by a further line-reset (>=50 cycles
// high) and an idle cycle low. This selection sequence is accepted by
// both legacy JTAG-capable debug ports and always-SWD-only ports, where
// the reverse is not guaranteed.
func (e *Engine) LineReset() {
	e.pins.SetIODir(probe.Output)

	for i := 0; i < 50; i++ {
		e.writeBit(probe.High)
	}

	// JTAG-to-SWD sequence 0xE79E, LSB-first over 16 bits.
	const jtagToSWD = uint16(0xE79E)
	for i := 0; i < 16; i++ {
		e.writeBit(probe.Level((jtagToSWD>>uint(i))&1 == 1))
	}

	for i := 0; i < 50; i++ {
		e.writeBit(probe.High)
	}

	// Idle cycle.
	e.writeBit(probe.Low)
}

// request byte field positions, transmitted LSB-first:
// start, APnDP, RnW, A[2], A[3], parity, stop(0), park(1).
func encodeRequest(apndp bool, rnw bool, addr uint8) byte {
	a2 := (addr >> 2) & 1
	a3 := (addr >> 3) & 1

	var parityBits int
	if apndp {
		parityBits++
	}
	if rnw {
		parityBits++
	}
	parityBits += int(a2) + int(a3)

	var b byte
	b |= 1 << 0 // start
	if apndp {
		b |= 1 << 1
	}
	if rnw {
		b |= 1 << 2
	}
	b |= a2 << 3
	b |= a3 << 4
	if parityBits%2 != 0 {
		b |= 1 << 5 // even parity bit
	}
	// bit 6 (stop) = 0, bit 7 (park) = 1
	b |= 1 << 7

	return b
}

func evenParity32(v uint32) bool {
	p := v
	p ^= p >> 16
	p ^= p >> 8
	p ^= p >> 4
	p ^= p >> 2
	p ^= p >> 1
	return p&1 == 1
}

// transact runs one SWD transaction: it drives the request byte, reads
// the 3-bit ACK, and on OK either writes or reads the 33-bit payload
// (32 data bits + 1 even-parity bit). For a write, *word is the value
// to send; for a read, *word receives the value.
func (e *Engine) transact(apndp bool, rnw bool, addr uint8, word *uint32) (Ack, error) {
	req := encodeRequest(apndp, rnw, addr)

	for attempt := 0; attempt < maxWaitRetries; attempt++ {
		e.pins.SetIODir(probe.Output)
		e.writeByte(req)

		e.turnaround(probe.Input)

		var ackBits byte
		for i := 0; i < 3; i++ {
			if e.readBit() == probe.High {
				ackBits |= 1 << uint(i)
			}
		}
		ack := Ack(ackBits)

		switch ack {
		case AckOK:
			if rnw {
				var data uint32
				var parityBit bool
				for i := 0; i < 32; i++ {
					if e.readBit() == probe.High {
						data |= 1 << uint(i)
					}
				}
				parityBit = e.readBit() == probe.High

				e.turnaround(probe.Output)
				e.clockLow() // idle

				if parityBit != evenParity32(data) {
					return ack, ErrParity
				}

				*word = data
				return ack, nil
			}

			e.turnaround(probe.Output)

			data := *word
			for i := 0; i < 32; i++ {
				e.writeBit(probe.Level((data>>uint(i))&1 == 1))
			}
			e.writeBit(probe.Level(evenParity32(data)))

			e.clockLow() // idle
			return ack, nil

		case AckWait:
			e.turnaround(probe.Output)
			e.clockLow() // idle before retrying
			continue

		case AckFault:
			e.turnaround(probe.Output)
			e.clockLow() // idle
			return ack, ErrFault

		default:
			e.LineReset()
			return ack, ErrProtocol
		}
	}

	return AckWait, ErrWaitTimeout
}

func (e Ack) String() string {
	switch e {
	case AckOK:
		return "OK"
	case AckWait:
		return "WAIT"
	case AckFault:
		return "FAULT"
	default:
		return fmt.Sprintf("invalid(%#03b)", byte(e))
	}
}
