// Memory-mapped UART driver
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package uart implements a driver for a memory-mapped UART controller,
// built on internal/reg's register primitives the same way the gpio
// package is, and satisfying console.Port directly: Tx blocks on a FIFO-full
// flag, Rx is non-blocking and reports whether a character was ready.
package uart

import (
	"fmt"

	"github.com/fieldflash/swdprog/internal/reg"
)

// Register offsets, relative to Base. The layout is a trimmed 8-N-1-only
// subset of a typical peripheral UART: data FIFOs, a control register with
// enable and TX/RX-enable bits, a status register exposing RX-ready,
// TX-full, frame-error and overrun, and a baud-rate divisor register.
const (
	rxdOffset  = 0x00
	txdOffset  = 0x04
	ctrlOffset = 0x08
	statOffset = 0x0c
	baudOffset = 0x10
)

const (
	ctrlEnable = 0 // UART enable
	ctrlTxen   = 1 // transmitter enable
	ctrlRxen   = 2 // receiver enable

	statRxReady  = 0
	statTxFull   = 1
	statFrameErr = 2
	statOverrun  = 3
)

// DefaultBaud is used when Config.Baud is left zero.
const DefaultBaud = 115200

// UART is one memory-mapped serial port instance.
type UART struct {
	// Base is the controller's register base address.
	Base uint32
	// ClockHz is the peripheral clock the baud-rate divisor is derived
	// from.
	ClockHz uint32
	// Baud is the target bit rate; DefaultBaud is used if zero.
	Baud uint32

	rxd, txd, ctrl, stat, baud uint32
}

// Init enables the UART for 8-N-1 operation at Baud (or DefaultBaud).
// Base and ClockHz must be set first.
func (hw *UART) Init() error {
	if hw.Base == 0 || hw.ClockHz == 0 {
		return fmt.Errorf("uart: invalid controller instance")
	}
	if hw.Baud == 0 {
		hw.Baud = DefaultBaud
	}

	hw.rxd = hw.Base + rxdOffset
	hw.txd = hw.Base + txdOffset
	hw.ctrl = hw.Base + ctrlOffset
	hw.stat = hw.Base + statOffset
	hw.baud = hw.Base + baudOffset

	reg.Write(hw.ctrl, 0)

	divisor := hw.ClockHz / hw.Baud
	reg.Write(hw.baud, divisor)

	reg.Set(hw.ctrl, ctrlTxen)
	reg.Set(hw.ctrl, ctrlRxen)
	reg.Set(hw.ctrl, ctrlEnable)

	return nil
}

func (hw *UART) txFull() bool {
	return reg.Get(hw.stat, statTxFull, 1) == 1
}

func (hw *UART) rxReady() bool {
	return reg.Get(hw.stat, statRxReady, 1) == 1
}

// Tx transmits one character, blocking until the transmit FIFO has room.
func (hw *UART) Tx(c byte) {
	for hw.txFull() {
	}
	reg.Write(hw.txd, uint32(c))
}

// Rx returns the next received character without blocking. A framing
// error or overrun is treated as no character available.
func (hw *UART) Rx() (c byte, valid bool) {
	if !hw.rxReady() {
		return 0, false
	}

	status := reg.Read(hw.stat)
	if status&(1<<statFrameErr) != 0 || status&(1<<statOverrun) != 0 {
		return 0, false
	}

	return byte(reg.Read(hw.rxd)), true
}
