// Programming session configuration
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package program

// EraseMode selects how Session clears flash before programming.
type EraseMode int

const (
	// MassErase wipes the whole chip in one operation. Default.
	MassErase EraseMode = iota
	// RangeErase erases every page from the lowest to the highest
	// address the image's write units touch, determined by a pre-scan of
	// the HEX image before programming begins. Pages in gaps between
	// write units inside that span are erased too.
	RangeErase
)

// Config holds the session parameters a board wires up at startup: write-
// unit granularity, erase strategy, and the serial baud rate. The pin
// assignment triple lives in the probe.Pins the board constructs
// directly, not here, since it is consumed once at NewSession and never
// re-read.
type Config struct {
	// UnitSize is the write-unit size hex.Assembler coalesces Data
	// records into; zero selects hex.DefaultUnitSize.
	UnitSize uint32
	// EraseMode selects MassErase or RangeErase.
	EraseMode EraseMode
	// Baud is the console UART's bit rate; zero selects the UART
	// driver's own default.
	Baud uint32
}
