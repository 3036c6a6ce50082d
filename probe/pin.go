// Bit-banged SWD pin driver
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package probe implements the bit-bang pin driver (CLK, IO, RST) that
// the SWD transport and DP/AP transaction layer in probe/swd run over.
package probe

import "time"

// Level is a digital pin level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Direction is the configuration of the bidirectional IO pin.
type Direction int

const (
	// Output drives the pin; the probe writes to the target.
	Output Direction = iota
	// Input samples the pin; the probe reads from the target.
	Input
)

// Pin is the minimal digital pin contract the probe needs from the host
// GPIO controller. gpio.Pin satisfies it; so does any test fake.
type Pin interface {
	Out()
	In()
	High()
	Low()
	Value() bool
}

// Pins owns the three GPIO pins exclusively for the lifetime of a
// programming session: CLK and RST are always driven, IO flips direction
// per transaction phase.
type Pins struct {
	Clk Pin
	IO  Pin
	Rst Pin

	// HalfCycle is the calibrated half-period delay Tick waits between
	// clock edges. A full bit is one Tick with CLK low, one with CLK
	// high.
	HalfCycle time.Duration

	// Delay is the wait primitive Tick calls; it defaults to
	// time.Sleep and is only ever overridden by tests, which need a
	// deterministic, instant stand-in.
	Delay func(time.Duration)

	dir      Direction
	dirValid bool
}

// Init drives CLK and RST as outputs and leaves IO undefined until the
// first SetIODir call; it must run before any line-reset or transaction.
func (p *Pins) Init() {
	if p.Delay == nil {
		p.Delay = time.Sleep
	}

	p.Clk.Out()
	p.Clk.Low()

	p.Rst.Out()
	p.Rst.High()

	p.dirValid = false
}

// Tick waits one calibrated half-cycle.
func (p *Pins) Tick() {
	p.Delay(p.HalfCycle)
}

// SetClk drives the CLK line.
func (p *Pins) SetClk(level Level) {
	if level == High {
		p.Clk.High()
	} else {
		p.Clk.Low()
	}
}

// SetIO drives the IO line. The caller must have put IO in Output
// direction first.
func (p *Pins) SetIO(level Level) {
	if level == High {
		p.IO.High()
	} else {
		p.IO.Low()
	}
}

// ReadIO samples the IO line. The caller must have put IO in Input
// direction first.
func (p *Pins) ReadIO() Level {
	if p.IO.Value() {
		return High
	}
	return Low
}

// SetIODir configures the IO line's direction, skipping the
// reconfiguration when the direction has not changed.
func (p *Pins) SetIODir(dir Direction) {
	if p.dirValid && p.dir == dir {
		return
	}

	if dir == Output {
		p.IO.Out()
	} else {
		p.IO.In()
	}

	p.dir = dir
	p.dirValid = true
}

// SetRst drives the RST line. The reset is active low on the target; a
// program session holds RST high (released) except during the final
// target reset pulse.
func (p *Pins) SetRst(level Level) {
	if level == High {
		p.Rst.High()
	} else {
		p.Rst.Low()
	}
}
