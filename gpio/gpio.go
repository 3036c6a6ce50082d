// Memory-mapped GPIO pin support
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package gpio implements the memory-mapped GPIO pin primitive that backs
// the probe's pin driver (probe.Pins).
//
// Pad muxing, drive strength, and clock gating for a specific board are a
// distinct concern from toggling a pin once it is configured as a digital
// GPIO, and are left to a Mux implementation supplied by board wiring; this
// package only ever reads or writes the DR/GDIR bit for a pin that has
// already been muxed to GPIO function.
package gpio

import (
	"fmt"

	"github.com/fieldflash/swdprog/internal/reg"
)

// Controller register offsets, relative to Base.
const (
	drOffset   = 0x00
	gdirOffset = 0x04
)

// Mux configures a pin's pad function and electrical characteristics
// before it is handed to Pin. Pad muxing is board-specific; boards that
// need it implement Mux against their own SoC pad controller.
type Mux interface {
	// ConfigureGPIO selects GPIO function and drive strength for pin num.
	ConfigureGPIO(num int) error
}

// Controller is one memory-mapped GPIO bank.
type Controller struct {
	// Base is the bank's register base address.
	Base uint32
}

// Pin is a single bit within a Controller, configurable as output or
// input.
type Pin struct {
	num  int
	data uint32
	dir  uint32
}

// Init returns the Pin for bit num of the controller.
func (c *Controller) Init(num int) (*Pin, error) {
	if c.Base == 0 {
		return nil, fmt.Errorf("gpio: invalid controller instance")
	}

	if num < 0 || num > 31 {
		return nil, fmt.Errorf("gpio: invalid pin number %d", num)
	}

	return &Pin{
		num:  num,
		data: c.Base + drOffset,
		dir:  c.Base + gdirOffset,
	}, nil
}

// Out configures the pin as an output.
func (p *Pin) Out() {
	reg.Set(p.dir, p.num)
}

// In configures the pin as an input.
func (p *Pin) In() {
	reg.Clear(p.dir, p.num)
}

// High drives the pin high. The pin must be configured as output.
func (p *Pin) High() {
	reg.Set(p.data, p.num)
}

// Low drives the pin low. The pin must be configured as output.
func (p *Pin) Low() {
	reg.Clear(p.data, p.num)
}

// Value reads the pin's current level.
func (p *Pin) Value() bool {
	return reg.Get(p.data, p.num, 1) == 1
}
