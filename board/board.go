// Physical board wiring: pins, console, storage, LED
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package board assembles one physical programmer layout: the three SWD
// GPIO pins, the status LED pin, the command-channel UART, and the SD
// card storage path, wired into a ready-to-run program.Session,
// console.Channel, led.Driver, and storage.Volume. Everything here is
// compile-time Go wiring -- there is no runtime config file, only the
// init-time pin, clock, and base-address assignments below.
package board

import (
	"fmt"

	"github.com/fieldflash/swdprog/console"
	"github.com/fieldflash/swdprog/gpio"
	"github.com/fieldflash/swdprog/internal/reg"
	"github.com/fieldflash/swdprog/led"
	"github.com/fieldflash/swdprog/probe"
	"github.com/fieldflash/swdprog/program"
	"github.com/fieldflash/swdprog/sdmmc"
	"github.com/fieldflash/swdprog/storage"
	"github.com/fieldflash/swdprog/uart"
)

// GPIO bank base addresses and clock gates. Each bank backs one or more
// pins; SWD's three signals and the status LED share a single bank here,
// split across bit positions.
const (
	gpio1Base = 0x0209c000

	pinSwdClk    = 0
	pinSwdIO     = 1
	pinSwdRst    = 2
	pinStatusLED = 3
)

const (
	uartBase    = 0x02020000
	uartClockHz = 80_000_000

	sdmmcBase = 0x02190000
)

// halfCycle is the bit-bang clock half-period, chosen well within the
// slowest supported target's maximum SWD clock.
const halfCycle = 1_000 // nanoseconds, see probe.Pins.HalfCycle

// padMux is this board's pin-muxing collaborator: a single trimmed
// register exposing one "select GPIO function" bit per pin, which is all
// this layout's SWD and LED pins ever need (no alternate function
// sharing to arbitrate). It satisfies gpio.Mux, the interface that
// package declares but leaves for board wiring to implement.
type padMux struct {
	base uint32
}

const muxOffset = 0x00

// ConfigureGPIO selects GPIO function for pin num by setting its mux bit;
// this board has no alternate-function sharing to arbitrate, so that is
// the whole of pad configuration here.
func (m padMux) ConfigureGPIO(num int) error {
	if num < 0 || num > 31 {
		return fmt.Errorf("board: invalid pin number %d", num)
	}
	reg.Set(m.base+muxOffset, num)
	return nil
}

// Board is one fully wired programmer instance.
type Board struct {
	Session *program.Session
	Console *console.Channel
	Storage storage.Volume
	LED     *led.Driver
}

// New brings up every peripheral and returns an assembled Board. cfg
// selects the session's write-unit size, erase strategy, and baud rate.
func New(cfg program.Config) (*Board, error) {
	mux := padMux{base: gpio1Base}
	gpioBank := &gpio.Controller{Base: gpio1Base}

	if err := mux.ConfigureGPIO(pinSwdClk); err != nil {
		return nil, err
	}
	if err := mux.ConfigureGPIO(pinSwdIO); err != nil {
		return nil, err
	}
	if err := mux.ConfigureGPIO(pinSwdRst); err != nil {
		return nil, err
	}
	if err := mux.ConfigureGPIO(pinStatusLED); err != nil {
		return nil, err
	}

	clk, err := gpioBank.Init(pinSwdClk)
	if err != nil {
		return nil, fmt.Errorf("board: CLK pin: %w", err)
	}
	ioPin, err := gpioBank.Init(pinSwdIO)
	if err != nil {
		return nil, fmt.Errorf("board: IO pin: %w", err)
	}
	rst, err := gpioBank.Init(pinSwdRst)
	if err != nil {
		return nil, fmt.Errorf("board: RST pin: %w", err)
	}
	statusPin, err := gpioBank.Init(pinStatusLED)
	if err != nil {
		return nil, fmt.Errorf("board: status LED pin: %w", err)
	}

	pins := &probe.Pins{
		Clk:       clk,
		IO:        ioPin,
		Rst:       rst,
		HalfCycle: halfCycle,
	}
	pins.Init()

	session := program.NewSession(pins, cfg)

	serial := &uart.UART{Base: uartBase, ClockHz: uartClockHz, Baud: cfg.Baud}
	if err := serial.Init(); err != nil {
		return nil, fmt.Errorf("board: UART init: %w", err)
	}
	ch := &console.Channel{Port: serial}

	card := &sdmmc.Card{Base: sdmmcBase, BlockSize: storage.BlockSize}
	if err := card.Init(); err != nil {
		return nil, fmt.Errorf("board: SD card init: %w", err)
	}
	vol := storage.NewFATVolume(card)

	ledDriver := led.NewDriver(statusPin)

	return &Board{
		Session: session,
		Console: ch,
		Storage: vol,
		LED:     ledDriver,
	}, nil
}
