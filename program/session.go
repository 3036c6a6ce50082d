// Flash programming session orchestrator
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package program implements the program orchestrator: wiring the SWD
// engine, DP/AP transaction layer, memory bus, flash driver and HEX
// assembler together into one connect→erase→program→verify→reset
// session.
package program

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fieldflash/swdprog/hex"
	"github.com/fieldflash/swdprog/probe"
	"github.com/fieldflash/swdprog/probe/flash"
	"github.com/fieldflash/swdprog/probe/membus"
	"github.com/fieldflash/swdprog/probe/swd"
)

// Kind classifies a session failure into the user-facing error codes
// reported over the command channel.
type Kind int

const (
	Generic Kind = iota
	SdMount
	FileNotFound
	HexParse
	TargetConnect
	ProgramFail
	VerifyFail
)

func (k Kind) String() string {
	switch k {
	case SdMount:
		return "ERR_SD_MOUNT"
	case FileNotFound:
		return "ERR_FILE_NOT_FOUND"
	case HexParse:
		return "ERR_HEX_PARSE"
	case TargetConnect:
		return "ERR_TARGET_CONNECT"
	case ProgramFail:
		return "ERR_PROGRAM_FAIL"
	case VerifyFail:
		return "ERR_VERIFY_FAIL"
	default:
		return "NG"
	}
}

// Error wraps an underlying cause with the Kind the command channel
// reports it under.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// dhcsrAddr and the debug-halt key, used to halt the core before erase.
// dhcsrSHalt is the DHCSR status bit read back to confirm the halt took
// effect.
const (
	dhcsrAddr  = 0xE000EDF0
	dhcsrHalt  = 0xA05F0003
	dhcsrSHalt = 1 << 17
)

const coreHaltPollMax = 100

// haltPollInterval is negligible on real hardware; kept as a package
// variable (rather than a constant) so tests can shrink it.
var haltPollInterval = time.Millisecond

// resetAssertDuration is how long RST is held low, comfortably above the
// target's minimum reset pulse width. A var, not a const, so tests can
// shrink it to avoid a real sleep.
var resetAssertDuration = 15 * time.Millisecond

// Progress reports coarse-grained session milestones to an external
// status-LED subsystem; it is a hook that subsystem listens on, never
// state the core itself depends on.
type Progress func(stage string)

// Session owns one programming attempt end to end.
type Session struct {
	Pins   *probe.Pins
	Engine *swd.Engine
	Tr     *swd.Transactor
	Bus    *membus.Bus

	Config Config

	Progress Progress

	drv    *flash.Driver
	family swd.McuFamily
}

// NewSession wires up the SWD stack over pins, using cfg for write-unit
// size and erase strategy. The flash driver is created lazily in
// connect, once the target family is known.
func NewSession(pins *probe.Pins, cfg Config) *Session {
	engine := swd.NewEngine(pins)
	tr := swd.NewTransactor(engine)
	bus := membus.New(tr)

	return &Session{
		Pins:   pins,
		Engine: engine,
		Tr:     tr,
		Bus:    bus,
		Config: cfg,
	}
}

func (s *Session) report(stage string) {
	if s.Progress != nil {
		s.Progress(stage)
	}
}

// connect performs line reset, IDCODE identification, debug-power-up,
// and core halt, in that order.
func (s *Session) connect() error {
	s.report("connect")
	s.Engine.LineReset()

	idcode, err := s.Tr.ReadDP(swd.DP_IDCODE)
	if err != nil {
		return &Error{TargetConnect, fmt.Errorf("read IDCODE: %w", err)}
	}
	if !swd.IsTargetPresent(idcode) {
		return &Error{TargetConnect, fmt.Errorf("no target (IDCODE=%#x)", idcode)}
	}

	family := swd.IdentifyFamily(idcode)
	if family == swd.Unknown {
		return &Error{TargetConnect, fmt.Errorf("unrecognized IDCODE %#x", idcode)}
	}
	s.family = family

	regs, err := flash.RegisterMapFor(family)
	if err != nil {
		return &Error{TargetConnect, err}
	}
	s.drv = flash.NewDriver(s.Bus, regs)

	if err := s.powerUpDebugDomain(); err != nil {
		return &Error{TargetConnect, err}
	}

	if err := s.haltCore(); err != nil {
		return &Error{TargetConnect, err}
	}

	return nil
}

func (s *Session) powerUpDebugDomain() error {
	want := uint32(swd.CtrlStatCDBGPWRUPREQ | swd.CtrlStatCSYSPWRUPREQ)
	if err := s.Tr.WriteDP(swd.DP_CTRLSTAT, want); err != nil {
		return fmt.Errorf("write CTRL/STAT: %w", err)
	}

	wantAck := uint32(swd.CtrlStatCDBGPWRUPACK | swd.CtrlStatCSYSPWRUPACK)
	for i := 0; i < coreHaltPollMax; i++ {
		stat, err := s.Tr.ReadDP(swd.DP_CTRLSTAT)
		if err != nil {
			return fmt.Errorf("read CTRL/STAT: %w", err)
		}
		if stat&wantAck == wantAck {
			return nil
		}
		time.Sleep(haltPollInterval)
	}

	return errors.New("debug power-up ack timeout")
}

// haltCore writes DHCSR via the memory bus and reads it back to confirm
// S_HALT is set. The core must be halted before flash is unlocked;
// running code that touches the flash controller mid-erase corrupts the
// operation, so a halt that silently didn't take must fail the session
// rather than proceed.
func (s *Session) haltCore() error {
	if err := s.Bus.WriteU32(dhcsrAddr, dhcsrHalt); err != nil {
		return fmt.Errorf("write DHCSR: %w", err)
	}

	dhcsr, err := s.Bus.ReadU32(dhcsrAddr)
	if err != nil {
		return fmt.Errorf("read back DHCSR: %w", err)
	}
	if dhcsr&dhcsrSHalt == 0 {
		return fmt.Errorf("core did not halt (DHCSR=%#x)", dhcsr)
	}

	return nil
}

// Program runs a full session: connect, unlock, erase, stream-program,
// stream-verify, lock, reset. hexImage must support re-reading from the
// start for the verify pass.
func (s *Session) Program(hexImage io.ReadSeeker) error {
	defer s.finish()

	if err := s.connect(); err != nil {
		return err
	}

	s.report("unlock")
	if err := s.drv.Unlock(); err != nil {
		return &Error{ProgramFail, err}
	}

	s.report("erase")
	if err := s.erase(hexImage); err != nil {
		return &Error{ProgramFail, err}
	}

	s.report("program")
	asm := &hex.Assembler{Unit: s.Config.UnitSize}
	if err := asm.Process(hexImage, s.drv.Program); err != nil {
		return &Error{ProgramFail, err}
	}

	if _, err := hexImage.Seek(0, io.SeekStart); err != nil {
		return &Error{VerifyFail, fmt.Errorf("rewind image: %w", err)}
	}

	s.report("verify")
	verifyAsm := &hex.Assembler{Unit: s.Config.UnitSize}
	if err := verifyAsm.Process(hexImage, s.drv.Verify); err != nil {
		return &Error{VerifyFail, err}
	}

	return nil
}

// erase clears flash before programming begins. MassErase wipes the
// whole chip; RangeErase pre-scans hexImage for the address span its
// write units touch and erases only those pages, rewinding the image
// afterward so Program's own pass starts from the beginning.
func (s *Session) erase(hexImage io.ReadSeeker) error {
	if s.Config.EraseMode == MassErase {
		return s.drv.EraseAll()
	}

	var lo, hi uint32
	seen := false
	scan := &hex.Assembler{Unit: s.Config.UnitSize}
	err := scan.Process(hexImage, func(base uint32, data []byte) error {
		end := base + uint32(len(data))
		if !seen || base < lo {
			lo = base
		}
		if !seen || end > hi {
			hi = end
		}
		seen = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("pre-scan for range erase: %w", err)
	}

	if _, err := hexImage.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind after range-erase scan: %w", err)
	}

	if !seen {
		return nil
	}

	return s.drv.EraseRange(lo, hi-lo)
}

// finish performs the best-effort lock and target reset required on
// every path, success or failure, ignoring their own errors. The lock
// is skipped when connect failed before the flash driver was created.
func (s *Session) finish() {
	s.report("lock")
	if s.drv != nil {
		_ = s.drv.Lock()
	}

	s.report("reset")
	s.Pins.SetRst(probe.Low)
	time.Sleep(resetAssertDuration)
	s.Pins.SetRst(probe.High)
}
