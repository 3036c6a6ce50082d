// Flash programming session orchestrator
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package program

import (
	"strings"
	"testing"
	"time"

	"github.com/fieldflash/swdprog/probe"
	"github.com/fieldflash/swdprog/probe/swd"
)

// fakePin is a no-op digital pin used for CLK/RST.
type fakePin struct {
	level bool
}

func (p *fakePin) Out()        {}
func (p *fakePin) In()         {}
func (p *fakePin) High()       { p.level = true }
func (p *fakePin) Low()        { p.level = false }
func (p *fakePin) Value() bool { return p.level }

// scriptedIO is a fake bidirectional pin: writes are discarded, reads pop
// in order from a pre-built script (mirrors probe/swd's own test double).
type scriptedIO struct {
	Reads []bool
}

func (s *scriptedIO) Out()  {}
func (s *scriptedIO) In()   {}
func (s *scriptedIO) High() {}
func (s *scriptedIO) Low()  {}
func (s *scriptedIO) Value() bool {
	if len(s.Reads) == 0 {
		return false
	}
	v := s.Reads[0]
	s.Reads = s.Reads[1:]
	return v
}

func bitsLSB(v uint32, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = (v>>uint(i))&1 == 1
	}
	return out
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

// ackOK appends the 3-bit OK acknowledge every transact call consumes,
// whether it ultimately reads or writes a register.
func ackOK(reads *[]bool) {
	*reads = append(*reads, true, false, false)
}

// ackOKRead appends an OK ack followed by a 32-bit payload and its parity
// bit, for a transact call made with rnw=true.
func ackOKRead(reads *[]bool, value uint32) {
	ackOK(reads)
	*reads = append(*reads, bitsLSB(value, 32)...)
	*reads = append(*reads, evenParity32(value))
}

// buildConnectAndUnlockScript scripts every wire transaction a successful
// Session.Program run performs against a CortexM3 target programming an
// image with no data records (connect, unlock, mass erase, lock; program
// and verify are no-ops with zero sink calls). Traced call-by-call
// against probe/swd's Transactor and probe/membus's Bus in the exact
// chronological order transact() is invoked.
func buildConnectAndUnlockScript() []bool {
	var reads []bool

	ackOKRead(&reads, 0x4BA00477) // T1: ReadDP(IDCODE)
	ackOK(&reads)                 // T2: WriteDP(CTRLSTAT)
	ackOKRead(&reads,             // T3: ReadDP(CTRLSTAT) poll, both ACKs set
		swd.CtrlStatCDBGPWRUPACK|swd.CtrlStatCSYSPWRUPACK)
	ackOK(&reads) // T4: WriteDP(SELECT) for CSW bank
	ackOK(&reads) // T5: WriteAP(CSW)
	ackOK(&reads) // T6: WriteAP(TAR, dhcsrAddr)
	ackOK(&reads) // T7: WriteAP(DRW, dhcsrHalt)

	ackOK(&reads)                 // T8:  WriteAP(TAR, dhcsrAddr) for halt readback
	ackOKRead(&reads, 0)          // T9:  posted AP read (discarded)
	ackOKRead(&reads, dhcsrSHalt) // T10: ReadDP(RDBUFF) -> DHCSR, S_HALT set

	ackOK(&reads)         // T11: WriteAP(TAR, KEYR)
	ackOK(&reads)         // T12: WriteAP(DRW, key1)
	ackOK(&reads)         // T13: WriteAP(TAR, KEYR)
	ackOK(&reads)         // T14: WriteAP(DRW, key2)
	ackOK(&reads)         // T15: WriteAP(TAR, CR)
	ackOKRead(&reads, 0)  // T16: posted AP read (discarded)
	ackOKRead(&reads, 0)  // T17: ReadDP(RDBUFF) -> CR, LOCK clear

	ackOK(&reads)        // T18: WriteAP(TAR, CR)
	ackOK(&reads)        // T19: WriteAP(DRW, crMER)
	ackOK(&reads)        // T20: WriteAP(TAR, CR)
	ackOK(&reads)        // T21: WriteAP(DRW, crMER|crSTRT)
	ackOK(&reads)        // T22: WriteAP(TAR, SR)
	ackOKRead(&reads, 0) // T23: posted AP read (discarded)
	ackOKRead(&reads, 0) // T24: ReadDP(RDBUFF) -> SR, BSY and error bits clear
	ackOK(&reads)        // T25: WriteAP(DRW, 0) clear CR after erase (TAR already auto-incremented from SR to CR)

	ackOK(&reads)        // T26: WriteAP(TAR, CR)
	ackOKRead(&reads, 0) // T27: posted AP read (discarded)
	ackOKRead(&reads, 0) // T28: ReadDP(RDBUFF) -> CR, for Lock's read-modify-write
	ackOK(&reads)        // T29: WriteAP(TAR, CR)
	ackOK(&reads)        // T30: WriteAP(DRW, CR|LOCK)

	return reads
}

func newTestSession(reads []bool) *Session {
	io := &scriptedIO{Reads: reads}
	pins := &probe.Pins{
		Clk:       &fakePin{},
		IO:        io,
		Rst:       &fakePin{},
		HalfCycle: time.Microsecond,
		Delay:     func(time.Duration) {},
	}
	pins.Init()

	return NewSession(pins, Config{})
}

func TestProgramEmptyImageSucceeds(t *testing.T) {
	haltPollInterval = time.Microsecond
	resetAssertDuration = time.Microsecond

	s := newTestSession(buildConnectAndUnlockScript())

	var stages []string
	s.Progress = func(stage string) { stages = append(stages, stage) }

	img := strings.NewReader(":00000001FF\r\n")
	if err := s.Program(img); err != nil {
		t.Fatalf("Program: %v", err)
	}

	want := []string{"connect", "unlock", "erase", "program", "verify", "lock", "reset"}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages[%d] = %q, want %q", i, stages[i], want[i])
		}
	}
}

func TestProgramRejectsUnknownTarget(t *testing.T) {
	var reads []bool
	ackOKRead(&reads, 0xFFFFFFFF) // IDCODE reads as all-ones: no target

	s := newTestSession(reads)

	img := strings.NewReader(":00000001FF\r\n")
	err := s.Program(img)
	if err == nil {
		t.Fatal("expected an error for an absent target")
	}

	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("err = %T, want *Error", err)
	}
	if perr.Kind != TargetConnect {
		t.Fatalf("Kind = %v, want TargetConnect", perr.Kind)
	}
}

func TestKindString(t *testing.T) {
	cases := []struct {
		k    Kind
		want string
	}{
		{SdMount, "ERR_SD_MOUNT"},
		{FileNotFound, "ERR_FILE_NOT_FOUND"},
		{HexParse, "ERR_HEX_PARSE"},
		{TargetConnect, "ERR_TARGET_CONNECT"},
		{ProgramFail, "ERR_PROGRAM_FAIL"},
		{VerifyFail, "ERR_VERIFY_FAIL"},
		{Generic, "NG"},
	}
	for _, c := range cases {
		if got := c.k.String(); got != c.want {
			t.Errorf("Kind(%d).String() = %q, want %q", c.k, got, c.want)
		}
	}
}
