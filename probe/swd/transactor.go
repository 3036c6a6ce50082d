// SWD DP/AP transaction layer
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package swd

// DP register addresses.
const (
	DP_IDCODE   = 0x0 // read
	DP_ABORT    = 0x0 // write
	DP_CTRLSTAT = 0x4
	DP_SELECT   = 0x8
	DP_RDBUFF   = 0xC
)

// DP.CTRL/STAT bits used to bring up the debug power domain.
const (
	CtrlStatCSYSPWRUPREQ = 1 << 30
	CtrlStatCSYSPWRUPACK = 1 << 31
	CtrlStatCDBGPWRUPREQ = 1 << 28
	CtrlStatCDBGPWRUPACK = 1 << 29
)

// DP.ABORT bits cleared after a FAULT acknowledge.
const (
	abortORUNERRCLR = 1 << 4
	abortWDERRCLR   = 1 << 3
	abortSTKERRCLR  = 1 << 2
	abortSTKCMPCLR  = 1 << 1
)

// MEM-AP register addresses.
const (
	AP_CSW = 0x00
	AP_TAR = 0x04
	AP_DRW = 0x0C
	AP_IDR = 0xFC
)

// Transactor exposes typed DP/AP register access over an Engine, hiding
// the posted nature of AP reads and the AP bank-select dance from callers.
type Transactor struct {
	engine *Engine

	apsel      uint8
	selectBank uint32
	haveSelect bool
}

// NewTransactor returns a Transactor using engine for the wire protocol.
// APSEL defaults to 0, the first access port.
func NewTransactor(engine *Engine) *Transactor {
	return &Transactor{engine: engine}
}

// ReadDP reads a Debug Port register.
func (t *Transactor) ReadDP(addr uint8) (uint32, error) {
	var v uint32
	ack, err := t.engine.transact(false, true, addr, &v)
	if err != nil {
		return 0, t.handleFault(ack, err)
	}
	return v, nil
}

// WriteDP writes a Debug Port register.
func (t *Transactor) WriteDP(addr uint8, v uint32) error {
	ack, err := t.engine.transact(false, false, addr, &v)
	if err != nil {
		return t.handleFault(ack, err)
	}
	return nil
}

// selectAP writes DP.SELECT if addr falls in a different 16-byte AP
// register bank than the last access.
func (t *Transactor) selectAP(addr uint8) error {
	bank := uint32(addr &^ 0xF)
	sel := (uint32(t.apsel) << 24) | bank

	if t.haveSelect && t.selectBank == sel {
		return nil
	}

	if err := t.WriteDP(DP_SELECT, sel); err != nil {
		return err
	}

	t.selectBank = sel
	t.haveSelect = true
	return nil
}

// ReadAP issues a posted AP read and immediately fetches its result via
// DP.RDBUFF, returning that value to the caller so AP reads look
// synchronous despite being posted on the wire.
func (t *Transactor) ReadAP(addr uint8) (uint32, error) {
	if err := t.selectAP(addr); err != nil {
		return 0, err
	}

	var discard uint32
	ack, err := t.engine.transact(true, true, addr, &discard)
	if err != nil {
		return 0, t.handleFault(ack, err)
	}

	return t.ReadDP(DP_RDBUFF)
}

// WriteAP writes a MEM-AP register.
func (t *Transactor) WriteAP(addr uint8, v uint32) error {
	if err := t.selectAP(addr); err != nil {
		return err
	}

	ack, err := t.engine.transact(true, false, addr, &v)
	if err != nil {
		return t.handleFault(ack, err)
	}
	return nil
}

// SetAPSEL selects which access port subsequent AP register accesses
// target. Invalidates the cached bank so the next access rewrites SELECT.
func (t *Transactor) SetAPSEL(apsel uint8) {
	t.apsel = apsel
	t.haveSelect = false
}

// handleFault converts a FAULT ack into a DP.ABORT write that clears the
// sticky error flags. Protocol errors are returned unchanged; the engine
// has already forced a line reset for those.
func (t *Transactor) handleFault(ack Ack, err error) error {
	if ack != AckFault {
		return err
	}

	abort := uint32(abortSTKCMPCLR | abortSTKERRCLR | abortWDERRCLR | abortORUNERRCLR)
	// Best-effort: the abort write itself cannot recover from a wire
	// fault, so its own error is ignored and the original is returned.
	t.engine.transact(false, false, DP_ABORT, &abort)

	return err
}
