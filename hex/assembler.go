// Intel HEX write-unit assembler
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hex

import (
	"bufio"
	"fmt"
	"io"
)

// Sink receives one flushed, flash-aligned write unit. Programming and
// verification are both modeled as a Sink, keeping flash-driver details
// out of the assembler.
type Sink func(base uint32, data []byte) error

// maxLineLen bounds the assembler's line buffer.
const maxLineLen = 256

// DefaultUnitSize is the write-unit granularity used when Assembler.Unit
// is left at zero.
const DefaultUnitSize = 512

// erasedByte is the value flash reads as before it is programmed; gaps
// inside a write unit are padded with it so that unwritten positions
// still match the erased target.
const erasedByte = 0xFF

// Assembler tracks the extended linear address and coalesces Data
// records into Unit-sized aligned blocks, flushing each full or final
// block to Sink.
type Assembler struct {
	// Unit is the write-unit size in bytes. Must be a power of two.
	// Defaults to DefaultUnitSize if zero.
	Unit uint32

	extendedHigh uint32
	base         uint32
	bytes        []byte
	validLen     uint32
	haveUnit     bool
}

func (a *Assembler) unitSize() uint32 {
	if a.Unit == 0 {
		return DefaultUnitSize
	}
	return a.Unit
}

func (a *Assembler) resetUnit(base uint32) {
	u := a.unitSize()
	if a.bytes == nil || uint32(len(a.bytes)) != u {
		a.bytes = make([]byte, u)
	}
	for i := range a.bytes {
		a.bytes[i] = erasedByte
	}
	a.base = base
	a.validLen = 0
	a.haveUnit = true
}

func (a *Assembler) flush(sink Sink) error {
	if !a.haveUnit || a.validLen == 0 {
		a.haveUnit = false
		return nil
	}

	if err := sink(a.base, a.bytes[:a.validLen]); err != nil {
		return err
	}

	a.haveUnit = false
	a.validLen = 0
	return nil
}

// addData folds one Data record's bytes into the pending unit, flushing
// and re-basing as needed, and recursing to handle a record that
// straddles the current unit boundary.
func (a *Assembler) addData(abs uint32, data []byte, sink Sink) error {
	if len(data) == 0 {
		return nil
	}

	u := a.unitSize()

	if !a.haveUnit || a.validLen == 0 {
		a.resetUnit(abs &^ (u - 1))
	}

	if abs < a.base || abs >= a.base+u {
		if err := a.flush(sink); err != nil {
			return err
		}
		return a.addData(abs, data, sink)
	}

	offset := abs - a.base
	room := u - offset

	if uint32(len(data)) > room {
		if err := a.addData(abs, data[:room], sink); err != nil {
			return err
		}
		return a.addData(abs+room, data[room:], sink)
	}

	copy(a.bytes[offset:], data)
	if end := offset + uint32(len(data)); end > a.validLen {
		a.validLen = end
	}

	return nil
}

// Process reads HEX text lines from r, dispatching each completed
// write unit to sink, until an EOF record terminates the stream
// successfully or a parse/protocol error occurs.
//
// Lines are delimited on CR, LF, or CRLF; empty lines are skipped. A
// stream that ends without an EOF record is a truncated image and is
// reported as an error.
func (a *Assembler) Process(r io.Reader, sink Sink) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, maxLineLen), maxLineLen)
	scanner.Split(scanLinesAnyEOL)

	sawEOF := false

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		rec, err := ParseLine(line)
		if err != nil {
			return err
		}

		switch rec.Type {
		case TypeExtLinearAddr:
			if rec.ByteCount != 2 {
				return parseErr("ExtLinearAddr byte_count must be 2, got %d", rec.ByteCount)
			}
			a.extendedHigh = uint32(rec.Data[0])<<24 | uint32(rec.Data[1])<<16

		case TypeStartLinearAddr:
			// Ignored; this driver never jumps to the loaded image.

		case TypeData:
			abs := a.extendedHigh | uint32(rec.Address)
			if err := a.addData(abs, rec.Data, sink); err != nil {
				return err
			}

		case TypeEOF:
			if err := a.flush(sink); err != nil {
				return err
			}
			sawEOF = true
		}

		if sawEOF {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading stream: %v", ErrHexParse, err)
	}

	if !sawEOF {
		return parseErr("stream ended without an EOF record (truncated image)")
	}

	return nil
}

// scanLinesAnyEOL is bufio.ScanLines generalized to also split on a bare
// CR, so lines delimited by CR, LF, or CRLF all parse the same way.
func scanLinesAnyEOL(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i, b := range data {
		switch b {
		case '\n':
			return i + 1, dropCR(data[:i]), nil
		case '\r':
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if !atEOF {
				// Might be a CRLF split across reads; ask for more.
				return 0, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

func dropCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}
