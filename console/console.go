// Line-oriented serial command channel
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package console implements the line-oriented command channel:
// READY/FILE:/OK/NG/ERR_* framing over an 8-N-1 serial port, with a
// per-character and a whole-command timeout.
package console

import (
	"errors"
	"time"

	"github.com/fieldflash/swdprog/program"
)

// Port is the polling, non-blocking-Rx serial port contract Channel
// needs, matching the shape of soc/nxp/uart.UART.Tx/Rx in the TamaGo
// driver this package is modeled on: Rx reports whether a character was
// actually available rather than blocking for one.
type Port interface {
	Tx(c byte)
	Rx() (c byte, valid bool)
}

const (
	// maxPathLen bounds a FILE: command's path to 127 characters.
	maxPathLen = 127

	// DefaultCharTimeout and DefaultCommandTimeout are the minimum
	// per-character and whole-command timeouts.
	DefaultCharTimeout    = 10 * time.Millisecond
	DefaultCommandTimeout = 60 * time.Second
)

// ErrTimeout is returned when a command does not complete within its
// per-character or whole-command budget.
var ErrTimeout = errors.New("console: command timed out")

// ErrMalformed is returned for any command that isn't a well-formed
// `FILE: <path>\r\n` line; the caller maps it to an NG response.
var ErrMalformed = errors.New("console: malformed command")

// Channel drives the command/response protocol over a Port.
type Channel struct {
	Port Port

	CharTimeout    time.Duration
	CommandTimeout time.Duration

	// Now returns the current time; defaults to time.Now. Tests
	// substitute a fake clock to exercise timeouts deterministically.
	Now func() time.Time

	// Idle is called while polling for the next byte with no data
	// ready; tests use it to advance a fake clock, real boards leave it
	// nil and spin a tight poll loop.
	Idle func()
}

func (c *Channel) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Channel) charTimeout() time.Duration {
	if c.CharTimeout == 0 {
		return DefaultCharTimeout
	}
	return c.CharTimeout
}

func (c *Channel) commandTimeout() time.Duration {
	if c.CommandTimeout == 0 {
		return DefaultCommandTimeout
	}
	return c.CommandTimeout
}

// writeString transmits s byte by byte over the port.
func (c *Channel) writeString(s string) {
	for i := 0; i < len(s); i++ {
		c.Port.Tx(s[i])
	}
}

// Ready emits the boot banner, sent once on startup before the first
// command is read.
func (c *Channel) Ready() {
	c.writeString("READY\r\n")
}

// readByte blocks for one character, bounded by both the per-character
// timeout and whatever remains of the whole-command deadline.
func (c *Channel) readByte(deadline time.Time) (byte, error) {
	charDeadline := c.now().Add(c.charTimeout())

	for {
		if b, ok := c.Port.Rx(); ok {
			return b, nil
		}

		now := c.now()
		if now.After(deadline) {
			return 0, ErrTimeout
		}
		if now.After(charDeadline) {
			return 0, ErrTimeout
		}

		if c.Idle != nil {
			c.Idle()
		}
	}
}

// ReadCommand reads one `FILE: <path>\r\n` line and returns path. Any
// other input -- wrong prefix, an embedded CR or LF, an over-length
// path, a timeout -- is reported as ErrMalformed or ErrTimeout, both of
// which the caller maps to NG. Other control characters are accepted as
// part of the path.
func (c *Channel) ReadCommand() (string, error) {
	deadline := c.now().Add(c.commandTimeout())

	const prefix = "FILE: "
	for i := 0; i < len(prefix); i++ {
		b, err := c.readByte(deadline)
		if err != nil {
			return "", err
		}
		if b != prefix[i] {
			return "", ErrMalformed
		}
	}

	path := make([]byte, 0, maxPathLen)
	for {
		b, err := c.readByte(deadline)
		if err != nil {
			return "", err
		}

		if b == '\r' {
			lf, err := c.readByte(deadline)
			if err != nil {
				return "", err
			}
			if lf != '\n' {
				return "", ErrMalformed
			}
			return string(path), nil
		}

		if b == '\n' {
			return "", ErrMalformed
		}
		if len(path) >= maxPathLen {
			return "", ErrMalformed
		}

		path = append(path, b)
	}
}

// RespondOK writes the success response.
func (c *Channel) RespondOK() {
	c.writeString("OK\r\n")
}

// RespondKind writes the ERR_* response for a classified failure kind,
// or NG for program.Generic.
func (c *Channel) RespondKind(kind program.Kind) {
	if kind == program.Generic {
		c.writeString("NG\r\n")
		return
	}
	c.writeString(kind.String() + "\r\n")
}
