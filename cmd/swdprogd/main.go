// Standalone flash programmer entry point
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command swdprogd is the standalone flash programmer's entry point:
// power-on hardware bring-up, then an infinite READY / FILE: <path> /
// OK-or-ERR_* command loop, with no host computer in the loop once the
// command has been issued.
package main

import (
	"errors"
	"io"
	"log"
	"os"

	"github.com/fieldflash/swdprog/board"
	"github.com/fieldflash/swdprog/led"
	"github.com/fieldflash/swdprog/program"
	"github.com/fieldflash/swdprog/storage"
)

// verbose gates diagnostic logging to stderr; a production build flips
// this to false.
const verbose = true

const uartBaud = 115200

func init() {
	log.SetFlags(0)
	if verbose {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}
}

func main() {
	cfg := program.Config{
		EraseMode: program.MassErase,
		Baud:      uartBaud,
	}

	b, err := board.New(cfg)
	if err != nil {
		log.Fatalf("swdprogd: hardware bring-up failed: %v", err)
	}

	if err := b.Storage.Mount(); err != nil {
		log.Printf("swdprogd: storage mount failed: %v", err)
	}

	b.Session.Progress = func(stage string) {
		log.Printf("swdprogd: %s", stage)
	}

	b.LED.SetPattern(led.Idle)
	b.Console.Ready()

	for {
		runOnce(b)
	}
}

// runOnce reads one command, runs the programming session it names, and
// writes back the matching response. Every path returns to the caller's
// loop, so a malformed command or a failed session never stops the
// programmer from accepting the next one.
func runOnce(b *board.Board) {
	path, err := b.Console.ReadCommand()
	if err != nil {
		b.LED.SetPattern(led.Failure)
		b.Console.RespondKind(program.Generic)
		return
	}

	b.LED.SetPattern(led.Busy)

	if err := runSession(b, path); err != nil {
		log.Printf("swdprogd: %s: %v", path, err)
		b.LED.SetPattern(led.Failure)
		b.Console.RespondKind(kindOf(err))
		return
	}

	b.LED.SetPattern(led.Success)
	b.Console.RespondOK()
}

// runSession resolves path on the mounted volume and runs one full
// program.Session against it.
func runSession(b *board.Board, path string) error {
	h, err := b.Storage.Open(path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &program.Error{Kind: program.FileNotFound, Cause: err}
		}
		return &program.Error{Kind: program.SdMount, Cause: err}
	}
	defer h.Close()

	return b.Session.Program(storage.NewReader(h))
}

// kindOf extracts the response Kind from a session error, falling back
// to Generic (NG) for anything the session layer didn't classify.
func kindOf(err error) program.Kind {
	var sessErr *program.Error
	if errors.As(err, &sessErr) {
		return sessErr.Kind
	}
	return program.Generic
}
