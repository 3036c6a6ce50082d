// Host-simulated block device support
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !tamago

// Host-only file-backed block device, used by tests (never linked into
// the bare-metal GOOS=tamago path; board wires FATVolume, not this).
// Opens the backing file with the same raw-sector framing
// soc/nxp/usdhc.ReadBlocks uses, via golang.org/x/sys/unix so the sector
// I/O goes through pread rather than buffered os.File reads,
// matching the direct-block-access model the real SD host controller
// presents to this package.
package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SimulatedVolume is a Volume backed by a single flat file on the host
// filesystem, addressed as a FAT-less one-file "card": Open ignores its
// path argument's directory structure and always returns a handle onto
// that file, which is enough to exercise the core's sequential-read-plus-
// rewind contract without a real FAT implementation.
type SimulatedVolume struct {
	fd     int
	mounted bool
}

// NewSimulatedVolume opens path (e.g. a test fixture's .hex file) as the
// backing store for the simulated card.
func NewSimulatedVolume(path string) (*SimulatedVolume, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMount, err)
	}
	return &SimulatedVolume{fd: fd}, nil
}

// Mount verifies the backing file is still reachable.
func (v *SimulatedVolume) Mount() error {
	var stat unix.Stat_t
	if err := unix.Fstat(v.fd, &stat); err != nil {
		return fmt.Errorf("%w: %v", ErrMount, err)
	}
	v.mounted = true
	return nil
}

// Open returns a handle reading the volume's single backing file from
// its start, regardless of path (the simulator has no directory table to
// walk).
func (v *SimulatedVolume) Open(path string) (FileHandle, error) {
	if !v.mounted {
		return nil, ErrMount
	}
	return &simulatedHandle{fd: v.fd}, nil
}

// Close releases the backing file descriptor.
func (v *SimulatedVolume) Close() error {
	return unix.Close(v.fd)
}

type simulatedHandle struct {
	fd     int
	offset int64
}

func (h *simulatedHandle) ReadSector(buf []byte) (int, error) {
	n, err := unix.Pread(h.fd, buf, h.offset)
	if err != nil {
		return 0, fmt.Errorf("storage: read sector at %d: %w", h.offset, err)
	}
	h.offset += int64(n)
	return n, nil
}

func (h *simulatedHandle) Rewind() error {
	h.offset = 0
	return nil
}

func (h *simulatedHandle) Close() error {
	return nil
}
