// Block-device and file-lookup contracts
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package storage defines the block-device and file-lookup contract the
// program orchestrator consumes to read a HEX image off removable media,
// mirroring the sector-oriented shape of soc/nxp/usdhc.ReadBlocks in the
// TamaGo SD driver this module is built alongside.
package storage

import (
	"errors"
	"io"
)

// BlockSize is the sector size the core reads in, matching
// usdhc.SD_DEFAULT_BLOCK_SIZE.
const BlockSize = 512

// ErrNotFound is returned by Open when path cannot be resolved through
// the directory lookup.
var ErrNotFound = errors.New("storage: file not found")

// ErrMount is returned when the underlying card/filesystem cannot be
// brought up.
var ErrMount = errors.New("storage: mount failed")

// FileHandle is a sequential, rewindable sector source. The core needs
// only sequential reads and a single rewind per file.
type FileHandle interface {
	// ReadSector fills buf (exactly BlockSize bytes) and returns the
	// number of valid bytes, which is less than BlockSize only for the
	// final sector of the file.
	ReadSector(buf []byte) (int, error)
	// Rewind returns the handle to its first sector.
	Rewind() error
	// Close releases the handle.
	Close() error
}

// Volume is the storage collaborator's top-level contract: mount once,
// then open files by path.
type Volume interface {
	// Mount brings up the block device and its filesystem. It must be
	// called once before Open.
	Mount() error
	// Open resolves path and returns a handle for sequential reading.
	// FATVolume resolves it through its root-directory walk;
	// SimulatedVolume ignores it.
	Open(path string) (FileHandle, error)
}

// Reader adapts a FileHandle to io.ReadSeeker, the shape
// program.Session.Program and hex.Assembler consume, so the core never
// has to know about sector framing.
type Reader struct {
	h       FileHandle
	buf     [BlockSize]byte
	valid   int
	pos     int
	atStart bool
}

// NewReader wraps h. h must be freshly opened or freshly rewound.
func NewReader(h FileHandle) *Reader {
	return &Reader{h: h, atStart: true}
}

// Read implements io.Reader by pulling whole sectors from the handle and
// copying from the buffered sector into buf until buf is full or the
// file ends.
func (r *Reader) Read(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		if r.pos >= r.valid {
			if r.valid > 0 && r.valid < BlockSize {
				// Short sector already seen: end of file.
				return n, io.EOF
			}

			valid, err := r.h.ReadSector(r.buf[:])
			if err != nil {
				if n > 0 {
					return n, nil
				}
				return 0, err
			}
			if valid == 0 {
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			}

			r.valid = valid
			r.pos = 0
			r.atStart = false
		}

		c := copy(buf[n:], r.buf[r.pos:r.valid])
		r.pos += c
		n += c
	}
	return n, nil
}

// Seek supports only rewinding to the start, matching the storage
// collaborator's one-rewind-per-file contract. Any other offset/whence
// combination is rejected.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if offset != 0 || whence != io.SeekStart {
		return 0, errors.New("storage: only rewind-to-start is supported")
	}
	if err := r.h.Rewind(); err != nil {
		return 0, err
	}
	r.pos = 0
	r.valid = 0
	r.atStart = true
	return 0, nil
}
