// FAT16/FAT32 read-only directory support
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package storage

import (
	"encoding/binary"
	"testing"
)

// fakeBlockDevice serves sectors from an in-memory map, letting tests
// hand-assemble a tiny FAT16 image without a real file on disk.
type fakeBlockDevice struct {
	sectors map[uint32][]byte
}

func newFakeBlockDevice() *fakeBlockDevice {
	return &fakeBlockDevice{sectors: make(map[uint32][]byte)}
}

func (d *fakeBlockDevice) put(lba uint32, data []byte) {
	sector := make([]byte, BlockSize)
	copy(sector, data)
	d.sectors[lba] = sector
}

func (d *fakeBlockDevice) ReadBlock(lba uint32, buf []byte) error {
	sector, ok := d.sectors[lba]
	if !ok {
		sector = make([]byte, BlockSize)
	}
	copy(buf, sector)
	return nil
}

// buildFAT16Image assembles a minimal single-cluster-per-sector FAT16
// volume: 1 reserved sector, 1 FAT sector, a 1-sector (16-entry) root
// directory, and one file occupying cluster 2.
func buildFAT16Image(t *testing.T, fileName string, content []byte) *fakeBlockDevice {
	t.Helper()
	dev := newFakeBlockDevice()

	boot := make([]byte, BlockSize)
	binary.LittleEndian.PutUint16(boot[11:13], BlockSize) // bytes per sector
	boot[13] = 1                                          // sectors per cluster
	binary.LittleEndian.PutUint16(boot[14:16], 1)         // reserved sectors
	boot[16] = 1                                          // number of FATs
	binary.LittleEndian.PutUint16(boot[17:19], 16)        // root entries
	binary.LittleEndian.PutUint16(boot[22:24], 1)         // sectors per FAT (FAT16 marker)
	boot[510] = 0x55
	boot[511] = 0xAA
	dev.put(0, boot)

	fat := make([]byte, BlockSize)
	binary.LittleEndian.PutUint16(fat[4:6], 0xFFFF) // cluster 2: end of chain
	dev.put(1, fat)

	root := make([]byte, BlockSize)
	name, err := to8dot3(fileName)
	if err != nil {
		t.Fatalf("to8dot3: %v", err)
	}
	copy(root[0:11], name[:])
	root[11] = 0x20 // archive attribute
	binary.LittleEndian.PutUint16(root[20:22], 0)
	binary.LittleEndian.PutUint16(root[26:28], 2)
	binary.LittleEndian.PutUint32(root[28:32], uint32(len(content)))
	dev.put(2, root)

	dev.put(3, content)

	return dev
}

func TestFATVolumeOpenAndRead(t *testing.T) {
	content := []byte("DEADBEEF")
	dev := buildFAT16Image(t, "TEST.HEX", content)

	vol := NewFATVolume(dev)
	if err := vol.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	h, err := vol.Open("TEST.HEX")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	buf := make([]byte, BlockSize)
	n, err := h.ReadSector(buf)
	if err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if n != len(content) {
		t.Fatalf("n = %d, want %d", n, len(content))
	}
	if string(buf[:n]) != string(content) {
		t.Fatalf("got %q, want %q", buf[:n], content)
	}

	n, err = h.ReadSector(buf)
	if err != nil {
		t.Fatalf("second ReadSector: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d at end of file, want 0", n)
	}
}

func TestFATVolumeOpenMissingFile(t *testing.T) {
	dev := buildFAT16Image(t, "TEST.HEX", []byte("x"))

	vol := NewFATVolume(dev)
	if err := vol.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	if _, err := vol.Open("NOPE.HEX"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFATVolumeRewind(t *testing.T) {
	content := []byte("CAFEBABE")
	dev := buildFAT16Image(t, "TEST.HEX", content)

	vol := NewFATVolume(dev)
	if err := vol.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	h, err := vol.Open("TEST.HEX")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	buf := make([]byte, BlockSize)
	if _, err := h.ReadSector(buf); err != nil {
		t.Fatalf("ReadSector: %v", err)
	}

	if err := h.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}

	n, err := h.ReadSector(buf)
	if err != nil {
		t.Fatalf("ReadSector after rewind: %v", err)
	}
	if string(buf[:n]) != string(content) {
		t.Fatalf("got %q after rewind, want %q", buf[:n], content)
	}
}

func TestFATVolumeOpenBeforeMountFails(t *testing.T) {
	dev := buildFAT16Image(t, "TEST.HEX", []byte("x"))
	vol := NewFATVolume(dev)

	if _, err := vol.Open("TEST.HEX"); err != ErrMount {
		t.Fatalf("err = %v, want ErrMount", err)
	}
}
