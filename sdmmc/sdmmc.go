// SD/MMC card bring-up and block read
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sdmmc implements the minimal SD/MMC card bring-up and
// single-block read path a flash programmer needs to pull a HEX image off
// a card: CMD0/CMD8/ACMD41 idle-and-voltage negotiation, CMD2/CMD3 address
// assignment, CMD7 select, CMD16 block-length fix-up, and CMD17 single
// block read. It is a deliberately trimmed command set next to a full host
// controller driver: no multi-block transfer, no write path, no UHS
// signaling, no MMC eMMC variant handling beyond OCR/CSD enough to reach
// data-transfer state, grounded on the command/response flow of
// soc/nxp/usdhc.
package sdmmc

import (
	"fmt"
	"time"

	"github.com/fieldflash/swdprog/internal/reg"
)

// Register offsets, relative to Base.
const (
	cmdOffset  = 0x00 // command index, written to start a transaction
	argOffset  = 0x04 // command argument
	rspOffset  = 0x08 // 32-bit response (card status / R1)
	dataOffset = 0x0c // data FIFO, one word per read
	statOffset = 0x10 // status: command-done, data-ready, error, card-present
	blkOffset  = 0x14 // block length in bytes, set once via CMD16
)

const (
	statCmdDone     = 0
	statDataReady   = 1
	statError       = 2
	statCardPresent = 3
)

// CMD indices used during bring-up and block read.
const (
	cmdGoIdleState = 0
	cmdSendIfCond  = 8
	cmdAllSendCID  = 2
	cmdSendRCA     = 3
	cmdSelectCard  = 7
	cmdSetBlocklen = 16
	cmdReadSingle  = 17
	cmdAppCmd      = 55
	acmdSendOpCond = 41
)

const (
	defaultCmdTimeout = 100 * time.Millisecond
	ocdPollMax        = 1000
	ocdPollInterval   = time.Millisecond

	ocrBusy       = 1 << 31
	ifCondPattern = 0x1AA // voltage range + check pattern, SD physical spec
)

// Card is one SD/MMC block device instance, satisfying storage.BlockDevice
// once Init has brought the card into data-transfer state.
type Card struct {
	// Base is the controller's register base address.
	Base uint32
	// BlockSize is the fixed sector size the card is configured for;
	// callers always pass storage.BlockSize (512).
	BlockSize uint32

	cmd, arg, rsp, data, stat, blk uint32
	rca                            uint32
}

func (c *Card) sendCmd(index, arg uint32) (uint32, error) {
	reg.Write(c.arg, arg)
	reg.Write(c.cmd, index)

	if !reg.WaitFor(defaultCmdTimeout, c.stat, statCmdDone, 1, 1) {
		return 0, fmt.Errorf("sdmmc: CMD%d timed out", index)
	}
	if reg.Get(c.stat, statError, 1) == 1 {
		return 0, fmt.Errorf("sdmmc: CMD%d reported an error", index)
	}

	return reg.Read(c.rsp), nil
}

func (c *Card) sendAppCmd(index, arg uint32) (uint32, error) {
	if _, err := c.sendCmd(cmdAppCmd, c.rca<<16); err != nil {
		return 0, err
	}
	return c.sendCmd(index, arg)
}

// Init brings the card from power-on to data-transfer state: idle, voltage
// check, operating-condition polling, CID/RCA assignment, select, and a
// block-length fix-up to BlockSize.
func (c *Card) Init() error {
	if c.Base == 0 || c.BlockSize == 0 {
		return fmt.Errorf("sdmmc: invalid card instance")
	}

	c.cmd = c.Base + cmdOffset
	c.arg = c.Base + argOffset
	c.rsp = c.Base + rspOffset
	c.data = c.Base + dataOffset
	c.stat = c.Base + statOffset
	c.blk = c.Base + blkOffset

	if reg.Get(c.stat, statCardPresent, 1) == 0 {
		return fmt.Errorf("sdmmc: no card present")
	}

	if _, err := c.sendCmd(cmdGoIdleState, 0); err != nil {
		return err
	}

	if _, err := c.sendCmd(cmdSendIfCond, ifCondPattern); err != nil {
		return fmt.Errorf("sdmmc: voltage check failed: %w", err)
	}

	ready := false
	for i := 0; i < ocdPollMax; i++ {
		ocr, err := c.sendAppCmd(acmdSendOpCond, ocrBusy)
		if err != nil {
			return fmt.Errorf("sdmmc: ACMD41 failed: %w", err)
		}
		if ocr&ocrBusy != 0 {
			ready = true
			break
		}
		time.Sleep(ocdPollInterval)
	}
	if !ready {
		return fmt.Errorf("sdmmc: card did not leave busy state")
	}

	if _, err := c.sendCmd(cmdAllSendCID, 0); err != nil {
		return fmt.Errorf("sdmmc: CMD2 failed: %w", err)
	}

	rca, err := c.sendCmd(cmdSendRCA, 0)
	if err != nil {
		return fmt.Errorf("sdmmc: CMD3 failed: %w", err)
	}
	c.rca = rca >> 16

	if _, err := c.sendCmd(cmdSelectCard, c.rca<<16); err != nil {
		return fmt.Errorf("sdmmc: CMD7 failed: %w", err)
	}

	if _, err := c.sendCmd(cmdSetBlocklen, c.BlockSize); err != nil {
		return fmt.Errorf("sdmmc: CMD16 failed: %w", err)
	}
	reg.Write(c.blk, c.BlockSize)

	return nil
}

// ReadBlock reads sector lba into buf, satisfying storage.BlockDevice.
func (c *Card) ReadBlock(lba uint32, buf []byte) error {
	if uint32(len(buf)) != c.BlockSize {
		return fmt.Errorf("sdmmc: buffer length %d does not match block size %d", len(buf), c.BlockSize)
	}

	if _, err := c.sendCmd(cmdReadSingle, lba); err != nil {
		return fmt.Errorf("sdmmc: CMD17 failed: %w", err)
	}

	if !reg.WaitFor(defaultCmdTimeout, c.stat, statDataReady, 1, 1) {
		return fmt.Errorf("sdmmc: read of block %d timed out waiting for data", lba)
	}

	for off := uint32(0); off < c.BlockSize; off += 4 {
		word := reg.Read(c.data)
		buf[off] = byte(word)
		buf[off+1] = byte(word >> 8)
		buf[off+2] = byte(word >> 16)
		buf[off+3] = byte(word >> 24)
	}

	return nil
}
