// SWD target identification
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package swd

// McuFamily identifies the flash-controller register layout a connected
// target uses.
type McuFamily int

const (
	Unknown McuFamily = iota
	CortexM0
	CortexM3
	CortexM4
)

func (f McuFamily) String() string {
	switch f {
	case CortexM0:
		return "Cortex-M0"
	case CortexM3:
		return "Cortex-M3"
	case CortexM4:
		return "Cortex-M4"
	default:
		return "unknown"
	}
}

// KnownTargets maps a DP IDCODE to the family it identifies. It is a map
// rather than a switch so that a board variant can register additional
// entries (e.g. a Cortex-M7 IDCODE) at init time without touching
// IdentifyFamily. Identifying on IDCODE alone, rather than the
// finer-grained per-vendor DBGMCU_IDCODE, is a known limitation: two
// boards sharing a core but differing in flash layout would collide here
// and need a registered entry keyed some other way.
var KnownTargets = map[uint32]McuFamily{
	0x0BB11477: CortexM0,
	0x4BA00477: CortexM3,
	0x4BA01477: CortexM4,
}

// IdentifyFamily looks up idcode in KnownTargets. A zero or all-ones
// IDCODE always means "no target attached" regardless of the table.
func IdentifyFamily(idcode uint32) McuFamily {
	if idcode == 0 || idcode == 0xFFFFFFFF {
		return Unknown
	}
	return KnownTargets[idcode]
}

// IsTargetPresent reports whether idcode looks like a real debug port
// rather than an open or shorted bus: zero or all-ones reads back as
// "no target".
func IsTargetPresent(idcode uint32) bool {
	return idcode != 0 && idcode != 0xFFFFFFFF
}
