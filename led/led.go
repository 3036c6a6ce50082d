// Status LED pattern driver
// https://github.com/fieldflash/swdprog
//
// Copyright (c) the swdprog authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package led implements the status LED pattern driver, driven by a 1 ms
// tick independent of the programming core's own state: a periodic 1 ms
// timer interrupt drives only the LED status subsystem and never touches
// state owned by the core.
package led

// Pin is the minimal digital output the driver needs. gpio.Pin and
// probe.Pin both satisfy a superset of this.
type Pin interface {
	High()
	Low()
}

// Pattern is a named blink cadence.
type Pattern int

const (
	// Idle is a slow heartbeat blink shown while waiting for a command.
	Idle Pattern = iota
	// Busy is a fast blink shown for the duration of a programming
	// session.
	Busy
	// Success is solid-on for successHoldTicks ticks, then reverts to
	// Idle.
	Success
	// Failure is a fast double-blink-then-pause pattern.
	Failure
)

// Tick periods, expressed in 1 ms ticks.
const (
	idleHalfPeriod    = 500 // 1 Hz blink
	busyHalfPeriod    = 100 // 5 Hz blink
	successHoldTicks  = 1000
	failureOnTicks    = 80
	failureOffTicks   = 80
	failurePauseTicks = 600
)

// Driver drives one LED through Tick-paced patterns. It owns no core
// state and is safe to call from an interrupt context distinct from the
// one running the programming session.
type Driver struct {
	Pin Pin

	pattern Pattern
	ticks   uint32
	on      bool

	// successTicksLeft counts down Success's hold period before
	// reverting to Idle.
	successTicksLeft uint32
}

// NewDriver returns a Driver starting in the Idle pattern.
func NewDriver(pin Pin) *Driver {
	return &Driver{Pin: pin, pattern: Idle}
}

// SetPattern switches the active pattern, resetting its phase.
func (d *Driver) SetPattern(p Pattern) {
	d.pattern = p
	d.ticks = 0
	if p == Success {
		d.successTicksLeft = successHoldTicks
	}
}

// Pattern returns the currently active pattern.
func (d *Driver) Pattern() Pattern {
	return d.pattern
}

func (d *Driver) set(on bool) {
	if on == d.on {
		return
	}
	d.on = on
	if on {
		d.Pin.High()
	} else {
		d.Pin.Low()
	}
}

// Tick advances the pattern by one 1 ms step. Call this from the 1 ms
// timer interrupt.
func (d *Driver) Tick() {
	d.ticks++

	switch d.pattern {
	case Idle:
		d.set((d.ticks/idleHalfPeriod)%2 == 0)

	case Busy:
		d.set((d.ticks/busyHalfPeriod)%2 == 0)

	case Success:
		d.set(true)
		if d.successTicksLeft > 0 {
			d.successTicksLeft--
		} else {
			d.SetPattern(Idle)
		}

	case Failure:
		phase := d.ticks % (2*failureOnTicks + failureOffTicks + failurePauseTicks)
		secondOn := phase >= failureOnTicks+failureOffTicks &&
			phase < 2*failureOnTicks+failureOffTicks
		d.set(phase < failureOnTicks || secondOn)
	}
}

// StageToPattern maps a program.Session Progress stage name to the
// pattern the LED should show while that stage runs.
func StageToPattern(stage string) Pattern {
	switch stage {
	case "":
		return Idle
	default:
		return Busy
	}
}
