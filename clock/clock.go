// Package clock provides the monotonic microsecond time source and the
// Maple Bus timing constants shared by the scheduler and the bus driver.
// The constants mirror original_source/configuration.h; they're compile-time
// board configuration, not something loaded at runtime.
package clock

import "time"

// CPUFreqMHz is the host MCU's clock frequency. Overclocking doesn't help
// throughput — the PIO programs are timed in wall-clock nanoseconds, not
// cycles — but the DMA and interrupt latency budget assumes this floor.
const CPUFreqMHz = 133

// MinClockPeriodNS is the minimum half-bit period on the bus. In testing,
// timing has a variance of -0/+40ns; 300ns achieves a max throughput of
// 2Mbps and an average around 1.7Mbps, short of the Dreamcast's own ~2Mbps
// average because the Dreamcast clocks its bus more efficiently than this
// bit-banged implementation can.
const MinClockPeriodNS = 300

// BitPeriodNS is the time to clock one data bit: two half-bit edges,
// alternating between the two data lines.
const BitPeriodNS = MinClockPeriodNS * 2

// MapleOpenLineCheckTimeUS is the board configuration's open-line check
// window. Driver.Write does not use it: its line check is a single
// LineIdle sample taken just before transmitting.
const MapleOpenLineCheckTimeUS = 2

// MapleWriteTimeoutExtraPercent is the slack added on top of a write's
// computed transmit time before the bus driver gives up and reports
// WRITE_FAILED(TIMEOUT).
const MapleWriteTimeoutExtraPercent = 50

// MapleInterWordReadTimeoutUS is the maximum silence, in microseconds,
// allowed between two consecutive words of an in-progress read before the
// bus driver gives up and reports READ_FAILED(TIMEOUT). This bound applies
// only while Phase is READ_IN_PROGRESS — a read that hasn't started yet is
// governed by the response timeout passed to Write/StartRead instead.
const MapleInterWordReadTimeoutUS = 1000

// NoTimeout is the sentinel passed as a timeout to mean "never expire".
const NoTimeout uint64 = 1<<64 - 1

// Source is a monotonic microsecond clock. Driver and Scheduler take one
// instead of calling time.Now directly so tests can supply a fake source
// and so a future hardware backend can supply a free-running counter
// instead of the Go runtime's clock.
type Source interface {
	NowUS() uint64
}

// System is a Source backed by the Go runtime's monotonic clock, anchored
// at the time it's created. It's what production code uses; tests use a
// Fake.
type System struct {
	start time.Time
}

// NewSystem returns a System clock anchored at the current time.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// NowUS returns microseconds elapsed since the System was created.
func (s *System) NowUS() uint64 {
	return uint64(time.Since(s.start).Microseconds())
}

// Fake is a Source for tests: NowUS returns whatever was last set, and
// never advances on its own.
type Fake struct {
	us uint64
}

// NewFake returns a Fake clock starting at the given time.
func NewFake(startUS uint64) *Fake {
	return &Fake{us: startUS}
}

// NowUS returns the fake clock's current time.
func (f *Fake) NowUS() uint64 { return f.us }

// Set moves the fake clock to an absolute time. It must be called with a
// time not earlier than the current one; callers that want to step forward
// should use Advance.
func (f *Fake) Set(us uint64) { f.us = us }

// Advance moves the fake clock forward by d microseconds and returns the
// new time.
func (f *Fake) Advance(d uint64) uint64 {
	f.us += d
	return f.us
}
