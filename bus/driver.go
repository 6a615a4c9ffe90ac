// Package bus implements the dual transmit/receive state machine that
// frames, transmits, and receives Maple packets on one half-duplex
// two-wire bus endpoint. Driver is polled by ProcessEvents and driven by
// two hardware completion events delivered through the bus/pio.Backend it
// wraps.
package bus

import (
	"sync/atomic"

	"github.com/OrangeFox86/DreamPort/bus/pio"
	"github.com/OrangeFox86/DreamPort/clock"
	"github.com/OrangeFox86/DreamPort/debug"
	"github.com/OrangeFox86/DreamPort/packet"
)

// Status is what ProcessEvents reports for the phase it just consumed.
// Packet is non-nil only when Phase is ReadComplete and carries the
// validated response.
type Status struct {
	Phase         Phase
	FailureReason FailureReason
	Packet        *packet.Packet
}

// Driver owns one physical two-wire bus endpoint: a TX state machine/DMA
// channel, an RX state machine/DMA channel, and the shared direction pin,
// all behind a pio.Backend. Its phase and the timestamps processEvents
// reasons about are plain atomics rather than a lock: they're written
// from the backend's completion callbacks (an interrupt handler on real
// hardware, an ordinary goroutine on the stub, either way a context that
// must never block) and read from whichever goroutine polls ProcessEvents.
// A double-buffered single-writer handoff, the shape the original
// firmware's single-core interrupt model allows, isn't safe here: Go
// gives no guarantee that a completion callback and a ProcessEvents call
// never overlap, so every field that crosses that boundary is a genuine
// atomic, not a value protected by call-sequencing alone.
type Driver struct {
	backend pio.Backend
	clock   clock.Source

	phase atomic.Int32

	expectingResponse atomic.Bool
	responseTimeoutUs atomic.Uint64
	procKillTime      atomic.Uint64

	lastReadWords          atomic.Int32
	lastReceivedWordTimeUs atomic.Uint64

	readBuf []uint32
}

// NewDriver returns an idle Driver wrapping backend, using source for
// timestamps computed internally (Write and StartRead's kill-time
// deadlines). ProcessEvents takes its caller's notion of "now" explicitly
// instead, so tests can drive it with times that don't have to match
// source.
func NewDriver(backend pio.Backend, source clock.Source) *Driver {
	d := &Driver{backend: backend, clock: source}
	d.phase.Store(int32(Idle))
	d.procKillTime.Store(clock.NoTimeout)
	return d
}

func (d *Driver) loadPhase() Phase { return Phase(d.phase.Load()) }

// Phase returns the driver's current phase.
func (d *Driver) Phase() Phase { return d.loadPhase() }

// Write transmits packet and, if autostartRead, arms the RX side to
// receive a response with readTimeoutUs before the driver gives up on it.
// delay paces the transfer in chunks when non-zero. Returns false without
// effect if the driver isn't IDLE or the line-open check fails.
func (d *Driver) Write(p *packet.Packet, autostartRead bool, readTimeoutUs uint64, delay DelayDefinition) bool {
	if !d.phase.CompareAndSwap(int32(Idle), int32(WriteInProgress)) {
		return false
	}

	if !d.lineCheck() {
		d.phase.Store(int32(Idle))
		return false
	}

	var buf []uint32
	var extraTimeUs uint64
	if delay.DelayUs == 0 || delay.FirstWordChunk >= uint32(len(p.Payload)+1) {
		buf = buildWriteBuffer(p)
	} else {
		buf = buildWriteBufferChunked(p, delay)
		numChunks := uint64(0)
		if delay.SecondWordChunk > 0 {
			remaining := uint32(len(p.Payload)) - (delay.FirstWordChunk - 1)
			numChunks = uint64((remaining + delay.SecondWordChunk - 1) / delay.SecondWordChunk)
		}
		extraTimeUs = numChunks * (uint64(delay.DelayUs) + 1)
	}

	d.expectingResponse.Store(autostartRead)
	d.responseTimeoutUs.Store(readTimeoutUs)

	// The kill-time deadline for WRITE_IN_PROGRESS must be in place before
	// the backend is armed: StartWrite's onDone can fire synchronously (the
	// stub backend does), and onTxEnd will already have moved the phase on
	// and recomputed procKillTime for its own deadline by the time this
	// function would otherwise overwrite it.
	totalWriteTimeNs := uint64(p.TotalBits()) * clock.BitPeriodNS
	totalWriteTimeNs += totalWriteTimeNs * clock.MapleWriteTimeoutExtraPercent / 100
	d.procKillTime.Store(d.clock.NowUS() + ceilDiv(totalWriteTimeNs, 1000) + extraTimeUs)

	d.backend.SetDirection(true)
	if autostartRead {
		d.backend.StartRead(d.onRxStart, d.onRxEnd)
	}
	d.backend.StartWrite(buf, d.onTxEnd)

	return true
}

// StartRead arms the RX side without a preceding write, for a driver that
// expects to be polled by a responder rather than initiating the
// exchange. Returns false without effect if the driver isn't IDLE.
func (d *Driver) StartRead(readTimeoutUs uint64) bool {
	if !d.phase.CompareAndSwap(int32(Idle), int32(WaitingForReadStart)) {
		return false
	}

	if readTimeoutUs == clock.NoTimeout {
		d.procKillTime.Store(clock.NoTimeout)
	} else {
		d.procKillTime.Store(d.clock.NowUS() + readTimeoutUs)
	}
	d.responseTimeoutUs.Store(readTimeoutUs)

	d.backend.SetDirection(false)
	d.lastReadWords.Store(0)
	d.backend.StartRead(d.onRxStart, d.onRxEnd)

	return true
}

// lineCheck delegates the open-line check to the backend: one LineIdle
// sample taken just before transmitting. It does not watch the lines over
// a window, and MapleOpenLineCheckTimeUS is not consulted; Driver itself
// never busy-waits on a clock it doesn't own.
func (d *Driver) lineCheck() bool {
	return d.backend.LineIdle()
}

// onTxEnd is the TX completion callback: called once the TX program
// reaches its end sequence.
func (d *Driver) onTxEnd() {
	if d.expectingResponse.Load() {
		d.backend.SetDirection(false)
		timeout := d.responseTimeoutUs.Load()
		if timeout == clock.NoTimeout {
			d.procKillTime.Store(clock.NoTimeout)
		} else {
			d.procKillTime.Store(d.clock.NowUS() + timeout)
		}
		d.phase.Store(int32(WaitingForReadStart))
	} else {
		d.phase.Store(int32(WriteComplete))
	}
}

// onRxStart is the RX start-sequence-detected callback.
func (d *Driver) onRxStart() {
	if d.loadPhase() != WaitingForReadStart {
		return
	}
	d.lastReceivedWordTimeUs.Store(d.clock.NowUS())
	d.phase.Store(int32(ReadInProgress))
}

// onRxEnd is the RX end-sequence-detected callback.
func (d *Driver) onRxEnd() {
	if d.loadPhase() != ReadInProgress {
		return
	}
	d.backend.StopRead()
	d.phase.Store(int32(ReadComplete))
}

// rxDrainWindowUs bounds how long ProcessEvents waits, after an end
// sequence, for the receive FIFO to finish draining into the DMA buffer
// before it trusts the word count it sees.
const rxDrainWindowUs = 1000

// ProcessEvents is polled by the caller with the current time. It
// validates and consumes a just-completed phase (ReadComplete,
// WriteComplete) or ends an operation that has timed out or overflowed the
// read buffer, returning the terminal Status the caller should act on and
// resetting the driver to IDLE. Otherwise it reports the phase observed at
// entry and leaves it in place. It works from the phase observed at entry,
// even if a completion callback changes it again before this call returns.
func (d *Driver) ProcessEvents(now uint64) Status {
	phase := d.loadPhase()
	status := Status{Phase: phase}

	switch phase {
	case ReadComplete:
		status = d.finishRead()
		d.phase.Store(int32(Idle))

	case WriteComplete:
		d.phase.Store(int32(Idle))

	case ReadInProgress:
		capacity := d.backend.BufferCapacity()
		words := d.backend.WordsReceived()
		if words >= capacity {
			status.Phase = ReadFailed
			status.FailureReason = BufferOverflow
			d.phase.Store(int32(Idle))
		} else if int32(words) == d.lastReadWords.Load() {
			last := d.lastReceivedWordTimeUs.Load()
			if now > last && now-last >= clock.MapleInterWordReadTimeoutUS {
				d.backend.StopRead()
				status.Phase = ReadFailed
				status.FailureReason = Timeout
				d.phase.Store(int32(Idle))
			}
		} else {
			d.lastReadWords.Store(int32(words))
			d.lastReceivedWordTimeUs.Store(now)
		}

	default:
		if !phase.terminal() && phase != Idle && now >= d.procKillTime.Load() {
			if phase == WaitingForReadStart {
				d.backend.StopRead()
				status.Phase = ReadFailed
				status.FailureReason = Timeout
			} else {
				d.backend.StopWrite(true)
				d.backend.StopRead()
				d.backend.SetDirection(false)
				status.Phase = WriteFailed
				status.FailureReason = Timeout
			}
			d.phase.Store(int32(Idle))
		}
	}

	return status
}

// finishRead drains the RX FIFO's last stragglers, reads back the DMA
// buffer, and validates it against the frame word's declared length and
// the CRC trailer. It does not itself reset the phase.
func (d *Driver) finishRead() Status {
	deadline := d.clock.NowUS() + rxDrainWindowUs
	for !d.backend.RxFIFODrained() && d.clock.NowUS() < deadline {
	}

	dmaWordsRead := d.backend.WordsReceived()
	if cap(d.readBuf) < d.backend.BufferCapacity() {
		d.readBuf = make([]uint32, d.backend.BufferCapacity())
	}
	buf := d.readBuf[:dmaWordsRead]
	n := d.backend.ReadWords(buf)
	debug.Assert(n == dmaWordsRead, "bus: backend reported fewer words than ReadWords copied")

	if dmaWordsRead <= 1 {
		return Status{Phase: ReadFailed, FailureReason: MissingData}
	}

	length := int(uint8(buf[0]))
	if length > dmaWordsRead-2 {
		return Status{Phase: ReadFailed, FailureReason: MissingData}
	}

	crcScratch := packet.Packet{Frame: packet.FromWord(buf[0]), Payload: buf[1 : dmaWordsRead-1]}
	computedCRC := crcScratch.CRC()
	receivedCRC := uint8(buf[dmaWordsRead-1])
	if computedCRC != receivedCRC {
		return Status{Phase: ReadFailed, FailureReason: CRCInvalid}
	}

	var result packet.Packet
	result.Set(buf[:dmaWordsRead-1], dmaWordsRead-1)
	return Status{Phase: ReadComplete, Packet: &result}
}

func ceilDiv(numerator, denominator uint64) uint64 {
	return (numerator + denominator - 1) / denominator
}
