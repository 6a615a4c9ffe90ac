package schedule

import (
	"sync/atomic"

	"github.com/OrangeFox86/DreamPort/packet"
	"github.com/OrangeFox86/DreamPort/transmitter"
)

// MaxEndpoints bounds how many physical Maple Bus endpoints one host is
// expected to manage — the Dreamcast has four controller ports. Scheduler
// doesn't enforce this; it's documentation for Host (see pump.Host).
const MaxEndpoints = 4

// Transmission is a scheduled packet plus the metadata the scheduler and
// the pump need to deliver it and, if requested, repeat it. The scheduler
// hands out a *Transmission from PopNext; from that moment the pump is the
// sole owner until the matching terminal Transmitter callback returns.
type Transmission struct {
	ID                    uint32
	Priority              uint8
	NextTxTime            uint64
	Packet                packet.Packet
	Transmitter           transmitter.Transmitter
	ExpectResponse        bool
	ExpectedResponseWords uint32
	AutoRepeatUs          uint64
	AutoRepeatEndUs       uint64

	canceled atomic.Bool
}

// Canceled reports whether CancelByID/CancelByRecipient/CancelAll has
// marked this Transmission canceled. Safe to call concurrently with
// Cancel*; once true it never reverts.
func (t *Transmission) Canceled() bool {
	return t.canceled.Load()
}
