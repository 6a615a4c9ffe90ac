package schedule

import (
	"github.com/OrangeFox86/DreamPort/packet"
	"github.com/OrangeFox86/DreamPort/transmitter"
)

// Endpoint is a thin facade binding a fixed priority to the shared
// Scheduler, for one logical bus endpoint. Cancellation and recipient
// counting forward to the whole Scheduler, not just this endpoint's own
// additions: recipient addresses are globally unique on a Maple bus, so a
// cancel-by-recipient from any endpoint should reach a Transmission no
// matter which endpoint queued it.
type Endpoint struct {
	scheduler *Scheduler
	priority  uint8
}

// NewEndpoint returns an Endpoint bound to scheduler at the given fixed
// priority.
func NewEndpoint(scheduler *Scheduler, priority uint8) *Endpoint {
	return &Endpoint{scheduler: scheduler, priority: priority}
}

// Add schedules pkt at this endpoint's fixed priority. See Scheduler.Add
// for parameter semantics.
func (e *Endpoint) Add(
	txTime uint64,
	now uint64,
	tx transmitter.Transmitter,
	pkt packet.Packet,
	expectResponse bool,
	expectedResponseWords uint32,
	autoRepeatUs uint64,
	autoRepeatEndUs uint64,
) uint32 {
	return e.scheduler.Add(e.priority, txTime, now, tx, pkt, expectResponse, expectedResponseWords, autoRepeatUs, autoRepeatEndUs)
}

// CancelByID cancels a Transmission by ID, schedule-wide.
func (e *Endpoint) CancelByID(id uint32) uint32 { return e.scheduler.CancelByID(id) }

// CancelByRecipient cancels every Transmission addressed to recipientAddr,
// schedule-wide.
func (e *Endpoint) CancelByRecipient(recipientAddr uint8) uint32 {
	return e.scheduler.CancelByRecipient(recipientAddr)
}

// CountRecipients counts Transmissions addressed to recipientAddr,
// schedule-wide.
func (e *Endpoint) CountRecipients(recipientAddr uint8) uint32 {
	return e.scheduler.CountRecipients(recipientAddr)
}

// CancelAll cancels every queued Transmission in the whole schedule, not
// just this endpoint's own additions, matching the original
// EndpointTxScheduler's delegation to the shared PrioritizedTxScheduler.
func (e *Endpoint) CancelAll() uint32 { return e.scheduler.CancelAll() }

// Priority returns this endpoint's fixed priority.
func (e *Endpoint) Priority() uint8 { return e.priority }
