// Package pump implements the per-endpoint bus pump: the loop that pops due
// Transmissions off a schedule, drives one bus.Driver through a write/read
// cycle, and dispatches the result back to whoever scheduled it.
package pump

import (
	"github.com/OrangeFox86/DreamPort/bus"
	"github.com/OrangeFox86/DreamPort/clock"
	"github.com/OrangeFox86/DreamPort/packet"
	"github.com/OrangeFox86/DreamPort/schedule"
)

// Node drives one physical bus: pop the next due Transmission, write it,
// poll the driver to completion, dispatch the outcome, and handle the two
// things the scheduler itself doesn't — resend-on-request and auto-repeat
// reinsertion. One Node per bus.Driver; Host owns one Node per endpoint on
// a multi-bus host.
type Node struct {
	scheduler         *schedule.Scheduler
	driver            *bus.Driver
	responseTimeoutUs uint64

	// senderAddr, when non-nil, is the single-sender shortcut address: every
	// outgoing packet's SenderAddr is rewritten to this value and its
	// RecipientAddr's upper two bits are rewritten to match, so a caller
	// can schedule packets without knowing which port it was assigned.
	senderAddr *uint8

	active         *schedule.Transmission
	lastSentPacket packet.Packet
	haveLastSent   bool
}

// NewNode returns a Node driving driver, popping from scheduler, with
// responseTimeoutUs passed to every Write that expects a response.
func NewNode(scheduler *schedule.Scheduler, driver *bus.Driver, responseTimeoutUs uint64) *Node {
	return &Node{scheduler: scheduler, driver: driver, responseTimeoutUs: responseTimeoutUs}
}

// SetSingleSenderAddr enables the single-sender shortcut: every packet this
// Node writes has its SenderAddr forced to addr and its RecipientAddr's
// upper two bits rewritten to match.
func (n *Node) SetSingleSenderAddr(addr uint8) {
	n.senderAddr = &addr
}

// Tick advances the pump by one step: it drains any terminal event from the
// driver for the in-flight Transmission, then, if the bus is idle and
// nothing is in flight, starts the next due Transmission.
func (n *Node) Tick(now uint64) {
	if n.active != nil {
		status := n.driver.ProcessEvents(now)
		switch status.Phase {
		case bus.ReadComplete, bus.WriteComplete, bus.ReadFailed, bus.WriteFailed:
			n.handleTerminal(now, status)
		}
		return
	}

	if n.driver.Phase() != bus.Idle {
		return
	}

	tx := n.scheduler.PopNext(now)
	if tx == nil {
		return
	}
	n.start(now, tx)
}

// start writes tx's packet and marks it as the Node's in-flight
// Transmission. Called for a freshly popped Transmission; a resend-on-request
// reissue of the buffered last packet goes through resend instead. If the
// driver refuses the write, tx fails as a write failure.
func (n *Node) start(now uint64, tx *schedule.Transmission) {
	n.applySingleSenderShortcut(&tx.Packet)
	n.lastSentPacket = tx.Packet
	n.haveLastSent = true

	tx.Transmitter.TxStarted(tx.ID)
	n.active = tx

	timeout := clock.NoTimeout
	if tx.ExpectResponse {
		timeout = n.responseTimeoutUs
	}
	if !n.driver.Write(&tx.Packet, tx.ExpectResponse, timeout, bus.DelayDefinition{}) {
		n.handleTerminal(now, bus.Status{Phase: bus.WriteFailed})
	}
}

func (n *Node) applySingleSenderShortcut(p *packet.Packet) {
	if n.senderAddr == nil {
		return
	}
	addr := *n.senderAddr
	p.Frame.SenderAddr = addr
	p.Frame.RecipientAddr = (p.Frame.RecipientAddr & 0x3F) | (addr & 0xC0)
}

// handleTerminal dispatches a just-consumed terminal bus.Status for the
// in-flight Transmission: a resend request reissues the buffered packet
// without touching the schedule or the Transmitter; anything else completes
// or fails the Transmission and, if it auto-repeats, re-adds it.
func (n *Node) handleTerminal(now uint64, status bus.Status) {
	tx := n.active

	if status.Phase == bus.ReadComplete && status.Packet != nil &&
		status.Packet.Frame.Command == packet.CommandResponseRequestResend {
		n.resend(now, tx)
		return
	}

	switch status.Phase {
	case bus.ReadComplete:
		tx.Transmitter.TxComplete(tx.ID, status.Packet)
	case bus.WriteComplete:
		tx.Transmitter.TxComplete(tx.ID, nil)
	case bus.ReadFailed:
		tx.Transmitter.TxFailed(tx.ID, false, true)
	case bus.WriteFailed:
		tx.Transmitter.TxFailed(tx.ID, true, false)
	}

	n.active = nil

	if tx.AutoRepeatUs != 0 && !tx.Canceled() &&
		(tx.AutoRepeatEndUs == 0 || now < tx.AutoRepeatEndUs) {
		tx.NextTxTime = schedule.ComputeNextTimeCadence(now, tx.AutoRepeatUs, tx.NextTxTime)
		n.scheduler.Readd(tx)
	}
}

// resend reissues the buffered last packet sent to this endpoint, in place
// of consulting the scheduler for the next due Transmission. The original
// Transmission stays in flight: its Transmitter has not yet been told
// TxComplete/TxFailed, and won't be until a real response (or a wire
// failure) eventually lands. If the driver refuses the rewrite, the
// Transmission fails as a write failure.
func (n *Node) resend(now uint64, tx *schedule.Transmission) {
	if !n.haveLastSent {
		tx.Transmitter.TxFailed(tx.ID, false, true)
		n.active = nil
		return
	}
	if !n.driver.Write(&n.lastSentPacket, tx.ExpectResponse, n.responseTimeoutUs, bus.DelayDefinition{}) {
		n.handleTerminal(now, bus.Status{Phase: bus.WriteFailed})
	}
}
