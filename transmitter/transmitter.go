// Package transmitter defines the callback surface by which the scheduler
// and pump report a Transmission's outcome to whoever scheduled it.
package transmitter

import "github.com/OrangeFox86/DreamPort/packet"

// Transmitter is implemented by anything that schedules a Transmission:
// a peripheral state machine, a command parser, a housekeeping loop. All
// three methods are invoked from the pump's goroutine for the endpoint the
// Transmission was scheduled on — never from an interrupt handler.
//
// Exactly one of TxComplete or TxFailed follows a given TxStarted call. A
// Transmission canceled before the pump reaches it receives neither.
type Transmitter interface {
	// TxStarted is called just before the bus driver's Write, with the
	// Transmission identified by id (the id Scheduler.Add returned).
	TxStarted(id uint32)

	// TxComplete is called when the expected response (or, if none was
	// expected, immediately after a successful write) has been received.
	// response is nil if no response was expected.
	TxComplete(id uint32, response *packet.Packet)

	// TxFailed is called on a terminal wire failure. Exactly one of
	// writeFailed/readFailed is true: writeFailed when the write could not
	// start (the line-open check failed) or didn't complete in time,
	// readFailed when the write succeeded but
	// the response didn't arrive, was short, or failed its CRC.
	TxFailed(id uint32, writeFailed, readFailed bool)
}
