// Package pio declares the hardware backend that bit-bangs one Maple Bus
// wire pair: the two programmable I/O state machines and DMA channels
// (one transmit, one receive) that bus.Driver drives through processEvents
// and a pair of completion callbacks. Two implementations satisfy it, one
// per build tag: bus/pio/stub for host tests and examples, bus/pio/rp2040
// for the real microcontroller.
package pio

// Backend abstracts the PIO state machines, DMA channels, and the shared
// direction pin for one physical two-wire bus. Driver submits a fully
// assembled TX word buffer and observes RX completion through callbacks
// rather than polling hardware registers directly — "submit N-bit TX
// buffer then observe RX completion ISRs."
type Backend interface {
	// LineIdle reports whether both data lines currently read high: no
	// other node is driving the bus low.
	LineIdle() bool

	// SetDirection switches the shared direction pin: true drives the bus
	// (transmit direction), false releases it to the pull-ups (receive
	// direction). A bus with no direction pin wired treats this as a
	// no-op.
	SetDirection(out bool)

	// StartWrite begins transmitting words over the TX state machine and
	// its DMA channel. onDone is invoked exactly once, when the state
	// machine's program reaches its end sequence, from whatever context
	// the backend delivers completion on (an interrupt handler on real
	// hardware; the calling goroutine, synchronously, on the stub).
	StartWrite(words []uint32, onDone func())

	// StopWrite aborts a write in progress. hard selects an immediate
	// stop over a soft stop that lets the state machine reach a clean
	// boundary before halting. Driver calls it only when a write times out,
	// always with a hard stop; a normally completed write is not stopped.
	StopWrite(hard bool)

	// StartRead arms the RX state machine and its DMA channel. onStart
	// fires once a start sequence is detected; onEnd fires once an end
	// sequence completes the frame. Either may never fire if StopRead is
	// called first or the line stays silent.
	StartRead(onStart, onEnd func())

	// StopRead aborts a read in progress or armed but not yet started.
	StopRead()

	// WordsReceived returns how many words the RX DMA channel has written
	// into its buffer so far.
	WordsReceived() int

	// BufferCapacity is the RX buffer's total word capacity. The buffer
	// is sized one word larger than the protocol's maximum frame so that
	// WordsReceived reaching BufferCapacity unambiguously means overflow,
	// never normal completion.
	BufferCapacity() int

	// ReadWords copies up to len(dst) received words into dst, in receive
	// order, and returns the number copied.
	ReadWords(dst []uint32) int

	// RxFIFODrained reports whether the state machine's receive FIFO has
	// been fully drained into the DMA buffer. Driver polls this for a
	// bounded window after an end sequence before trusting WordsReceived.
	RxFIFODrained() bool
}
