// Package schedule implements the process-wide prioritized transmission
// scheduler (PrioritizedTxScheduler in the original firmware) and the
// fixed-priority per-endpoint facade in front of it (EndpointTxScheduler).
package schedule

import (
	"sync"

	"github.com/OrangeFox86/DreamPort/packet"
	"github.com/OrangeFox86/DreamPort/transmitter"
)

// TxTimeASAP, used as the txTime argument to Add, means "due immediately".
const TxTimeASAP uint64 = 0

// Scheduler is a multi-queue ordered by (priority ascending, nextTxTime
// ascending): within a priority level, FIFO among equal times. Add,
// PopNext, and every Cancel* are linearizable with respect to each other —
// Add/Cancel* are called from producer goroutines (command parsers,
// peripheral state machines), PopNext from each bus's pump goroutine, and
// this type serializes all of it behind one mutex. The schedule is small
// (a handful of endpoints, a handful of in-flight transmissions each), so
// a single lock is simpler than a lock-free structure and never shows up
// as contention in practice.
type Scheduler struct {
	mu     sync.Mutex
	nextID uint32
	queues [][]*Transmission // indexed by priority, each ordered by NextTxTime ascending
}

// NewScheduler returns a Scheduler with priorities [0, maxPriority]
// (0 is highest).
func NewScheduler(maxPriority uint8) *Scheduler {
	return &Scheduler{
		nextID: 1, // 0 is reserved: a Transmission ID is never 0.
		queues: make([][]*Transmission, int(maxPriority)+1),
	}
}

// Add schedules packet for transmission. now is used to resolve
// TxTimeASAP; pass the scheduler's current time. Returns the new
// Transmission's ID, which is never 0.
func (s *Scheduler) Add(
	priority uint8,
	txTime uint64,
	now uint64,
	tx transmitter.Transmitter,
	pkt packet.Packet,
	expectResponse bool,
	expectedResponseWords uint32,
	autoRepeatUs uint64,
	autoRepeatEndUs uint64,
) uint32 {
	nextTxTime := txTime
	if txTime == TxTimeASAP {
		nextTxTime = now
	}

	t := &Transmission{
		Priority:              priority,
		NextTxTime:            nextTxTime,
		Packet:                pkt,
		Transmitter:           tx,
		ExpectResponse:        expectResponse,
		ExpectedResponseWords: expectedResponseWords,
		AutoRepeatUs:          autoRepeatUs,
		AutoRepeatEndUs:       autoRepeatEndUs,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(t)
}

// addLocked allocates an ID for t, inserts it into its priority partition
// at the first position whose NextTxTime is strictly greater than t's
// (stable: equal times keep FIFO order), and returns the ID. Callers must
// hold s.mu.
func (s *Scheduler) addLocked(t *Transmission) uint32 {
	id := s.nextID
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1 // skip the reserved 0 on wraparound
	}
	t.ID = id

	q := s.queues[int(t.Priority)]
	i := 0
	for i < len(q) && q[i].NextTxTime <= t.NextTxTime {
		i++
	}
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = t
	s.queues[int(t.Priority)] = q

	return id
}

// readd re-inserts a Transmission the pump already popped (an auto-repeat
// reinsertion, see pump.Node). It does not allocate a new ID.
func (s *Scheduler) readd(t *Transmission) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[int(t.Priority)]
	i := 0
	for i < len(q) && q[i].NextTxTime <= t.NextTxTime {
		i++
	}
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = t
	s.queues[int(t.Priority)] = q
}

// Readd is the exported form of readd, used by pump.Node to reschedule a
// Transmission's next auto-repeat occurrence without minting a new ID.
func (s *Scheduler) Readd(t *Transmission) {
	s.readd(t)
}

// PopNext scans priorities ascending; within the lowest-numbered partition
// with a due entry, it returns that partition's head. A canceled head is
// dropped and the scan retries the same partition, so a burst of canceled
// entries doesn't block a due one behind them. Returns nil if nothing is
// due at now.
func (s *Scheduler) PopNext(now uint64) *Transmission {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p, q := range s.queues {
		for len(q) > 0 && q[0].Canceled() {
			q = q[1:]
		}
		s.queues[p] = q
		if len(q) == 0 {
			continue
		}
		if q[0].NextTxTime <= now {
			head := q[0]
			s.queues[p] = q[1:]
			return head
		}
	}
	return nil
}

// CancelByID marks the Transmission with the given ID canceled and removes
// it from the schedule if it's still queued. If the Transmission has
// already been popped by PopNext, this has no effect on the delivery
// already in flight — the contract is "not yet delivered", not "abort an
// in-progress send". Returns 1 if an entry was found and canceled, 0
// otherwise.
func (s *Scheduler) CancelByID(id uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p, q := range s.queues {
		for i, t := range q {
			if t.ID == id {
				t.canceled.Store(true)
				s.queues[p] = append(q[:i], q[i+1:]...)
				return 1
			}
		}
	}
	return 0
}

// CancelByRecipient cancels every queued Transmission whose packet is
// addressed to recipientAddr. Returns the number canceled.
func (s *Scheduler) CancelByRecipient(recipientAddr uint8) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(func(t *Transmission) bool {
		return t.Packet.Frame.RecipientAddr == recipientAddr
	})
}

// CountRecipients counts queued Transmissions addressed to recipientAddr,
// without removing them.
func (s *Scheduler) CountRecipients(recipientAddr uint8) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count uint32
	for _, q := range s.queues {
		for _, t := range q {
			if !t.Canceled() && t.Packet.Frame.RecipientAddr == recipientAddr {
				count++
			}
		}
	}
	return count
}

// CancelAll cancels and removes every queued Transmission. Returns the
// number canceled.
func (s *Scheduler) CancelAll() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(func(*Transmission) bool { return true })
}

// filterLocked cancels and removes every queued, not-yet-canceled entry for
// which match returns true. Callers must hold s.mu.
func (s *Scheduler) filterLocked(match func(*Transmission) bool) uint32 {
	var count uint32
	for p, q := range s.queues {
		kept := q[:0]
		for _, t := range q {
			if !t.Canceled() && match(t) {
				t.canceled.Store(true)
				count++
				continue
			}
			kept = append(kept, t)
		}
		s.queues[p] = kept
	}
	return count
}

// ComputeNextTimeCadence returns the smallest time strictly greater than
// now that is congruent to offset modulo period: the next occurrence of an
// auto-repeat cadence that began (or last fired) at offset. period must be
// greater than 0; callers are expected to guarantee this, since checking it
// on every call would cost more than the function itself.
//
// When now == offset, this returns offset + period, not offset itself: the
// boundary case is resolved in favor of "smallest time strictly greater
// than now" even when now sits exactly on a cadence tick.
func ComputeNextTimeCadence(now, period, offset uint64) uint64 {
	if now < offset {
		return offset - period*((offset-now-1)/period)
	}
	elapsed := now - offset
	return offset + period*(elapsed/period+1)
}
