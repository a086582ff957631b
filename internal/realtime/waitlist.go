package realtime

// WaitlistBook assigns monotonic waitlist positions per event. Positions
// are ephemeral, in the same lifetime class as presence: a restart clears
// them and the Domain Service remains the durable record.
//
// Confined to the server loop, so no locking.
type WaitlistBook struct {
	queues map[string][]string
}

func NewWaitlistBook() *WaitlistBook {
	return &WaitlistBook{queues: make(map[string][]string)}
}

// Join appends userID to eventID's waitlist and returns its 1-based
// position. Joining twice returns the existing position.
func (b *WaitlistBook) Join(eventID, userID string) int {
	q := b.queues[eventID]
	for i, id := range q {
		if id == userID {
			return i + 1
		}
	}

	b.queues[eventID] = append(q, userID)
	return len(q) + 1
}

// Leave removes userID from eventID's waitlist, compacting positions
// behind it. Returns false when the user was not waitlisted.
func (b *WaitlistBook) Leave(eventID, userID string) bool {
	q := b.queues[eventID]
	for i, id := range q {
		if id == userID {
			b.queues[eventID] = append(q[:i], q[i+1:]...)
			if len(b.queues[eventID]) == 0 {
				delete(b.queues, eventID)
			}
			return true
		}
	}
	return false
}

// Position returns userID's current 1-based position on eventID's
// waitlist.
func (b *WaitlistBook) Position(eventID, userID string) (int, bool) {
	for i, id := range b.queues[eventID] {
		if id == userID {
			return i + 1, true
		}
	}
	return 0, false
}

// Len returns the number of users waitlisted for eventID.
func (b *WaitlistBook) Len(eventID string) int {
	return len(b.queues[eventID])
}
