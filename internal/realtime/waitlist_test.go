package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWaitlistBook_MonotonicPositions(t *testing.T) {
	b := NewWaitlistBook()

	assert.Equal(t, 1, b.Join("ev1", "u1"))
	assert.Equal(t, 2, b.Join("ev1", "u2"))
	assert.Equal(t, 3, b.Join("ev1", "u3"))
	assert.Equal(t, 3, b.Len("ev1"))
}

func TestWaitlistBook_JoinTwiceKeepsPosition(t *testing.T) {
	b := NewWaitlistBook()

	b.Join("ev1", "u1")
	b.Join("ev1", "u2")

	assert.Equal(t, 2, b.Join("ev1", "u2"), "re-joining returns the existing position")
	assert.Equal(t, 2, b.Len("ev1"))
}

func TestWaitlistBook_LeaveCompacts(t *testing.T) {
	b := NewWaitlistBook()

	b.Join("ev1", "u1")
	b.Join("ev1", "u2")
	b.Join("ev1", "u3")

	assert.True(t, b.Leave("ev1", "u1"))

	pos, ok := b.Position("ev1", "u2")
	assert.True(t, ok)
	assert.Equal(t, 1, pos, "positions behind a leaver move up")

	pos, ok = b.Position("ev1", "u3")
	assert.True(t, ok)
	assert.Equal(t, 2, pos)
}

func TestWaitlistBook_LeaveUnknown(t *testing.T) {
	b := NewWaitlistBook()

	assert.False(t, b.Leave("ev1", "nobody"))

	b.Join("ev1", "u1")
	assert.False(t, b.Leave("ev1", "u2"))
	assert.Equal(t, 1, b.Len("ev1"))
}

func TestWaitlistBook_PerEventQueues(t *testing.T) {
	b := NewWaitlistBook()

	assert.Equal(t, 1, b.Join("ev1", "u1"))
	assert.Equal(t, 1, b.Join("ev2", "u1"), "queues are independent per event")
}
