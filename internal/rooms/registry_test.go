package rooms

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mundotango/realtime/internal/testutil"
)

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	r.Join("c1", "entity:memory:42")
	r.Join("c1", "entity:memory:42")

	assert.Len(t, r.MembersOf("entity:memory:42"), 1, "double join must not duplicate membership")
	assert.True(t, r.Contains("c1", "entity:memory:42"))
	assert.Len(t, r.Rooms("c1"), 1)
}

func TestRegistry_LeaveNonMemberIsNoop(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	r.Join("c1", "entity:memory:42")
	r.Leave("c2", "entity:memory:42")
	r.Leave("c1", "locality:Paris")

	assert.Len(t, r.MembersOf("entity:memory:42"), 1)
	assert.True(t, r.Contains("c1", "entity:memory:42"))
}

func TestRegistry_LeaveDropsEmptyRoom(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	r.Join("c1", "locality:Paris")
	assert.Equal(t, 1, r.Len())

	r.Leave("c1", "locality:Paris")
	assert.Equal(t, 0, r.Len(), "empty rooms are garbage-free")
	assert.Empty(t, r.MembersOf("locality:Paris"))
	assert.Empty(t, r.Rooms("c1"))
}

func TestRegistry_DropRemovesConnectionEverywhere(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	joined := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		roomID := fmt.Sprintf("entity:event:%d", i)
		r.Join("c1", roomID)
		joined = append(joined, roomID)
	}
	r.Join("c2", "entity:event:0")

	left := r.Drop("c1")
	assert.ElementsMatch(t, joined, left, "Drop returns exactly the rooms the connection had joined")

	for _, roomID := range joined {
		assert.NotContains(t, r.MembersOf(roomID), "c1")
	}
	assert.Contains(t, r.MembersOf("entity:event:0"), "c2", "other members are untouched")
	assert.Empty(t, r.Rooms("c1"))

	// Dropping again is a no-op.
	assert.Empty(t, r.Drop("c1"))
}

func TestRegistry_MembersOfReturnsSnapshot(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	r.Join("c1", "global")
	r.Join("c2", "global")

	members := r.MembersOf("global")
	r.Leave("c1", "global")

	assert.ElementsMatch(t, []string{"c1", "c2"}, members, "snapshot is not affected by later mutation")
	assert.ElementsMatch(t, []string{"c2"}, r.MembersOf("global"))
}

func TestRegistry_ManyToMany(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	r.Join("c1", "entity:memory:1")
	r.Join("c1", "locality:Buenos Aires")
	r.Join("c2", "entity:memory:1")

	assert.ElementsMatch(t, []string{"c1", "c2"}, r.MembersOf("entity:memory:1"))
	assert.ElementsMatch(t, []string{"entity:memory:1", "locality:Buenos Aires"}, r.Rooms("c1"))
}

func TestRegistry_EmptyIDsIgnored(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	r.Join("", "global")
	r.Join("c1", "")

	assert.Equal(t, 0, r.Len())
}
