// Package rooms tracks which connections belong to which broadcast rooms.
//
// The registry is an injected service object, not a package singleton, so
// tests can instantiate isolated instances. All mutations are expected to
// run on the realtime server's single event loop; the registry therefore
// carries no internal locking. Membership is process-local; scaling past
// one process requires an external broadcast bus, which this design
// deliberately does not include.
package rooms

import (
	"github.com/rs/zerolog"
)

// Registry maintains a many-to-many mapping between connection ids and
// room ids. Rooms are never explicitly created or destroyed: a room exists
// exactly while it has members.
type Registry struct {
	// members indexes room id -> set of connection ids.
	members map[string]map[string]struct{}
	// joined indexes connection id -> set of room ids, so disconnect
	// cleanup is proportional to the rooms that connection joined.
	joined map[string]map[string]struct{}

	log zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
		log:     logger.With().Str("component", "rooms").Logger(),
	}
}

// Join adds connID to roomID's member set, creating the set lazily.
// Idempotent.
func (r *Registry) Join(connID, roomID string) {
	if connID == "" || roomID == "" {
		return
	}

	set, ok := r.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		r.members[roomID] = set
	}
	if _, ok := set[connID]; ok {
		return
	}
	set[connID] = struct{}{}

	rs, ok := r.joined[connID]
	if !ok {
		rs = make(map[string]struct{})
		r.joined[connID] = rs
	}
	rs[roomID] = struct{}{}

	r.log.Debug().Str("conn_id", connID).Str("room_id", roomID).Msg("joined room")
}

// Leave removes connID from roomID. Leaving a room the connection is not a
// member of is a no-op. Empty member sets are dropped.
func (r *Registry) Leave(connID, roomID string) {
	set, ok := r.members[roomID]
	if !ok {
		return
	}
	if _, ok := set[connID]; !ok {
		return
	}

	delete(set, connID)
	if len(set) == 0 {
		delete(r.members, roomID)
	}

	if rs, ok := r.joined[connID]; ok {
		delete(rs, roomID)
		if len(rs) == 0 {
			delete(r.joined, connID)
		}
	}

	r.log.Debug().Str("conn_id", connID).Str("room_id", roomID).Msg("left room")
}

// Drop removes connID from every room it belonged to and returns those
// room ids. Runs in O(rooms joined by connID).
func (r *Registry) Drop(connID string) []string {
	rs, ok := r.joined[connID]
	if !ok {
		return nil
	}

	left := make([]string, 0, len(rs))
	for roomID := range rs {
		left = append(left, roomID)
		if set, ok := r.members[roomID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.members, roomID)
			}
		}
	}
	delete(r.joined, connID)

	r.log.Debug().Str("conn_id", connID).Int("rooms", len(left)).Msg("dropped connection")
	return left
}

// MembersOf returns a snapshot of roomID's member set. A room with no
// members yields an empty slice.
func (r *Registry) MembersOf(roomID string) []string {
	set, ok := r.members[roomID]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(set))
	for connID := range set {
		ids = append(ids, connID)
	}
	return ids
}

// Rooms returns a snapshot of the room ids connID has joined.
func (r *Registry) Rooms(connID string) []string {
	rs, ok := r.joined[connID]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(rs))
	for roomID := range rs {
		ids = append(ids, roomID)
	}
	return ids
}

// Contains reports whether connID is currently a member of roomID.
func (r *Registry) Contains(connID, roomID string) bool {
	set, ok := r.members[roomID]
	if !ok {
		return false
	}
	_, ok = set[connID]
	return ok
}

// Len returns the number of non-empty rooms.
func (r *Registry) Len() int {
	return len(r.members)
}
