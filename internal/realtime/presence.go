package realtime

import (
	"time"

	"github.com/rs/zerolog"
)

// defaultTypingTTL bounds how long a typing indicator survives without a
// refresh. The platform this replaces never expired typing state, which
// left stuck indicators after abrupt disconnects; the TTL is a deliberate
// correction.
const defaultTypingTTL = 7 * time.Second

type typingKey struct {
	roomID string
	userID string
}

type typingEntry struct {
	displayName string
	timer       *time.Timer
}

// PresenceTracker holds ephemeral typing and online state. Nothing here
// is persisted; a process restart silently clears it all.
//
// Map access is confined to the server loop. Timer callbacks only post
// the expired key to the expiry channel; the loop does the mutation.
type PresenceTracker struct {
	ttl     time.Duration
	typing  map[typingKey]*typingEntry
	expired chan<- typingKey

	// conns counts live connections per user id, for online/offline edges.
	conns map[string]int

	log zerolog.Logger
}

func NewPresenceTracker(ttl time.Duration, expired chan<- typingKey, logger zerolog.Logger) *PresenceTracker {
	if ttl <= 0 {
		ttl = defaultTypingTTL
	}
	return &PresenceTracker{
		ttl:     ttl,
		typing:  make(map[typingKey]*typingEntry),
		expired: expired,
		conns:   make(map[string]int),
		log:     logger.With().Str("component", "presence").Logger(),
	}
}

// SetTyping records or clears a typing indicator. A fresh indicator is
// armed with the TTL; a repeat emission refreshes it. Returns false when
// clearing state that was not set, so callers can skip the rebroadcast.
func (p *PresenceTracker) SetTyping(roomID, userID, displayName string, typing bool) bool {
	key := typingKey{roomID: roomID, userID: userID}

	if !typing {
		entry, ok := p.typing[key]
		if !ok {
			return false
		}
		entry.timer.Stop()
		delete(p.typing, key)
		return true
	}

	if entry, ok := p.typing[key]; ok {
		entry.displayName = displayName
		entry.timer.Reset(p.ttl)
		return true
	}

	p.typing[key] = &typingEntry{
		displayName: displayName,
		timer: time.AfterFunc(p.ttl, func() {
			// Non-blocking: if the loop is gone the expiry is moot.
			select {
			case p.expired <- key:
			default:
			}
		}),
	}
	return true
}

// Expire removes a timed-out typing entry, returning its display name so
// the loop can emit the synthetic stopped-typing broadcast. ok is false
// when the entry was already cleared by an explicit stop.
func (p *PresenceTracker) Expire(key typingKey) (displayName string, ok bool) {
	entry, ok := p.typing[key]
	if !ok {
		return "", false
	}

	delete(p.typing, key)
	p.log.Debug().Str("room_id", key.roomID).Str("user_id", key.userID).Msg("typing indicator expired")
	return entry.displayName, true
}

// TypingIn returns the user ids currently marked typing in roomID.
func (p *PresenceTracker) TypingIn(roomID string) []string {
	var ids []string
	for key := range p.typing {
		if key.roomID == roomID {
			ids = append(ids, key.userID)
		}
	}
	return ids
}

// AddConnection counts a connection for userID, reporting whether the
// user just came online.
func (p *PresenceTracker) AddConnection(userID string) bool {
	if userID == "" {
		return false
	}
	p.conns[userID]++
	return p.conns[userID] == 1
}

// RemoveConnection drops a connection for userID, reporting whether the
// user just went offline. Typing indicators owned by the user are cleared
// alongside the last connection.
func (p *PresenceTracker) RemoveConnection(userID string) bool {
	if userID == "" {
		return false
	}

	n, ok := p.conns[userID]
	if !ok {
		return false
	}
	if n > 1 {
		p.conns[userID] = n - 1
		return false
	}
	delete(p.conns, userID)

	for key, entry := range p.typing {
		if key.userID == userID {
			entry.timer.Stop()
			delete(p.typing, key)
		}
	}
	return true
}

// Online reports whether userID has at least one live connection.
func (p *PresenceTracker) Online(userID string) bool {
	return p.conns[userID] > 0
}

// StopAll stops every pending typing timer. Used on shutdown.
func (p *PresenceTracker) StopAll() {
	for key, entry := range p.typing {
		entry.timer.Stop()
		delete(p.typing, key)
	}
}
