package client

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/mundotango/realtime/internal/realtime"
	"github.com/mundotango/realtime/internal/types"
)

// Per-category live buffer capacities.
const (
	LikeBufferCap         = 10
	CommentBufferCap      = 20
	TypingBufferCap       = 10
	ActivityBufferCap     = 20
	NotificationBufferCap = 20
)

// Subscriber is the pure data layer behind the live-activity UI: it
// subscribes to the fixed broadcast set, folds incoming events into
// bounded buffers and an online-user set, and exposes snapshots. No
// rendering concerns live here, so it is testable without any UI.
//
// Duplicate or out-of-order delivery is tolerated as-is: a duplicate
// event shows up twice rather than being deduped.
type Subscriber struct {
	mu            sync.Mutex
	likes         *Ring[types.BroadcastEvent]
	comments      *Ring[types.BroadcastEvent]
	typing        *Ring[types.BroadcastEvent]
	activity      *Ring[types.BroadcastEvent]
	notifications *Ring[types.BroadcastEvent]
	online        map[string]struct{}

	unsubs []func()
}

// NewSubscriber attaches to m. Every subscription taken here is released
// by Close; leaking one is a teardown bug.
func NewSubscriber(m *Manager) *Subscriber {
	s := &Subscriber{
		likes:         NewRing[types.BroadcastEvent](LikeBufferCap),
		comments:      NewRing[types.BroadcastEvent](CommentBufferCap),
		typing:        NewRing[types.BroadcastEvent](TypingBufferCap),
		activity:      NewRing[types.BroadcastEvent](ActivityBufferCap),
		notifications: NewRing[types.BroadcastEvent](NotificationBufferCap),
		online:        make(map[string]struct{}),
	}

	sub := func(name string, fn func(*realtime.ServerMessage)) {
		s.unsubs = append(s.unsubs, m.Subscribe(name, fn))
	}

	sub(types.MemoryLiked, s.intoBuffer(s.likes))

	sub(types.MemoryCommented, s.intoBuffer(s.comments))
	sub(types.EventCommented, s.intoBuffer(s.comments))

	sub(types.MemoryUserTyping, s.intoBuffer(s.typing))
	sub(types.EventUserTyping, s.intoBuffer(s.typing))

	for _, name := range []string{
		types.MemoryShared,
		types.MemoryNew,
		types.EventRsvpUpdated,
		types.EventWaitlistUpdated,
		types.EventCheckinUpdated,
		types.EventDetailsUpdated,
		types.EventUpdated,
		types.EventNew,
	} {
		sub(name, s.intoBuffer(s.activity))
	}

	sub(types.NotificationNew, s.intoBuffer(s.notifications))
	sub(types.UserPresence, s.onPresence)

	return s
}

// Close releases every subscription. The buffers keep their last
// contents for a final render but receive nothing further.
func (s *Subscriber) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

func (s *Subscriber) intoBuffer(buf *Ring[types.BroadcastEvent]) func(*realtime.ServerMessage) {
	return func(msg *realtime.ServerMessage) {
		if msg.Event == nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		buf.Append(*msg.Event)
	}
}

// onPresence trusts explicit online/offline events only; there is no
// client-side timeout for presence.
func (s *Subscriber) onPresence(msg *realtime.ServerMessage) {
	if msg.Presence == nil || msg.Presence.UserID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Presence.Online {
		s.online[msg.Presence.UserID] = struct{}{}
	} else {
		delete(s.online, msg.Presence.UserID)
	}
}

func (s *Subscriber) Likes() []types.BroadcastEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.likes.Items()
}

func (s *Subscriber) Comments() []types.BroadcastEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comments.Items()
}

func (s *Subscriber) Typing() []types.BroadcastEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing.Items()
}

func (s *Subscriber) Activity() []types.BroadcastEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity.Items()
}

func (s *Subscriber) Notifications() []types.BroadcastEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications.Items()
}

// OnlineUsers returns the ids currently marked online, sorted for stable
// rendering.
func (s *Subscriber) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := lo.Keys(s.online)
	sort.Strings(ids)
	return ids
}

// IsOnline reports whether userID is currently marked online.
func (s *Subscriber) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}
