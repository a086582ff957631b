// Package types holds the shared vocabulary of the realtime layer: event
// kinds, wire event names, room identifiers and the domain/broadcast event
// records exchanged between the server and its clients.
package types

import (
	"encoding/json"
	"strings"
	"time"
)

// EventKind identifies a category of domain event.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventLike
	EventComment
	EventShare
	EventCreate
	EventRSVP
	EventWaitlist
	EventCheckIn
	EventUpdate
	EventCancel
	EventTyping
)

// EntityKind identifies the domain object an event targets.
type EntityKind string

const (
	EntityMemory EntityKind = "memory"
	EntityEvent  EntityKind = "event"
)

// Inbound event names (client -> server).
const (
	MemoryLike        = "memory:like"
	MemoryComment     = "memory:comment"
	MemoryShare       = "memory:share"
	MemoryNew         = "memory:new"
	MemoryTyping      = "memory:typing"
	EventRsvp         = "event:rsvp"
	EventWaitlistName = "event:waitlist"
	EventCheckin      = "event:checkin"
	EventUpdateName   = "event:update"
	EventCancelName   = "event:cancel"
	EventComm         = "event:comment"
	EventNew          = "event:new"
	EventTypingName   = "event:typing"
)

// Room commands (client -> server).
const (
	JoinUser    = "join:user"
	JoinMemory  = "join:memory"
	JoinEvent   = "join:event"
	JoinCity    = "join:city"
	LeaveUser   = "leave:user"
	LeaveMemory = "leave:memory"
	LeaveEvent  = "leave:event"
	LeaveCity   = "leave:city"
)

// Broadcast event names (server -> client).
const (
	MemoryLiked          = "memory:liked"
	MemoryCommented      = "memory:commented"
	MemoryShared         = "memory:shared"
	MemoryUserTyping     = "memory:user_typing"
	EventRsvpUpdated     = "event:rsvp_updated"
	EventWaitlistUpdated = "event:waitlist_updated"
	EventCheckinUpdated  = "event:checkin_updated"
	EventDetailsUpdated  = "event:details_updated"
	EventUpdated         = "event:updated"
	EventCommented       = "event:commented"
	EventUserTyping      = "event:user_typing"
	NotificationNew      = "notification:new"
	UserPresence         = "user:presence"
)

// RoomGlobal is the implicit broadcast-to-all room used for feed-insertion
// notices.
const RoomGlobal = "global"

// UserRoom returns the personal notification room for an account.
func UserRoom(userID string) string {
	return "user:" + userID
}

// EntityRoom returns the room for viewers of a single domain object.
func EntityRoom(kind EntityKind, entityID string) string {
	return "entity:" + string(kind) + ":" + entityID
}

// LocalityRoom returns the room for a geographic grouping.
func LocalityRoom(name string) string {
	return "locality:" + name
}

// ParseEntityRoom splits an entity room id back into its kind and entity
// id. ok is false for any other room shape.
func ParseEntityRoom(roomID string) (kind EntityKind, entityID string, ok bool) {
	rest, found := strings.CutPrefix(roomID, "entity:")
	if !found {
		return "", "", false
	}
	k, id, found := strings.Cut(rest, ":")
	if !found || id == "" {
		return "", "", false
	}
	switch EntityKind(k) {
	case EntityMemory, EntityEvent:
		return EntityKind(k), id, true
	}
	return "", "", false
}

// Locality derives a locality name from a free-text location field. The
// first comma-delimited segment is treated as the locality ("Buenos Aires,
// Argentina" -> "Buenos Aires"). Returns "" when nothing can be derived.
func Locality(location string) string {
	seg, _, _ := strings.Cut(location, ",")
	return strings.TrimSpace(seg)
}

// DomainEvent is an immutable record describing something that happened.
// It is constructed from an inbound client message; the dispatcher stamps
// the timestamp at emit time (the client's clock is not trusted).
type DomainEvent struct {
	Kind     EventKind
	Entity   EntityKind
	EntityID string
	// ActorID is the user who performed the action.
	ActorID string
	// OwnerID is the owner of the target entity (post author, event
	// organizer), the recipient of personal notifications.
	OwnerID string
	// Location is the entity's free-text location, used for locality
	// fan-out of public creations.
	Location string
	// Public marks entities visible beyond their entity room.
	Public bool
	Data   json.RawMessage
}

// BroadcastEvent is the wire-level message delivered to subscribed
// connections, derived from a DomainEvent.
type BroadcastEvent struct {
	ID        string          `json:"id"`
	EntityID  string          `json:"entityId"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// PresenceEntry describes a user's ephemeral typing or online state.
// Never persisted; a restart clears all of it.
type PresenceEntry struct {
	RoomID      string `json:"roomId,omitempty"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Online      bool   `json:"online"`
	Typing      bool   `json:"typing,omitempty"`
}

var inboundKinds = map[string]struct {
	kind   EventKind
	entity EntityKind
}{
	MemoryLike:        {EventLike, EntityMemory},
	MemoryComment:     {EventComment, EntityMemory},
	MemoryShare:       {EventShare, EntityMemory},
	MemoryNew:         {EventCreate, EntityMemory},
	MemoryTyping:      {EventTyping, EntityMemory},
	EventRsvp:         {EventRSVP, EntityEvent},
	EventWaitlistName: {EventWaitlist, EntityEvent},
	EventCheckin:      {EventCheckIn, EntityEvent},
	EventUpdateName:   {EventUpdate, EntityEvent},
	EventCancelName:   {EventCancel, EntityEvent},
	EventComm:         {EventComment, EntityEvent},
	EventNew:          {EventCreate, EntityEvent},
	EventTypingName:   {EventTyping, EntityEvent},
}

// KindForName resolves an inbound wire name to its event kind and target
// entity. ok is false for names that are not domain events.
func KindForName(name string) (kind EventKind, entity EntityKind, ok bool) {
	e, ok := inboundKinds[name]
	return e.kind, e.entity, ok
}

var broadcastNames = map[EntityKind]map[EventKind]string{
	EntityMemory: {
		EventLike:    MemoryLiked,
		EventComment: MemoryCommented,
		EventShare:   MemoryShared,
		EventCreate:  MemoryNew,
		EventTyping:  MemoryUserTyping,
	},
	EntityEvent: {
		EventRSVP:     EventRsvpUpdated,
		EventWaitlist: EventWaitlistUpdated,
		EventCheckIn:  EventCheckinUpdated,
		EventUpdate:   EventDetailsUpdated,
		EventCancel:   EventUpdated,
		EventComment:  EventCommented,
		EventCreate:   EventNew,
		EventTyping:   EventUserTyping,
	},
}

// BroadcastName returns the broadcast wire name for an event kind on an
// entity, or "" when the pair is not part of the wire contract.
func BroadcastName(entity EntityKind, kind EventKind) string {
	return broadcastNames[entity][kind]
}
