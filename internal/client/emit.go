package client

import (
	"encoding/json"

	"github.com/mundotango/realtime/internal/realtime"
	"github.com/mundotango/realtime/internal/types"
)

// Emit helpers for the domain actions the platform produces. Callers
// dispatch only after the Domain Service has persisted the action; the
// realtime layer neither knows nor cares whether persistence succeeded.

func (m *Manager) EmitLike(memoryID, ownerID string, data map[string]any) error {
	return m.emitEvent(types.MemoryLike, types.EntityMemory, memoryID, ownerID, "", false, data)
}

func (m *Manager) EmitComment(entity types.EntityKind, entityID, ownerID string, data map[string]any) error {
	name := types.MemoryComment
	if entity == types.EntityEvent {
		name = types.EventComm
	}
	return m.emitEvent(name, entity, entityID, ownerID, "", false, data)
}

func (m *Manager) EmitShare(memoryID, ownerID string, data map[string]any) error {
	return m.emitEvent(types.MemoryShare, types.EntityMemory, memoryID, ownerID, "", false, data)
}

func (m *Manager) EmitRSVP(eventID, organizerID string, data map[string]any) error {
	return m.emitEvent(types.EventRsvp, types.EntityEvent, eventID, organizerID, "", false, data)
}

// EmitWaitlistChange announces a waitlist join or leave; the server
// assigns and attaches the queue position.
func (m *Manager) EmitWaitlistChange(eventID, organizerID, action string, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	data["action"] = action
	return m.emitEvent(types.EventWaitlistName, types.EntityEvent, eventID, organizerID, "", false, data)
}

func (m *Manager) EmitCheckIn(eventID, organizerID string, data map[string]any) error {
	return m.emitEvent(types.EventCheckin, types.EntityEvent, eventID, organizerID, "", false, data)
}

// EmitCreate announces a newly created post or event. Public creations
// fan out to the locality derived from location, and to the global feed.
func (m *Manager) EmitCreate(entity types.EntityKind, entityID, location string, public bool, data map[string]any) error {
	name := types.MemoryNew
	if entity == types.EntityEvent {
		name = types.EventNew
	}
	return m.emitEvent(name, entity, entityID, "", location, public, data)
}

// EmitTyping announces typing state. Callers re-emit periodically while
// typing and send isTyping=false on blur or send; the server expires
// stale indicators on its own.
func (m *Manager) EmitTyping(entity types.EntityKind, entityID string, isTyping bool) error {
	name := types.MemoryTyping
	if entity == types.EntityEvent {
		name = types.EventTypingName
	}
	return m.emitEvent(name, entity, entityID, "", "", false, map[string]any{
		"isTyping":    isTyping,
		"displayName": m.cfg.DisplayName,
	})
}

// JoinMemory subscribes this session to a post's entity room.
func (m *Manager) JoinMemory(memoryID string) error {
	return m.Emit(types.JoinMemory, realtime.JoinPayload{EntityID: memoryID})
}

func (m *Manager) LeaveMemory(memoryID string) error {
	return m.Emit(types.LeaveMemory, realtime.JoinPayload{EntityID: memoryID})
}

// JoinEvent subscribes this session to an event's entity room.
func (m *Manager) JoinEvent(eventID string) error {
	return m.Emit(types.JoinEvent, realtime.JoinPayload{EntityID: eventID})
}

func (m *Manager) LeaveEvent(eventID string) error {
	return m.Emit(types.LeaveEvent, realtime.JoinPayload{EntityID: eventID})
}

// JoinCity subscribes this session to a locality room. Free-text city
// names are reduced to their first comma-delimited segment server-side.
func (m *Manager) JoinCity(city string) error {
	return m.Emit(types.JoinCity, realtime.JoinPayload{City: city})
}

func (m *Manager) LeaveCity(city string) error {
	return m.Emit(types.LeaveCity, realtime.JoinPayload{City: city})
}

func (m *Manager) emitEvent(name string, entity types.EntityKind, entityID, ownerID, location string, public bool, data map[string]any) error {
	var raw json.RawMessage
	if data != nil {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return err
		}
	}

	return m.Emit(name, realtime.EventPayload{
		EntityID: entityID,
		UserID:   m.cfg.Identity,
		OwnerID:  ownerID,
		Location: location,
		Public:   public,
		Data:     raw,
	})
}
