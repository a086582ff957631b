package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/mundotango/realtime/internal/types"
)

// Sender delivers a message to every current member of a room. Delivery
// to a room with zero members is a silent no-op.
type Sender interface {
	Broadcast(roomID string, msg *ServerMessage)
}

// delivery is one room-targeted emission produced by a route.
type delivery struct {
	roomID string
	msg    *ServerMessage
}

// routeFunc maps a domain event to its deliveries. Routes are pure: they
// never touch persistence and never block on I/O.
type routeFunc func(d *Dispatcher, ev *types.DomainEvent, bc *types.BroadcastEvent, skipConn string) []delivery

// routes is the dispatch table keyed by event kind. Adding a kind without
// a route is caught by the unknown-kind drop in Dispatch.
var routes = map[types.EventKind]routeFunc{
	types.EventLike:     routeEngagement,
	types.EventComment:  routeEngagement,
	types.EventShare:    routeEngagement,
	types.EventRSVP:     routeEngagement,
	types.EventCheckIn:  routeEngagement,
	types.EventUpdate:   routeEngagement,
	types.EventCancel:   routeEngagement,
	types.EventWaitlist: routeWaitlist,
	types.EventCreate:   routeCreate,
	types.EventTyping:   routeTyping,
}

// Dispatcher turns domain events into room-targeted broadcasts. It holds
// no connection state of its own; fan-out goes through the Sender.
//
// Ordering is causal per sender only: events from one connection reach a
// room in dispatch order because the server loop is sequential, but there
// is no total order across connections racing concurrently.
type Dispatcher struct {
	sender    Sender
	waitlists *WaitlistBook
	log       zerolog.Logger
}

func NewDispatcher(sender Sender, waitlists *WaitlistBook, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:    sender,
		waitlists: waitlists,
		log:       logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch routes ev to its target rooms. Purely routing: persistence, if
// any, happened before the caller got here.
func (d *Dispatcher) Dispatch(ev *types.DomainEvent) {
	d.DispatchFrom("", ev)
}

// DispatchFrom routes ev, excluding the originating connection from
// typing rebroadcasts. A malformed event is dropped and logged; it never
// propagates an error to other rooms' delivery.
func (d *Dispatcher) DispatchFrom(connID string, ev *types.DomainEvent) {
	name := types.BroadcastName(ev.Entity, ev.Kind)
	if name == "" {
		d.log.Warn().Int("kind", int(ev.Kind)).Str("entity", string(ev.Entity)).
			Msg("dropping event with no broadcast mapping")
		return
	}

	route, ok := routes[ev.Kind]
	if !ok {
		d.log.Warn().Int("kind", int(ev.Kind)).Msg("dropping event with no route")
		return
	}

	bc := &types.BroadcastEvent{
		ID:        uuid.NewString(),
		EntityID:  ev.EntityID,
		UserID:    ev.ActorID,
		Timestamp: Now(),
		Type:      name,
		Data:      ev.Data,
	}

	for _, dl := range route(d, ev, bc, connID) {
		d.sender.Broadcast(dl.roomID, dl.msg)
	}
}

// routeEngagement covers likes, comments and shares on a memory and
// RSVP/check-in/update/cancel on an event: broadcast to the entity room,
// plus a personal notification to the owner unless the actor is the owner.
func routeEngagement(d *Dispatcher, ev *types.DomainEvent, bc *types.BroadcastEvent, _ string) []delivery {
	out := []delivery{{
		roomID: types.EntityRoom(ev.Entity, ev.EntityID),
		msg:    broadcastMessage(bc.Type, bc),
	}}

	if ev.OwnerID != "" && ev.OwnerID != ev.ActorID {
		notif := *bc
		out = append(out, delivery{
			roomID: types.UserRoom(ev.OwnerID),
			msg:    broadcastMessage(types.NotificationNew, &notif),
		})
	}

	return out
}

// routeWaitlist assigns an ephemeral queue position before fanning out
// like any other event engagement.
func routeWaitlist(d *Dispatcher, ev *types.DomainEvent, bc *types.BroadcastEvent, _ string) []delivery {
	action := gjson.GetBytes(ev.Data, "action").String()
	if action == "" {
		action = "join"
	}

	fields := make(map[string]any)
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &fields); err != nil {
			d.log.Error().Err(err).Str("entity_id", ev.EntityID).
				Msg("dropping waitlist event with malformed data")
			return nil
		}
	}

	switch action {
	case "leave":
		d.waitlists.Leave(ev.EntityID, ev.ActorID)
		fields["position"] = 0
	default:
		fields["position"] = d.waitlists.Join(ev.EntityID, ev.ActorID)
	}
	fields["action"] = action

	data, err := json.Marshal(fields)
	if err != nil {
		d.log.Error().Err(err).Msg("dropping waitlist event, data not serializable")
		return nil
	}
	bc.Data = data

	return routeEngagement(d, ev, bc, "")
}

// routeCreate fans a new public post/event out past its entity room. A
// public creation with a derivable locality reaches that locality's room;
// only location-less public creations fall back to the global feed room,
// since every connection sits in global and a wider fan-out would leak
// localized creations to everyone.
func routeCreate(d *Dispatcher, ev *types.DomainEvent, bc *types.BroadcastEvent, _ string) []delivery {
	out := []delivery{{
		roomID: types.EntityRoom(ev.Entity, ev.EntityID),
		msg:    broadcastMessage(bc.Type, bc),
	}}

	if !ev.Public {
		return out
	}

	if locality := types.Locality(ev.Location); locality != "" {
		return append(out, delivery{
			roomID: types.LocalityRoom(locality),
			msg:    broadcastMessage(bc.Type, bc),
		})
	}

	return append(out, delivery{
		roomID: types.RoomGlobal,
		msg:    broadcastMessage(bc.Type, bc),
	})
}

// routeTyping rebroadcasts to the entity room only, excluding the sender.
// Typing never produces a notification; it is always ephemeral.
func routeTyping(d *Dispatcher, ev *types.DomainEvent, bc *types.BroadcastEvent, skipConn string) []delivery {
	msg := broadcastMessage(bc.Type, bc)
	msg.skipConn = skipConn

	return []delivery{{
		roomID: types.EntityRoom(ev.Entity, ev.EntityID),
		msg:    msg,
	}}
}

func broadcastMessage(name string, bc *types.BroadcastEvent) *ServerMessage {
	return &ServerMessage{
		Name:      name,
		Timestamp: bc.Timestamp,
		Event:     bc,
	}
}
