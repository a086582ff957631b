// Package realtime implements the room-based event fan-out core: a single
// event-loop server that owns room membership, typed event routing and
// ephemeral presence state.
//
// All registry mutation and routing runs on one goroutine, so ordering is
// causal per sender and no locking is needed. Rooms are process-local;
// running more than one process requires an external broadcast bus, which
// is explicitly outside this design.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
	"github.com/tidwall/gjson"

	"github.com/mundotango/realtime/internal/rooms"
	"github.com/mundotango/realtime/internal/stats"
	"github.com/mundotango/realtime/internal/types"
)

// Metric names registered with the stats provider.
const (
	StatActiveConnections = "NumActiveConnections"
	StatActiveRooms       = "NumActiveRooms"
	StatEventsDispatched  = "NumEventsDispatched"
	StatMessagesDropped   = "NumMessagesDropped"
)

type stopReq struct {
	done chan struct{}
}

// Server is the realtime fan-out core. Connections register and
// deregister, room commands and domain events arrive on inboundChan, and
// everything is processed sequentially by Run.
type Server struct {
	log        zerolog.Logger
	registry   *rooms.Registry
	dispatcher *Dispatcher
	presence   *PresenceTracker
	waitlists  *WaitlistBook
	stats      stats.Provider

	clients map[string]*Client

	RegisterChan   chan *Client
	deregisterChan chan *Client
	inboundChan    chan *ClientMessage
	typingExpired  chan typingKey
	stop           chan stopReq

	sid *shortid.Shortid
}

func NewServer(logger zerolog.Logger, provider stats.Provider, typingTTL time.Duration) (*Server, error) {
	sid, err := shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		return nil, err
	}

	s := &Server{
		log:            logger.With().Str("component", "realtime").Logger(),
		registry:       rooms.NewRegistry(logger),
		waitlists:      NewWaitlistBook(),
		stats:          provider,
		clients:        make(map[string]*Client),
		RegisterChan:   make(chan *Client),
		deregisterChan: make(chan *Client, 16),
		inboundChan:    make(chan *ClientMessage, 256),
		typingExpired:  make(chan typingKey, 64),
		stop:           make(chan stopReq),
		sid:            sid,
	}
	s.presence = NewPresenceTracker(typingTTL, s.typingExpired, logger)
	s.dispatcher = NewDispatcher(s, s.waitlists, logger)

	for _, name := range []string{StatActiveConnections, StatActiveRooms, StatEventsDispatched, StatMessagesDropped} {
		s.stats.RegisterMetric(name)
	}

	return s, nil
}

// NewConnID returns a fresh opaque connection identifier.
func (s *Server) NewConnID() string {
	id, err := s.sid.Generate()
	if err != nil {
		// shortid only fails on clock skew; fall back to a timestamp.
		return time.Now().UTC().Format("20060102150405.000000000")
	}
	return id
}

// Run processes the event loop until Shutdown.
func (s *Server) Run() {
	for {
		select {
		case c := <-s.RegisterChan:
			s.handleRegister(c)
		case c := <-s.deregisterChan:
			s.handleDeregister(c)
		case msg := <-s.inboundChan:
			s.handleInbound(msg)
		case key := <-s.typingExpired:
			s.handleTypingExpired(key)
		case req := <-s.stop:
			s.log.Info().Msg("shutting down realtime server")
			s.presence.StopAll()
			for _, c := range s.clients {
				c.stopClient()
			}
			close(req.done)
			return
		}
	}
}

// Shutdown stops the event loop, waiting up to ctx for the handshake.
func (s *Server) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case s.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast queues msg to every current member of roomID, honoring the
// message's skip-connection. Zero members means zero deliveries and no
// error.
func (s *Server) Broadcast(roomID string, msg *ServerMessage) {
	for _, connID := range s.registry.MembersOf(roomID) {
		if connID == msg.skipConn {
			continue
		}
		c, ok := s.clients[connID]
		if !ok {
			continue
		}
		if !c.queueMessage(msg) {
			s.stats.Incr(StatMessagesDropped)
		}
	}
}

// Registry exposes the room registry for the HTTP layer's introspection
// endpoints and for tests.
func (s *Server) Registry() *rooms.Registry { return s.registry }

func (s *Server) handleRegister(c *Client) {
	s.clients[c.id] = c
	s.stats.Incr(StatActiveConnections)
	s.log.Info().Str("conn_id", c.id).Str("user_id", c.userID).Msg("connection registered")

	// Every connection is implicitly part of the global feed room.
	s.registry.Join(c.id, types.RoomGlobal)

	if c.userID == "" {
		return
	}

	// Identified sessions land in their personal notification room.
	s.registry.Join(c.id, types.UserRoom(c.userID))

	if s.presence.AddConnection(c.userID) {
		s.broadcastPresence(c, true)
	}
}

func (s *Server) handleDeregister(c *Client) {
	if _, ok := s.clients[c.id]; !ok {
		return
	}

	delete(s.clients, c.id)
	s.registry.Drop(c.id)
	s.stats.Decr(StatActiveConnections)
	s.log.Info().Str("conn_id", c.id).Msg("connection deregistered")

	if c.userID != "" && s.presence.RemoveConnection(c.userID) {
		s.broadcastPresence(c, false)
	}
}

func (s *Server) broadcastPresence(c *Client, online bool) {
	msg := &ServerMessage{
		Name:      types.UserPresence,
		Timestamp: Now(),
		Presence: &types.PresenceEntry{
			UserID:      c.userID,
			DisplayName: c.displayName,
			Online:      online,
		},
		skipConn: c.id,
	}
	s.Broadcast(types.RoomGlobal, msg)
}

func (s *Server) handleInbound(msg *ClientMessage) {
	c := msg.client

	switch msg.Name {
	case types.JoinUser, types.JoinMemory, types.JoinEvent, types.JoinCity:
		s.handleJoin(msg, true)
	case types.LeaveUser, types.LeaveMemory, types.LeaveEvent, types.LeaveCity:
		s.handleJoin(msg, false)
	default:
		kind, entity, ok := types.KindForName(msg.Name)
		if !ok {
			c.queueMessage(ErrUnknownEvent(msg.Id))
			return
		}
		s.handleDomainEvent(msg, kind, entity)
	}
}

// handleJoin resolves a join/leave command to a room id and applies it.
// Both directions are idempotent; leaving is its own cancellation.
func (s *Server) handleJoin(msg *ClientMessage, join bool) {
	c := msg.client

	var p JoinPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	var roomID string
	switch msg.Name {
	case types.JoinUser, types.LeaveUser:
		// Trust boundary, kept from the original design: without a
		// verified identity on the connection, the claimed user id is
		// accepted as-is.
		userID := c.userID
		if userID == "" {
			userID = p.UserID
		}
		if userID == "" {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		roomID = types.UserRoom(userID)
	case types.JoinMemory, types.LeaveMemory:
		if p.EntityID == "" {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		roomID = types.EntityRoom(types.EntityMemory, p.EntityID)
	case types.JoinEvent, types.LeaveEvent:
		if p.EntityID == "" {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		roomID = types.EntityRoom(types.EntityEvent, p.EntityID)
	case types.JoinCity, types.LeaveCity:
		locality := types.Locality(p.City)
		if locality == "" {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		roomID = types.LocalityRoom(locality)
	}

	if join {
		s.registry.Join(c.id, roomID)
	} else {
		s.registry.Leave(c.id, roomID)
	}
	s.stats.Set(StatActiveRooms, s.registry.Len())

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"roomId": roomID}))
}

func (s *Server) handleDomainEvent(msg *ClientMessage, kind types.EventKind, entity types.EntityKind) {
	c := msg.client

	var p EventPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}
	if p.EntityID == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	// A verified connection identity overrides the claimed actor.
	actor := c.userID
	if actor == "" {
		actor = p.UserID
	}

	ev := &types.DomainEvent{
		Kind:     kind,
		Entity:   entity,
		EntityID: p.EntityID,
		ActorID:  actor,
		OwnerID:  p.OwnerID,
		Location: p.Location,
		Public:   p.Public,
		Data:     p.Data,
	}

	if kind == types.EventTyping {
		s.handleTyping(msg, ev)
		return
	}

	s.dispatcher.DispatchFrom(c.id, ev)
	s.stats.Incr(StatEventsDispatched)
	c.queueMessage(NoErrAccepted(msg.Id))
}

// handleTyping tracks the indicator's TTL before rebroadcasting it
// verbatim to the entity room, excluding the sender.
func (s *Server) handleTyping(msg *ClientMessage, ev *types.DomainEvent) {
	c := msg.client

	typing := true
	if v := gjson.GetBytes(ev.Data, "isTyping"); v.Exists() {
		typing = v.Bool()
	}
	displayName := gjson.GetBytes(ev.Data, "displayName").String()

	roomID := types.EntityRoom(ev.Entity, ev.EntityID)
	if !s.presence.SetTyping(roomID, ev.ActorID, displayName, typing) {
		// Clearing state that was never set: nothing to rebroadcast.
		c.queueMessage(NoErrAccepted(msg.Id))
		return
	}

	s.dispatcher.DispatchFrom(c.id, ev)
	c.queueMessage(NoErrAccepted(msg.Id))
}

// handleTypingExpired emits the synthetic stopped-typing broadcast for an
// indicator that was never explicitly cleared.
func (s *Server) handleTypingExpired(key typingKey) {
	displayName, ok := s.presence.Expire(key)
	if !ok {
		return
	}

	entity, entityID, ok := types.ParseEntityRoom(key.roomID)
	if !ok {
		return
	}

	data, err := json.Marshal(map[string]any{
		"isTyping":    false,
		"displayName": displayName,
		"expired":     true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("serializing typing expiry")
		return
	}

	ev := &types.DomainEvent{
		Kind:     types.EventTyping,
		Entity:   entity,
		EntityID: entityID,
		ActorID:  key.userID,
		Data:     data,
	}
	s.dispatcher.Dispatch(ev)
}
