package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mundotango/realtime/internal/types"
)

// ClientMessage is the envelope for everything a client sends: room
// commands (join:*, leave:*) and domain events (memory:*, event:*).
type ClientMessage struct {
	Id      int             `json:"id,omitempty"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`

	client *Client
}

// JoinPayload carries the target of a join/leave command. Exactly one of
// the fields is meaningful depending on the command name.
type JoinPayload struct {
	UserID   string `json:"userId,omitempty"`
	EntityID string `json:"entityId,omitempty"`
	City     string `json:"city,omitempty"`
}

// EventPayload carries an inbound domain event. UserID is the acting
// user; OwnerID the entity owner (post author or event organizer).
type EventPayload struct {
	EntityID string          `json:"entityId"`
	UserID   string          `json:"userId"`
	OwnerID  string          `json:"ownerId,omitempty"`
	Location string          `json:"location,omitempty"`
	Public   bool            `json:"public,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is the envelope for everything the server sends: broadcast
// events, presence updates and per-command responses.
type ServerMessage struct {
	Id        int                   `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	Event     *types.BroadcastEvent `json:"event,omitempty"`
	Presence  *types.PresenceEntry  `json:"presence,omitempty"`
	Response  *Response             `json:"response,omitempty"`

	// skipConn excludes one connection from fan-out (typing indicators
	// are not echoed to their sender).
	skipConn string
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrUnknownEvent(id int) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "unknown event name",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
