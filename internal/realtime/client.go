package realtime

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is a single logical client session bound to one websocket. It is
// created on transport handshake and destroyed on transport close; room
// memberships live in the server's registry, keyed by the connection id.
type Client struct {
	id          string
	userID      string
	displayName string

	conn         *websocket.Conn
	server       *Server
	log          zerolog.Logger
	send         chan *ServerMessage
	stop         chan struct{}
	lastActivity atomic.Int64
}

func NewClient(id, userID, displayName string, conn *websocket.Conn, srv *Server, logger zerolog.Logger) *Client {
	c := &Client{
		id:          id,
		userID:      userID,
		displayName: displayName,
		conn:        conn,
		server:      srv,
		log:         logger.With().Str("conn_id", id).Logger(),
		send:        make(chan *ServerMessage, 256),
		stop:        make(chan struct{}),
	}
	c.lastActivity.Store(time.Now().Unix())
	return c
}

// ID returns the server-assigned connection identifier.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated or hinted user identity, "" when the
// session is anonymous.
func (c *Client) UserID() string { return c.userID }

// LastActivity returns the time the client last sent anything.
func (c *Client) LastActivity() time.Time {
	return time.Unix(c.lastActivity.Load(), 0)
}

// Write pumps queued messages to the websocket and keeps the connection
// alive with pings.
func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write pump exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			raw, err := json.Marshal(msg)
			if err != nil {
				// A bad payload never takes down the connection; the
				// message is dropped and logged.
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.writeMessage(websocket.TextMessage, raw) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// Read pumps inbound messages into the server loop until the transport
// closes, then triggers cleanup.
func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read pump exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read")
			}
			break
		}

		c.lastActivity.Store(time.Now().Unix())

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn().Err(err).Msg("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}
		if msg.Name == "" {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			continue
		}

		msg.client = c

		select {
		case c.server.inboundChan <- &msg:
		default:
			c.log.Warn().Str("name", msg.Name).Msg("inbound channel full, dropping message")
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	}
}

// queueMessage enqueues msg for delivery, dropping it when the client's
// send buffer is full. Delivery is best effort per spec: a slow or gone
// client simply misses the event.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("send buffer full, dropping message")
		return false
	}

	return true
}

func (c *Client) writeMessage(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("websocket write")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *Client) cleanup() {
	c.server.deregisterChan <- c
	c.stopClient()
}
