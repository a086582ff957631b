// Package client implements the consumer side of the realtime layer: a
// managed websocket connection with bounded reconnects, emit helpers for
// domain actions, and a subscriber exposing bounded live buffers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mundotango/realtime/internal/realtime"
	"github.com/mundotango/realtime/internal/types"
)

var ErrNotConnected = errors.New("not connected")

// errBox wraps an error for atomic.Value, which cannot hold a bare nil.
type errBox struct {
	err error
}

// Dialer abstracts the websocket dial so tests can inject a failing
// transport. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Config struct {
	// URL of the realtime endpoint, e.g. ws://host:8000/ws.
	URL string
	// Identity is the optional user id hint; when set, the manager joins
	// the personal room right after each successful handshake.
	Identity    string
	DisplayName string
	// Token is an optional signed identity token forwarded on the
	// handshake; the server-verified subject overrides Identity.
	Token string

	ConnectTimeout time.Duration
	// MaxConnectAttempts is the total number of dial attempts per connect
	// cycle before the manager gives up and stays offline.
	MaxConnectAttempts int
	// ReconnectDelay is the fixed delay between attempts.
	ReconnectDelay time.Duration
	// ServerCloseDelay is the single delayed redial used when the server
	// closes the connection on purpose (idle eviction, restart).
	ServerCloseDelay time.Duration

	Dialer Dialer
	Logger zerolog.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.MaxConnectAttempts <= 0 {
		out.MaxConnectAttempts = 5
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 2 * time.Second
	}
	if out.ServerCloseDelay <= 0 {
		out.ServerCloseDelay = time.Second
	}
	if out.Dialer == nil {
		out.Dialer = &websocket.Dialer{HandshakeTimeout: out.ConnectTimeout}
	}
	return out
}

type handlerEntry struct {
	id int
	fn func(*realtime.ServerMessage)
}

// Manager owns one persistent connection per client session: connect,
// bounded reconnect, liveness state and event emission. Failures never
// escape as panics from callbacks; they surface through Live and
// LastError only.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string][]handlerEntry
	nextID   int
	redial   *time.Timer

	send chan *realtime.ClientMessage

	live         atomic.Bool
	reconnecting atomic.Bool
	lastErr      atomic.Value

	closed    chan struct{}
	closeOnce sync.Once

	pumpStop chan struct{}
	pumpWg   sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	c := cfg.withDefaults()
	return &Manager{
		cfg:      c,
		log:      c.Logger.With().Str("component", "rt_client").Logger(),
		handlers: make(map[string][]handlerEntry),
		send:     make(chan *realtime.ClientMessage, 64),
		closed:   make(chan struct{}),
	}
}

// Connect dials the server, retrying with the fixed delay up to the
// configured attempt cap. On success the read/write pumps start and, when
// an identity is configured, the personal room is joined.
func (m *Manager) Connect() error {
	if err := m.dialWithRetry(); err != nil {
		return err
	}
	return nil
}

// Live reports current connection liveness.
func (m *Manager) Live() bool { return m.live.Load() }

// LastError returns the most recent transport error, nil when healthy.
func (m *Manager) LastError() error {
	v := m.lastErr.Load()
	if v == nil {
		return nil
	}
	return v.(errBox).err
}

// Close tears the session down: pumps, pending redial timers and any
// in-flight retry loop all stop. Safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)

		m.mu.Lock()
		if m.redial != nil {
			m.redial.Stop()
			m.redial = nil
		}
		conn := m.conn
		m.conn = nil
		m.mu.Unlock()

		// Close the socket before waiting on the pumps: the read pump
		// only unblocks when the transport goes away.
		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}
		m.stopPumps()
		m.live.Store(false)
	})
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *Manager) endpoint() (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	q := u.Query()
	if m.cfg.Token != "" {
		q.Set("token", m.cfg.Token)
	}
	if m.cfg.Identity != "" {
		q.Set("user", m.cfg.Identity)
	}
	if m.cfg.DisplayName != "" {
		q.Set("name", m.cfg.DisplayName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dialWithRetry runs one connect cycle: MaxConnectAttempts dials with the
// fixed reconnect delay in between. Liveness stays false until a dial
// succeeds.
func (m *Manager) dialWithRetry() error {
	endpoint, err := m.endpoint()
	if err != nil {
		m.lastErr.Store(errBox{err: err})
		return err
	}

	attempts := 0
	op := func() error {
		if m.isClosed() {
			return backoff.Permanent(errors.New("client closed"))
		}
		attempts++

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		defer cancel()

		conn, resp, err := m.cfg.Dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			m.lastErr.Store(errBox{err: err})
			m.log.Warn().Err(err).Int("attempt", attempts).Msg("dial failed")
			return err
		}

		m.attach(conn)
		return nil
	}

	bo := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(m.cfg.ReconnectDelay),
		uint64(m.cfg.MaxConnectAttempts-1),
	)
	if err := backoff.Retry(op, bo); err != nil {
		m.live.Store(false)
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// attach installs a freshly dialed connection and starts the pumps. Close
// may have raced the dial; re-checking disposal under the lock keeps a
// late connection from being installed with nothing left to tear it down.
func (m *Manager) attach(conn *websocket.Conn) {
	m.stopPumps()

	m.mu.Lock()
	if m.isClosed() {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.pumpStop = make(chan struct{})
	m.mu.Unlock()

	m.live.Store(true)
	m.lastErr.Store(errBox{})

	m.pumpWg.Add(2)
	go m.readPump(conn, m.pumpStop)
	go m.writePump(conn, m.pumpStop)

	if m.cfg.Identity != "" {
		m.queue(&realtime.ClientMessage{
			Name:    types.JoinUser,
			Payload: mustMarshal(realtime.JoinPayload{UserID: m.cfg.Identity}),
		})
	}

	m.log.Info().Msg("connected")
}

func (m *Manager) stopPumps() {
	m.mu.Lock()
	stop := m.pumpStop
	m.pumpStop = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	m.pumpWg.Wait()
}

func (m *Manager) readPump(conn *websocket.Conn, stop chan struct{}) {
	defer m.pumpWg.Done()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				m.handleDisconnect(err)
			}
			return
		}

		var msg realtime.ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			m.log.Warn().Err(err).Msg("bad server message")
			continue
		}
		m.deliver(&msg)
	}
}

func (m *Manager) writePump(conn *websocket.Conn, stop chan struct{}) {
	defer m.pumpWg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-m.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				m.log.Warn().Err(err).Msg("write failed")
				m.lastErr.Store(errBox{err: err})
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// handleDisconnect classifies the close and schedules recovery: a single
// delayed redial for a server-initiated close, the bounded retry loop for
// anything else. A disposed manager never retries.
func (m *Manager) handleDisconnect(err error) {
	if m.isClosed() {
		return
	}

	m.live.Store(false)
	m.lastErr.Store(errBox{err: err})

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.log.Info().Err(err).Msg("server closed connection, scheduling redial")
		m.mu.Lock()
		if m.redial != nil {
			m.redial.Stop()
		}
		m.redial = time.AfterFunc(m.cfg.ServerCloseDelay, func() {
			if m.isClosed() {
				return
			}
			m.reconnect()
		})
		m.mu.Unlock()
		return
	}

	m.log.Warn().Err(err).Msg("connection lost, reconnecting")
	go m.reconnect()
}

func (m *Manager) reconnect() {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer m.reconnecting.Store(false)

	if err := m.dialWithRetry(); err != nil {
		m.log.Error().Err(err).Msg("reconnect gave up")
	}
}

func (m *Manager) queue(msg *realtime.ClientMessage) error {
	select {
	case m.send <- msg:
		return nil
	default:
		return errors.New("send queue full")
	}
}

// Emit queues a named message with a JSON payload.
func (m *Manager) Emit(name string, payload any) error {
	if !m.live.Load() {
		return ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return m.queue(&realtime.ClientMessage{Name: name, Payload: raw})
}

// Subscribe registers fn for broadcast messages named name and returns
// the matching unsubscribe. Handler panics are contained and logged.
func (m *Manager) Subscribe(name string, fn func(*realtime.ServerMessage)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.handlers[name] = append(m.handlers[name], handlerEntry{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		entries := m.handlers[name]
		for i, e := range entries {
			if e.id == id {
				m.handlers[name] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(m.handlers[name]) == 0 {
			delete(m.handlers, name)
		}
	}
}

// HandlerCount reports the number of live subscriptions for name. Used to
// verify teardown does not leak listeners.
func (m *Manager) HandlerCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[name])
}

func (m *Manager) deliver(msg *realtime.ServerMessage) {
	m.mu.Lock()
	entries := append([]handlerEntry(nil), m.handlers[msg.Name]...)
	m.mu.Unlock()

	for _, e := range entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error().Any("panic", r).Str("name", msg.Name).Msg("handler panicked")
				}
			}()
			e.fn(msg)
		}()
	}
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
