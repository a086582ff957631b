package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mundotango/realtime/internal/config"
	"github.com/mundotango/realtime/internal/realtime"
	"github.com/mundotango/realtime/internal/stats"
	"github.com/mundotango/realtime/internal/testutil"
	"github.com/mundotango/realtime/internal/types"
)

func newAPIStack(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{ServerAddr: "localhost:0"}
	}

	provider := stats.NewPromStats()
	rt, err := realtime.NewServer(testutil.TestLogger(t), provider, time.Minute)
	require.NoError(t, err)

	go rt.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rt.Shutdown(ctx)
	})

	s := NewServer(testutil.TestLogger(t), rt, provider, cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads server messages until one named want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) *realtime.ServerMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg realtime.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", want)
		if msg.Name == want {
			return &msg
		}
	}
}

// readAck reads until a command response arrives.
func readAck(t *testing.T, conn *websocket.Conn) *realtime.ServerMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg realtime.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Response != nil {
			return &msg
		}
	}
}

func sendCmd(t *testing.T, conn *websocket.Conn, id int, name string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(&realtime.ClientMessage{Id: id, Name: name, Payload: raw}))
}

func TestHealthz(t *testing.T) {
	ts := newAPIStack(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestMetricsExposition(t *testing.T) {
	ts := newAPIStack(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "mt_realtime_NumActiveConnections")
}

func TestWebsocketEndToEnd(t *testing.T) {
	ts := newAPIStack(t, nil)

	c1 := dialWS(t, ts, "?user=u1&name=Ana")
	c2 := dialWS(t, ts, "?user=u2&name=Ben")

	sendCmd(t, c1, 1, types.JoinMemory, realtime.JoinPayload{EntityID: "42"})
	ack := readAck(t, c1)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)
	assert.Equal(t, "entity:memory:42", ack.Response.Data["roomId"])

	sendCmd(t, c2, 1, types.JoinMemory, realtime.JoinPayload{EntityID: "42"})
	readAck(t, c2)

	sendCmd(t, c1, 2, types.MemoryLike, realtime.EventPayload{EntityID: "42", OwnerID: "u2"})

	liked := readUntil(t, c2, types.MemoryLiked)
	require.NotNil(t, liked.Event)
	assert.Equal(t, "42", liked.Event.EntityID)
	assert.Equal(t, "u1", liked.Event.UserID, "the connection identity stamps the event actor")

	// u2 owns the post, so the like also lands as a notification.
	notif := readUntil(t, c2, types.NotificationNew)
	require.NotNil(t, notif.Event)
	assert.Equal(t, "u1", notif.Event.UserID)
}

func TestWebsocketPresenceOnConnect(t *testing.T) {
	ts := newAPIStack(t, nil)

	c1 := dialWS(t, ts, "?user=u1&name=Ana")
	dialWS(t, ts, "?user=u2&name=Ben")

	presence := readUntil(t, c1, types.UserPresence)
	require.NotNil(t, presence.Presence)
	assert.Equal(t, "u2", presence.Presence.UserID)
	assert.True(t, presence.Presence.Online)
}

func TestWebsocketMalformedFrame(t *testing.T) {
	ts := newAPIStack(t, nil)

	c1 := dialWS(t, ts, "?user=u1")
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte("{nope")))

	resp := readAck(t, c1)
	assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode)
}

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestTokenIdentityOverridesHint(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	ts := newAPIStack(t, &config.Config{ServerAddr: "localhost:0", SigningKey: key})

	token := signToken(t, key, jwt.MapClaims{"sub": "u77", "name": "Vera"})

	verified := dialWS(t, ts, "?user=imposter&token="+token)
	other := dialWS(t, ts, "?user=u1")

	// A like on u77's post reaches the verified session's personal room.
	sendCmd(t, other, 1, types.MemoryLike, realtime.EventPayload{EntityID: "42", OwnerID: "u77"})

	notif := readUntil(t, verified, types.NotificationNew)
	require.NotNil(t, notif.Event)
	assert.Equal(t, "u1", notif.Event.UserID)
}

func TestInvalidTokenRejected(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	ts := newAPIStack(t, &config.Config{ServerAddr: "localhost:0", SigningKey: key})

	badToken := signToken(t, []byte("wrong-key-wrong-key-wrong-key-00"), jwt.MapClaims{"sub": "u77"})

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + badToken
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenWithoutSigningKeyRejected(t *testing.T) {
	ts := newAPIStack(t, nil)

	token := signToken(t, []byte("0123456789abcdef0123456789abcdef"), jwt.MapClaims{"sub": "u77"})

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOriginRestriction(t *testing.T) {
	ts := newAPIStack(t, &config.Config{
		ServerAddr:     "localhost:0",
		AllowedOrigins: []string{"http://app.example"},
	})

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user=u1"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(u, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://app.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	conn.Close()
}
