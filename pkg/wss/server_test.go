package wss

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type echoSubscriber struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	messages     []string
}

func (e *echoSubscriber) OnConnect(client Client) {
	e.mu.Lock()
	e.connected++
	e.mu.Unlock()
	client.Send([]byte("welcome " + client.ID()))
}

func (e *echoSubscriber) OnDisconnect(Client) {
	e.mu.Lock()
	e.disconnected++
	e.mu.Unlock()
}

func (e *echoSubscriber) OnMessage(client Client, message []byte) {
	e.mu.Lock()
	e.messages = append(e.messages, string(message))
	e.mu.Unlock()
	client.Send([]byte("echo:" + string(message)))
}

func (e *echoSubscriber) disconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnected
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestServer_Lifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(ctx, Config{WriteWait: time.Second, PongWait: time.Minute}, discard)
	sub := &echoSubscriber{}
	srv.Register(sub)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "welcome "))
	assert.Equal(t, 1, srv.ClientCount())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("connect:1")))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:connect:1", string(data))

	conn.Close()
	assert.Eventually(t, func() bool { return sub.disconnects() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, srv.ClientCount())
}

func TestServer_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(ctx, Config{}, discard)
	sub := &echoSubscriber{}
	srv.Register(sub)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	cancel()
	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 1, sub.disconnects())
	assert.Equal(t, 0, srv.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestServer_AllowedOrigins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewServer(ctx, Config{AllowedOrigins: []string{"dealer.local:8080"}}, discard)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), http.Header{"Origin": {"http://dealer.local:8080"}})
	require.NoError(t, err)
	conn.Close()
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{PongWait: 10 * time.Second}.withDefaults()
	assert.Equal(t, 9*time.Second, cfg.PingPeriod)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.SendQueueSize)

	cfg = Config{PongWait: 10 * time.Second, PingPeriod: 20 * time.Second}.withDefaults()
	assert.Equal(t, 9*time.Second, cfg.PingPeriod)
}

func TestConnection_SendAfterClose(t *testing.T) {
	c := &connection{send: make(chan []byte, 1), logger: discard}
	require.NoError(t, c.Send([]byte("a")))
	assert.ErrorIs(t, c.Send([]byte("b")), ErrSendQueueFull)

	c.closeSend()
	c.closeSend()
	assert.ErrorIs(t, c.Send([]byte("c")), ErrClientClosed)
}
