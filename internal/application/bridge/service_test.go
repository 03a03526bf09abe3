package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arnold17091984/dealersys/internal/application/login"
	"github.com/arnold17091984/dealersys/internal/domain/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeUpstream 模擬遊戲伺服器的 /conn/{table}/{idx}/{token}。
type fakeUpstream struct {
	srv *httptest.Server

	mu         sync.Mutex
	paths      []string
	pings      int
	forwarded  []string
	closed     int
	reply      bool
	dropAtOnce bool
	greeting   []string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{}
	upgrader := websocket.Upgrader{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		u.mu.Lock()
		u.paths = append(u.paths, r.URL.Path)
		drop, greeting, reply := u.dropAtOnce, u.greeting, u.reply
		u.mu.Unlock()

		if drop {
			conn.Close()
			return
		}
		for _, g := range greeting {
			conn.WriteMessage(websocket.TextMessage, []byte(g))
		}
		defer func() {
			u.mu.Lock()
			u.closed++
			u.mu.Unlock()
			conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f struct {
				P *int `json:"p"`
			}
			if json.Unmarshal(data, &f) == nil && f.P != nil && *f.P == 0 {
				u.mu.Lock()
				u.pings++
				u.mu.Unlock()
				if reply {
					conn.WriteMessage(websocket.TextMessage, []byte(`{"p":0}`))
				}
				continue
			}
			u.mu.Lock()
			u.forwarded = append(u.forwarded, string(data))
			u.mu.Unlock()
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *fakeUpstream) wsURL() string {
	return "ws" + strings.TrimPrefix(u.srv.URL, "http")
}

func (u *fakeUpstream) stats() (dials, pings, closed int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.paths), u.pings, u.closed
}

type fakeSub struct {
	id   string
	mu   sync.Mutex
	msgs []string
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, string(data))
	return nil
}

func (f *fakeSub) count(eventType protocol.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs {
		var e protocol.Event
		if json.Unmarshal([]byte(m), &e) == nil && e.Type == eventType {
			n++
		}
	}
	return n
}

func (f *fakeSub) has(raw string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m == raw {
			return true
		}
	}
	return false
}

type staticCreds struct {
	cred login.Credential
	ok   bool
}

func (s staticCreds) Credential() (login.Credential, bool) { return s.cred, s.ok }

type recordingHandler struct {
	mu       sync.Mutex
	statuses []protocol.StatusPayload
	cards    []protocol.CardPayload
	snaps    int
}

func (h *recordingHandler) OnSnapshot(int, protocol.SnapshotPayload) {
	h.mu.Lock()
	h.snaps++
	h.mu.Unlock()
}

func (h *recordingHandler) OnStatus(_ int, st protocol.StatusPayload) {
	h.mu.Lock()
	h.statuses = append(h.statuses, st)
	h.mu.Unlock()
}

func (h *recordingHandler) OnCard(_ int, c protocol.CardPayload) {
	h.mu.Lock()
	h.cards = append(h.cards, c)
	h.mu.Unlock()
}

func newTestService(t *testing.T, u *fakeUpstream, cfg Config) *Service {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cfg.WSURL = u.wsURL()
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Hour
	}
	svc := NewService(ctx, cfg, staticCreds{cred: login.Credential{Token: "tok", Index: 7}, ok: true}, discard)
	t.Cleanup(func() {
		svc.Close()
		cancel()
	})
	return svc
}

func TestConnect_RelaysAndDispatches(t *testing.T) {
	u := newFakeUpstream(t)
	status := `{"p":2,"c":{"gameStatus":"B","gameRound":5,"gameIdx":1,"betTime":2}}`
	card := `{"p":3,"c":{"intposi":1,"cardIdx":3,"playerCard":"404","bankerCard":"","bEndCheck":false}}`
	unknown := `{"p":9,"c":{"x":1}}`
	u.greeting = []string{`{"p":1,"c":{"tableNo":1,"gameStatus":"B"}}`, status, card, unknown, `{"p":0}`, `garbage`}

	svc := newTestService(t, u, Config{})
	h := &recordingHandler{}
	svc.Handle(h)

	sub := &fakeSub{id: "a"}
	svc.OnConnect(sub)
	svc.OnMessage(sub, []byte("connect:1"))

	assert.Eventually(t, func() bool { return sub.has(unknown) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sub.count(protocol.EventBridgeStatus))
	assert.True(t, sub.has(status))
	assert.True(t, sub.has(card))
	assert.False(t, sub.has(`{"p":0}`))
	assert.False(t, sub.has(`garbage`))

	assert.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.cards) == 1
	}, 2*time.Second, 5*time.Millisecond)
	h.mu.Lock()
	assert.Equal(t, 1, h.snaps)
	require.Len(t, h.statuses, 1)
	assert.Equal(t, protocol.StatusBetting, h.statuses[0].GameStatus)
	require.Len(t, h.cards, 1)
	assert.Equal(t, protocol.Int(1), h.cards[0].IntPosi)
	h.mu.Unlock()

	u.mu.Lock()
	assert.Equal(t, []string{"/conn/1/7/tok"}, u.paths)
	u.mu.Unlock()

	// 非控制訊息原封不動轉送上游
	svc.OnMessage(sub, []byte(`{"p":5,"c":{"hello":1}}`))
	assert.Eventually(t, func() bool {
		u.mu.Lock()
		defer u.mu.Unlock()
		return len(u.forwarded) == 1 && u.forwarded[0] == `{"p":5,"c":{"hello":1}}`
	}, 2*time.Second, 5*time.Millisecond)

	// 後來加入的下游會立即收到連線狀態
	late := &fakeSub{id: "b"}
	svc.OnConnect(late)
	assert.Equal(t, 1, late.count(protocol.EventBridgeStatus))
	st := svc.Status()
	require.Len(t, st, 1)
	assert.True(t, st[0].Connected)
}

func TestConnect_NoToken(t *testing.T) {
	u := newFakeUpstream(t)
	svc := NewService(context.Background(), Config{WSURL: u.wsURL()}, staticCreds{}, discard)
	defer svc.Close()

	sub := &fakeSub{id: "a"}
	svc.OnConnect(sub)
	svc.OnMessage(sub, []byte("connect:1"))

	assert.Eventually(t, func() bool { return sub.count(protocol.EventBridgeError) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	dials, _, _ := u.stats()
	assert.Zero(t, dials)
	assert.Equal(t, 1, sub.count(protocol.EventBridgeError))
}

func TestInvalidConnectCommand(t *testing.T) {
	u := newFakeUpstream(t)
	svc := newTestService(t, u, Config{})
	sub := &fakeSub{id: "a"}
	svc.OnConnect(sub)

	svc.OnMessage(sub, []byte("connect:abc"))
	svc.OnMessage(sub, []byte("hello"))
	assert.Equal(t, 2, sub.count(protocol.EventBridgeError))
	assert.Empty(t, svc.Status())
}

// 連續五次心跳沒有回應後只發出一次逾時事件，且不再送出心跳。
func TestHeartbeatTimeout(t *testing.T) {
	u := newFakeUpstream(t)
	svc := newTestService(t, u, Config{HeartbeatInterval: 10 * time.Millisecond, HeartbeatMaxMisses: 5})

	sub := &fakeSub{id: "a"}
	svc.OnConnect(sub)
	svc.OnMessage(sub, []byte("connect:1"))

	assert.Eventually(t, func() bool { return sub.count(protocol.EventHeartbeatTimeout) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	_, pings, _ := u.stats()
	assert.Equal(t, 5, pings)
	assert.Equal(t, 1, sub.count(protocol.EventHeartbeatTimeout))
	// 逾時只是偵測訊號，連線本身沒有被關閉
	assert.True(t, svc.Status()[0].Connected)

	// 新的 connect 指令重新啟動 watchdog
	svc.OnMessage(sub, []byte("connect:1"))
	assert.Eventually(t, func() bool { return sub.count(protocol.EventHeartbeatTimeout) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestHeartbeatReplyResetsMisses(t *testing.T) {
	u := newFakeUpstream(t)
	u.reply = true
	svc := newTestService(t, u, Config{HeartbeatInterval: 10 * time.Millisecond, HeartbeatMaxMisses: 3})

	sub := &fakeSub{id: "a"}
	svc.OnConnect(sub)
	svc.OnMessage(sub, []byte("connect:1"))

	assert.Eventually(t, func() bool {
		_, pings, _ := u.stats()
		return pings >= 10
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, sub.count(protocol.EventHeartbeatTimeout))
}

// 多次快速斷線時同一時間最多只有一個重連計時器。
func TestReconnect_SingleTimer(t *testing.T) {
	u := newFakeUpstream(t)
	svc := newTestService(t, u, Config{ReconnectDelay: time.Hour})

	sub := &fakeSub{id: "a"}
	svc.OnConnect(sub)
	svc.Connect(sub, 1)
	svc.mu.Lock()
	sess := svc.sessions[1]
	svc.mu.Unlock()
	require.NotNil(t, sess)
	assert.Eventually(t, sess.isConnected, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.mu.Lock()
			gen := sess.gen
			sess.mu.Unlock()
			sess.dropped(gen, io.EOF)
		}()
	}
	wg.Wait()

	sess.mu.Lock()
	assert.NotNil(t, sess.reconnect)
	assert.Equal(t, 1, sess.attempts)
	sess.mu.Unlock()

	// 手動 connect 取代排程中的重連
	svc.OnMessage(sub, []byte("connect:1"))
	assert.Eventually(t, sess.isConnected, time.Second, 5*time.Millisecond)
	sess.mu.Lock()
	assert.Nil(t, sess.reconnect)
	sess.mu.Unlock()
	dials, _, _ := u.stats()
	assert.Equal(t, 2, dials)
}

func TestReconnect_AfterUpstreamClose(t *testing.T) {
	u := newFakeUpstream(t)
	u.dropAtOnce = true
	svc := newTestService(t, u, Config{ReconnectDelay: 20 * time.Millisecond, MaxReconnectAttempts: 3})

	sub := &fakeSub{id: "a"}
	svc.OnConnect(sub)
	svc.OnMessage(sub, []byte("connect:1"))

	// 第一次連線加上三次重連之後放棄
	assert.Eventually(t, func() bool {
		dials, _, _ := u.stats()
		return dials == 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return strings.Contains(strings.Join(sub.msgs, "\n"), "reconnect attempts exhausted")
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	dials, _, _ := u.stats()
	assert.Equal(t, 4, dials)
	assert.GreaterOrEqual(t, sub.count(protocol.EventBridgeStatus), 4)
}

func TestTeardownOnLastSubscriber(t *testing.T) {
	u := newFakeUpstream(t)
	svc := newTestService(t, u, Config{ReconnectDelay: 10 * time.Millisecond})

	a, b := &fakeSub{id: "a"}, &fakeSub{id: "b"}
	svc.OnConnect(a)
	svc.OnConnect(b)
	svc.OnMessage(a, []byte("connect:1"))
	svc.OnMessage(b, []byte("connect:1"))
	assert.Eventually(t, func() bool {
		st := svc.Status()
		return len(st) == 1 && st[0].Connected && st[0].Subscribers == 2
	}, time.Second, 5*time.Millisecond)

	svc.OnDisconnect(a)
	require.Len(t, svc.Status(), 1)

	svc.OnDisconnect(b)
	assert.Empty(t, svc.Status())
	assert.Eventually(t, func() bool {
		_, _, closed := u.stats()
		return closed == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	dials, _, _ := u.stats()
	assert.Equal(t, 1, dials)
}

func TestPublishOnlyReachesBoundTable(t *testing.T) {
	u := newFakeUpstream(t)
	svc := newTestService(t, u, Config{})

	a, b := &fakeSub{id: "a"}, &fakeSub{id: "b"}
	svc.OnConnect(a)
	svc.OnConnect(b)
	svc.Connect(a, 1)
	svc.Connect(b, 2)

	svc.Publish(1, protocol.Event{Type: protocol.EventRoundState, Table: 1, Status: "BETTING"})
	assert.Equal(t, 1, a.count(protocol.EventRoundState))
	assert.Zero(t, b.count(protocol.EventRoundState))

	// 換桌後舊桌台沒有下游，上游連線關閉
	svc.Connect(b, 1)
	assert.Eventually(t, func() bool { return len(svc.Status()) == 1 }, time.Second, 5*time.Millisecond)
}

type slowHandler struct {
	recordingHandler
	delay time.Duration
}

func (h *slowHandler) OnStatus(table int, st protocol.StatusPayload) {
	time.Sleep(h.delay)
	h.recordingHandler.OnStatus(table, st)
}

// 桌台處理很慢時，心跳回覆仍然要在讀取迴圈被處理，不可誤判逾時。
func TestSlowHandlerDoesNotStallHeartbeat(t *testing.T) {
	u := newFakeUpstream(t)
	u.reply = true
	u.greeting = []string{
		`{"p":2,"c":{"gameStatus":"E2","gameRound":5,"gameIdx":1,"playerCard":"404105","bankerCard":"206307"}}`,
		`{"p":2,"c":{"gameStatus":"B","gameRound":6,"gameIdx":1,"betTime":2}}`,
	}
	svc := newTestService(t, u, Config{HeartbeatInterval: 10 * time.Millisecond, HeartbeatMaxMisses: 5})
	h := &slowHandler{delay: 200 * time.Millisecond}
	svc.Handle(h)

	sub := &fakeSub{id: "a"}
	svc.OnConnect(sub)
	svc.OnMessage(sub, []byte("connect:1"))

	assert.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.statuses) == 2
	}, 2*time.Second, 5*time.Millisecond)

	_, pings, _ := u.stats()
	assert.GreaterOrEqual(t, pings, 10)
	assert.Zero(t, sub.count(protocol.EventHeartbeatTimeout))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, protocol.StatusResult, h.statuses[0].GameStatus)
	assert.Equal(t, protocol.StatusBetting, h.statuses[1].GameStatus)
}

// 上游已開啟時才綁定的下游會收到最後的快照、狀態與開牌訊息，且只收到一次 bridge_status。
func TestLateSubscriberReceivesReplay(t *testing.T) {
	u := newFakeUpstream(t)
	snapshot := `{"p":1,"c":{"tableNo":1,"gameStatus":"D","playerCard":"404105","bankerCard":"206"}}`
	betting := `{"p":2,"c":{"gameStatus":"B","gameRound":6,"gameIdx":1,"betTime":2}}`
	stale := `{"p":3,"c":{"intposi":2,"cardIdx":3,"playerCard":"404","bankerCard":"","bEndCheck":false}}`
	dealing := `{"p":2,"c":{"gameStatus":"D","gameRound":6,"gameIdx":1}}`
	card := `{"p":3,"c":{"intposi":5,"cardIdx":4,"playerCard":"404105","bankerCard":"206","bEndCheck":false}}`
	u.greeting = []string{snapshot, betting, stale, dealing, card}

	svc := newTestService(t, u, Config{})
	a := &fakeSub{id: "a"}
	svc.OnConnect(a)
	svc.OnMessage(a, []byte("connect:1"))
	assert.Eventually(t, func() bool { return a.has(card) }, 2*time.Second, 5*time.Millisecond)

	b := &fakeSub{id: "b"}
	svc.OnConnect(b)
	svc.OnMessage(b, []byte("connect:1"))

	assert.Equal(t, 1, b.count(protocol.EventBridgeStatus))
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.msgs, 4)
	assert.Equal(t, []string{snapshot, dealing, card}, b.msgs[1:])
}
