package bridge

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arnold17091984/dealersys/internal/domain/protocol"
	"github.com/gorilla/websocket"
)

// session 是一張桌台唯一的上游連線，以及綁定在這張桌台的下游連線。
type session struct {
	svc    *Service
	table  int
	logger *slog.Logger

	mu        sync.Mutex
	subs      map[string]Subscriber
	conn      *websocket.Conn
	gen       uint64 // 每次撥號或關閉都會遞增，舊連線的回呼依此判斷是否過期
	dialing   bool
	closed    bool
	reconnect *time.Timer
	attempts  int
	watchdog  *watchdog

	// 每條上游連線最後一則快照、狀態與開牌訊息，中途加入的下游靠它們重建牌面
	lastSnapshot []byte
	lastStatus   []byte
	lastCard     []byte
	// greeted 記錄已經收到目前這條上游連線 bridge_status 的下游 (值為 gen)
	greeted map[string]uint64

	inbox *inbox

	writeMu sync.Mutex // gorilla 的連線同一時間只允許一個寫入者
}

func newSession(svc *Service, table int) *session {
	s := &session{
		svc:     svc,
		table:   table,
		logger:  svc.logger.With("table", table),
		subs:    make(map[string]Subscriber),
		greeted: make(map[string]uint64),
		inbox:   newInbox(),
	}
	go s.inbox.run(svc.ctx)
	return s
}

func (s *session) add(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID()] = sub
}

// remove 回傳移除後剩下的下游數量。
func (s *session) remove(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	delete(s.greeted, id)
	return len(s.subs)
}

func (s *session) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.greeted, id)
}

// greet 通知下游目前的上游連線已開啟；同一條連線對同一個下游只通知一次。
func (s *session) greet(sub Subscriber) {
	s.mu.Lock()
	if s.conn == nil || s.greeted[sub.ID()] == s.gen {
		s.mu.Unlock()
		return
	}
	s.greeted[sub.ID()] = s.gen
	s.mu.Unlock()
	send(sub, statusEvent(s.table, protocol.BridgeConnected), s.logger)
}

// replay 把快取的上游訊息依快照、狀態、開牌的順序送給剛綁定的下游。
func (s *session) replay(sub Subscriber) {
	s.mu.Lock()
	frames := make([][]byte, 0, 3)
	for _, f := range [][]byte{s.lastSnapshot, s.lastStatus, s.lastCard} {
		if f != nil {
			frames = append(frames, f)
		}
	}
	s.mu.Unlock()
	for _, f := range frames {
		send(sub, f, s.logger)
	}
}

func (s *session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *session) status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		Table:       s.table,
		Connected:   s.conn != nil,
		Subscribers: len(s.subs),
		Reconnects:  s.attempts,
	}
}

// connect 處理手動的 connect 指令。
func (s *session) connect(sub Subscriber) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		// 心跳逾時後停下的 watchdog 要等新的 connect 指令才重新啟動
		var restarted *watchdog
		if s.watchdog == nil || s.watchdog.isExpired() {
			s.watchdog = newWatchdog(s, s.conn, s.svc.cfg.HeartbeatInterval, s.svc.cfg.HeartbeatMaxMisses)
			restarted = s.watchdog
		}
		s.mu.Unlock()
		if restarted != nil {
			go restarted.run()
		}
		s.greet(sub)
		s.replay(sub)
		return
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.attempts = 0
	if s.dialing {
		s.mu.Unlock()
		return
	}
	gen := s.beginDialLocked()
	s.mu.Unlock()

	go s.dial(gen)
}

func (s *session) beginDialLocked() uint64 {
	s.dialing = true
	s.gen++
	return s.gen
}

// dial 建立上游連線：{wsUrl}/conn/{table}/{idx}/{token}。
func (s *session) dial(gen uint64) {
	cred, ok := s.svc.creds.Credential()
	if !ok || cred.Token == "" {
		s.mu.Lock()
		if gen == s.gen {
			s.dialing = false
		}
		s.mu.Unlock()
		s.logger.Warn("upstream connect without token")
		s.broadcast(errorEvent(s.table, ErrNoToken))
		return
	}

	url := fmt.Sprintf("%s/conn/%d/%d/%s", s.svc.cfg.WSURL, s.table, cred.Index, cred.Token)
	s.logger.Info("connecting upstream", "url", fmt.Sprintf("%s/conn/%d/%d/***", s.svc.cfg.WSURL, s.table, cred.Index))
	conn, _, err := s.svc.dialer.DialContext(s.svc.ctx, url, nil)

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.dialing = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("upstream connect failed", "error", err)
		s.broadcast(errorEvent(s.table, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)))
		s.scheduleReconnect()
		return
	}
	s.conn = conn
	s.lastSnapshot, s.lastStatus, s.lastCard = nil, nil, nil
	s.watchdog = newWatchdog(s, conn, s.svc.cfg.HeartbeatInterval, s.svc.cfg.HeartbeatMaxMisses)
	wd := s.watchdog
	subs := make([]Subscriber, 0, len(s.subs))
	for id, sub := range s.subs {
		s.greeted[id] = gen
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	s.logger.Info("upstream connected")
	status := statusEvent(s.table, protocol.BridgeConnected)
	for _, sub := range subs {
		send(sub, status, s.logger)
	}
	go wd.run()
	go s.readLoop(conn, gen)
}

// readLoop 讀取上游訊息直到連線中斷。
// 收到第一則訊息才視為連線穩定並歸零重連次數，避免握手後立即被關閉的上游無限重連。
func (s *session) readLoop(conn *websocket.Conn, gen uint64) {
	healthy := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.dropped(gen, err)
			return
		}
		if !healthy {
			healthy = true
			s.mu.Lock()
			if gen == s.gen {
				s.attempts = 0
			}
			s.mu.Unlock()
		}
		s.dispatch(gen, data)
	}
}

// dropped 在上游連線中斷後 (不論是否正常關閉) 通知下游並排程重連。
func (s *session) dropped(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.closed || s.conn == nil {
		s.mu.Unlock()
		return
	}
	if s.watchdog != nil {
		s.watchdog.stop()
		s.watchdog = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	s.logger.Warn("upstream disconnected", "error", err)
	s.broadcast(statusEvent(s.table, protocol.BridgeDisconnected))
	s.scheduleReconnect()
}

// scheduleReconnect 在還有下游連線時排程一次重連；同一時間最多只有一個計時器。
func (s *session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.subs) == 0 || s.reconnect != nil || s.dialing || s.conn != nil {
		return
	}
	limit := s.svc.cfg.MaxReconnectAttempts
	if limit > 0 && s.attempts >= limit {
		s.logger.Error("reconnect attempts exhausted", "attempts", s.attempts)
		go s.broadcast(errorEvent(s.table, fmt.Errorf("%w: reconnect attempts exhausted", ErrUpstreamUnavailable)))
		return
	}
	s.attempts++
	attempt := s.attempts
	s.reconnect = time.AfterFunc(s.svc.cfg.ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnect = nil
		if s.closed || len(s.subs) == 0 || s.conn != nil || s.dialing {
			s.mu.Unlock()
			return
		}
		gen := s.beginDialLocked()
		s.mu.Unlock()

		s.logger.Info("attempting reconnect", "attempt", attempt)
		s.dial(gen)
	})
}

// dispatch 依 p 欄位分派上游訊息。心跳在讀取迴圈內直接處理，其餘原封不動轉送下游，
// 再排進 inbox 依序交給 FrameHandler。
func (s *session) dispatch(gen uint64, data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		s.logger.Warn("undecodable upstream frame dropped", "error", err)
		return
	}
	if frame.P == protocol.TypeHeartbeat {
		s.mu.Lock()
		wd := s.watchdog
		s.mu.Unlock()
		if wd != nil {
			wd.reset()
		}
		return
	}

	s.remember(gen, frame.P, data)
	s.broadcast(data)

	h := s.svc.handler
	switch frame.P {
	case protocol.TypeSnapshot:
		var snap protocol.SnapshotPayload
		if err := frame.Payload(&snap); err != nil {
			s.logger.Warn("invalid snapshot payload", "error", err)
			return
		}
		if h != nil {
			s.inbox.push(func() { h.OnSnapshot(s.table, snap) })
		}
	case protocol.TypeStatus:
		var st protocol.StatusPayload
		if err := frame.Payload(&st); err != nil {
			s.logger.Warn("invalid status payload", "error", err)
			return
		}
		if h != nil {
			s.inbox.push(func() { h.OnStatus(s.table, st) })
		}
	case protocol.TypeCard:
		var card protocol.CardPayload
		if err := frame.Payload(&card); err != nil {
			s.logger.Warn("invalid card payload", "error", err)
			return
		}
		if h != nil {
			s.inbox.push(func() { h.OnCard(s.table, card) })
		}
	default:
		s.logger.Warn("unknown upstream frame type relayed", "p", int(frame.P))
	}
}

// remember 更新重播用的快取。新的狀態訊息代表牌局前進，之前的開牌訊息不再適用。
func (s *session) remember(gen uint64, p protocol.FrameType, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	switch p {
	case protocol.TypeSnapshot:
		s.lastSnapshot = data
	case protocol.TypeStatus:
		s.lastStatus = data
		s.lastCard = nil
	case protocol.TypeCard:
		s.lastCard = data
	}
}

// forward 把下游的非控制訊息原封不動送往上游。
func (s *session) forward(message []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrUpstreamUnavailable
	}
	return s.write(conn, message)
}

func (s *session) write(conn *websocket.Conn, message []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.svc.cfg.HeartbeatInterval + time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

func (s *session) broadcast(data []byte) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		send(sub, data, s.logger)
	}
}

// close 結束這張桌台的上游連線並取消所有計時器，之後不會再重連。
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.watchdog != nil {
		s.watchdog.stop()
		s.watchdog = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	s.inbox.close()

	if conn != nil {
		s.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		conn.Close()
	}
	s.logger.Info("upstream session closed")
}
