package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arnold17091984/dealersys/internal/application/login"
	"github.com/arnold17091984/dealersys/internal/domain/protocol"
	"github.com/gorilla/websocket"
)

var (
	// ErrUpstreamUnavailable 表示上游 websocket 無法連線或已中斷。
	ErrUpstreamUnavailable = errors.New("bridge: upstream unavailable")
	// ErrNoToken 表示尚未取得荷官憑證，無法建立上游連線。
	ErrNoToken = errors.New("bridge: no auth token")
)

// connectPrefix 是下游要求綁定桌台的控制指令前綴，例如 "connect:1"。
const connectPrefix = "connect:"

// Subscriber 是一個下游 (瀏覽器) 連線。
type Subscriber interface {
	ID() string
	Send(data []byte) error
}

// FrameHandler 接收已解析的上游訊息，由桌台服務實作。
type FrameHandler interface {
	OnSnapshot(table int, snap protocol.SnapshotPayload)
	OnStatus(table int, st protocol.StatusPayload)
	OnCard(table int, card protocol.CardPayload)
}

// CredentialSource 提供上游連線需要的 token 與連線序號。
type CredentialSource interface {
	Credential() (login.Credential, bool)
}

// Config 是上游連線的參數。
type Config struct {
	WSURL                string        // 例如 ws://game-host:4000，不含 /conn
	HeartbeatInterval    time.Duration // 心跳間隔
	HeartbeatMaxMisses   int           // 連續幾次沒有回應視為斷線
	ReconnectDelay       time.Duration // 斷線後多久重連
	MaxReconnectAttempts int           // 連續重連次數上限，0 代表不限制
	HandshakeTimeout     time.Duration
}

func (c *Config) normalize() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.HeartbeatMaxMisses <= 0 {
		c.HeartbeatMaxMisses = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	c.WSURL = strings.TrimRight(c.WSURL, "/")
}

// SessionStatus 是單一桌台上游連線的狀態，用於健康檢查。
type SessionStatus struct {
	Table       int  `json:"table"`
	Connected   bool `json:"upstreamConnected"`
	Subscribers int  `json:"clientCount"`
	Reconnects  int  `json:"reconnectAttempts"`
}

// Service 把多個下游連線多工到每張桌台唯一的上游連線。
type Service struct {
	ctx     context.Context
	cfg     Config
	creds   CredentialSource
	dialer  *websocket.Dialer
	logger  *slog.Logger
	handler FrameHandler

	mu       sync.Mutex
	sessions map[int]*session
	subs     map[string]*binding
}

// binding 記錄下游連線目前綁定的桌台 (0 代表尚未綁定)。
type binding struct {
	sub   Subscriber
	table int
}

// NewService 創建一個新的 bridge 服務。ctx 結束時所有上游連線都會關閉。
func NewService(ctx context.Context, cfg Config, creds CredentialSource, logger *slog.Logger) *Service {
	cfg.normalize()
	return &Service{
		ctx:   ctx,
		cfg:   cfg,
		creds: creds,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:   logger.With("component", "bridge"),
		sessions: make(map[int]*session),
		subs:     make(map[string]*binding),
	}
}

// Handle 設定上游訊息的處理者，必須在第一個下游連線之前呼叫。
func (s *Service) Handle(h FrameHandler) {
	s.handler = h
}

// OnConnect 登記新的下游連線；已經開啟的上游連線會立即通知它。
func (s *Service) OnConnect(sub Subscriber) {
	s.mu.Lock()
	s.subs[sub.ID()] = &binding{sub: sub}
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.greet(sub)
	}
}

// OnDisconnect 移除下游連線；桌台的最後一個下游離開時關閉上游連線。
func (s *Service) OnDisconnect(sub Subscriber) {
	s.mu.Lock()
	b, ok := s.subs[sub.ID()]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, sub.ID())
	closing := s.detachLocked(b)
	rest := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		rest = append(rest, sess)
	}
	s.mu.Unlock()

	for _, sess := range rest {
		sess.forget(sub.ID())
	}
	if closing != nil {
		closing.close()
	}
}

// OnMessage 處理下游訊息："connect:<table>" 綁定桌台，其餘原封不動轉送上游。
func (s *Service) OnMessage(sub Subscriber, message []byte) {
	text := strings.TrimSpace(string(message))
	if strings.HasPrefix(text, connectPrefix) {
		table, err := parseTable(strings.TrimPrefix(text, connectPrefix))
		if err != nil {
			s.logger.Warn("invalid connect command", "clientID", sub.ID(), "command", text)
			send(sub, errorEvent(0, err), s.logger)
			return
		}
		s.Connect(sub, table)
		return
	}

	s.mu.Lock()
	b := s.subs[sub.ID()]
	var sess *session
	if b != nil && b.table != 0 {
		sess = s.sessions[b.table]
	}
	s.mu.Unlock()

	if sess == nil {
		s.logger.Warn("message from unbound client dropped", "clientID", sub.ID())
		send(sub, errorEvent(0, fmt.Errorf("%w: send connect:<table> first", ErrUpstreamUnavailable)), s.logger)
		return
	}
	if err := sess.forward(message); err != nil {
		send(sub, errorEvent(sess.table, err), s.logger)
	}
}

// Connect 把下游連線綁定到指定桌台，必要時建立上游連線。
// 已經連上時只通知這個下游並重播最後的快照、狀態與開牌訊息；有排程中的重連則取消並立即連線。
func (s *Service) Connect(sub Subscriber, table int) {
	s.mu.Lock()
	b, ok := s.subs[sub.ID()]
	if !ok {
		b = &binding{sub: sub}
		s.subs[sub.ID()] = b
	}
	var closing *session
	if b.table != table {
		closing = s.detachLocked(b)
	}
	sess, ok := s.sessions[table]
	if !ok {
		sess = newSession(s, table)
		s.sessions[table] = sess
	}
	b.table = table
	sess.add(sub)
	s.mu.Unlock()

	if closing != nil {
		closing.close()
	}
	sess.connect(sub)
}

// detachLocked 把下游連線從目前的桌台移除，回傳因此沒有下游的 session。
func (s *Service) detachLocked(b *binding) *session {
	if b.table == 0 {
		return nil
	}
	sess, ok := s.sessions[b.table]
	b.table = 0
	if !ok {
		return nil
	}
	if sess.remove(b.sub.ID()) == 0 {
		delete(s.sessions, sess.table)
		return sess
	}
	return nil
}

// Publish 推送事件給綁定在該桌台的下游連線。
func (s *Service) Publish(table int, e protocol.Event) {
	s.Broadcast(table, e.Encode())
}

// Broadcast 推送原始訊息給綁定在該桌台的下游連線。
func (s *Service) Broadcast(table int, data []byte) {
	s.mu.Lock()
	sess := s.sessions[table]
	s.mu.Unlock()
	if sess != nil {
		sess.broadcast(data)
	}
}

// Status 回傳每張桌台的上游連線狀態，依桌號排序。
func (s *Service) Status() []SessionStatus {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make([]SessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// Close 關閉所有上游連線。
func (s *Service) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[int]*session)
	for _, b := range s.subs {
		b.table = 0
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

func parseTable(s string) (int, error) {
	// 舊版前端會送 connect:<table>:<idx>，idx 一律以憑證為準
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid table %q", s)
	}
	return n, nil
}

func statusEvent(table int, status string) []byte {
	return protocol.Event{Type: protocol.EventBridgeStatus, Table: table, Status: status}.Encode()
}

func errorEvent(table int, err error) []byte {
	return protocol.Event{Type: protocol.EventBridgeError, Table: table, Error: err.Error()}.Encode()
}

func send(sub Subscriber, data []byte, logger *slog.Logger) {
	if err := sub.Send(data); err != nil {
		logger.Warn("send to client failed", "clientID", sub.ID(), "error", err)
	}
}
