package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/arnold17091984/dealersys/internal/adapter/codemap"
	"github.com/arnold17091984/dealersys/internal/adapter/forward"
	gameserverMock "github.com/arnold17091984/dealersys/internal/adapter/gameserver/mock"
	"github.com/arnold17091984/dealersys/internal/adapter/store/memory"
	"github.com/arnold17091984/dealersys/internal/application/bridge"
	"github.com/arnold17091984/dealersys/internal/application/login"
	"github.com/arnold17091984/dealersys/internal/application/reconcile"
	"github.com/arnold17091984/dealersys/internal/application/record"
	"github.com/arnold17091984/dealersys/internal/application/table"
	"github.com/arnold17091984/dealersys/internal/domain/protocol"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeAuth struct {
	err error
}

func (f fakeAuth) Authenticate(context.Context) (login.Credential, error) {
	if f.err != nil {
		return login.Credential{}, f.err
	}
	return login.Credential{Token: "tok", Index: 3}, nil
}

type fakeHealth struct{}

func (fakeHealth) Status() []bridge.SessionStatus {
	return []bridge.SessionStatus{{Table: 1, Connected: true, Subscribers: 2}}
}

type nopNotifier struct{}

func (nopNotifier) Publish(int, protocol.Event) {}

type harness struct {
	engine *gin.Engine
	cmd    *gameserverMock.Client
	codes  *codemap.Store
}

func newHarness(t *testing.T, mode reconcile.Mode, auth Authenticator) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "codemap.yaml"), []byte("codes: {}\n"), 0o644))
	codes, err := codemap.Open(discard, dir, "codemap")
	require.NoError(t, err)

	cmd := gameserverMock.NewClient(discard)
	recorder := record.NewService(discard, memory.NewStore(), forward.Disabled{})
	registry := table.NewRegistry(discard, table.Deps{
		Mode:      mode,
		Positions: codes,
		Decoder:   codes,
		Commander: cmd,
		Recorder:  recorder,
		Notifier:  nopNotifier{},
	})

	h := NewHandler(PublicConfig{TableNo: 1, Mode: string(mode)}, auth, fakeHealth{}, registry, recorder, codes)
	engine := gin.New()
	h.RegisterRoutes(engine)
	return &harness{engine: engine, cmd: cmd, codes: codes}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRoundFlowThroughAPI(t *testing.T) {
	h := newHarness(t, reconcile.ModeActive, fakeAuth{})

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/tables/1/start", nil).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/tables/1/stop", nil).Code)

	// 閒 4+5=9 天生贏，莊 2+3=5
	for _, code := range []string{"14596", "19204", "20228", "06404"} {
		w := h.do(t, http.MethodPost, "/api/tables/1/scan", gin.H{"code": code})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	state := decode[map[string]any](t, h.do(t, http.MethodGet, "/api/tables/1", nil))
	assert.Equal(t, "SETTLED", state["state"])

	// 已結算後再掃牌
	w := h.do(t, http.MethodPost, "/api/tables/1/scan", gin.H{"code": "24580"})
	assert.Equal(t, http.StatusConflict, w.Code)

	rounds := decode[struct {
		Rounds []record.RoundRecord `json:"rounds"`
	}](t, h.do(t, http.MethodGet, "/api/data/rounds?limit=5", nil))
	require.Len(t, rounds.Rounds, 1)
	rd := rounds.Rounds[0]
	assert.Equal(t, "PLAYER", string(rd.Winner))
	assert.True(t, rd.Natural)
	assert.Equal(t, 9, rd.PlayerScore)
	assert.Equal(t, 5, rd.BankerScore)

	assert.Equal(t, []string{"start", "stop", "card:2:3", "card:5:1", "card:1:4", "card:4:2", "finish"}, h.cmd.Calls())

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/tables/1/next", nil).Code)
	state = decode[map[string]any](t, h.do(t, http.MethodGet, "/api/tables/1", nil))
	assert.Equal(t, "IDLE", state["state"])
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t, reconcile.ModeActive, fakeAuth{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"stop while idle", http.MethodPost, "/api/tables/1/stop", nil, http.StatusConflict},
		{"unknown code", http.MethodPost, "/api/tables/1/scan", gin.H{"code": "00000"}, http.StatusUnprocessableEntity},
		{"missing code", http.MethodPost, "/api/tables/1/scan", gin.H{}, http.StatusBadRequest},
		{"bad table", http.MethodGet, "/api/tables/abc", nil, http.StatusBadRequest},
		{"table zero", http.MethodGet, "/api/tables/0", nil, http.StatusBadRequest},
		{"missing card code", http.MethodGet, "/api/data/card-codes/99999", nil, http.StatusNotFound},
		{"delete missing card code", http.MethodDelete, "/api/data/card-codes/99999", nil, http.StatusNotFound},
		{"bad card label", http.MethodPut, "/api/data/card-codes/99999", gin.H{"card": "x9"}, http.StatusUnprocessableEntity},
		{"bad intposi", http.MethodPut, "/api/data/scan-positions/0", gin.H{"intposi": 9}, http.StatusBadRequest},
		{"bad slot", http.MethodPut, "/api/data/scan-positions/8", gin.H{"intposi": 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestPassiveModeBlocksOperator(t *testing.T) {
	h := newHarness(t, reconcile.ModePassive, fakeAuth{})

	w := h.do(t, http.MethodPost, "/api/tables/1/start", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, h.cmd.Calls())

	// 查詢上游資訊仍然允許
	w = h.do(t, http.MethodPost, "/api/tables/1/info", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth(t *testing.T) {
	h := newHarness(t, reconcile.ModeActive, fakeAuth{})
	w := h.do(t, http.MethodPost, "/api/dealer/auth", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "tok", body["token"])
	assert.EqualValues(t, 3, body["idx"])

	down := newHarness(t, reconcile.ModeActive, fakeAuth{err: fmt.Errorf("%w: dial", bridge.ErrUpstreamUnavailable)})
	assert.Equal(t, http.StatusServiceUnavailable, down.do(t, http.MethodPost, "/api/dealer/auth", nil).Code)

	failed := newHarness(t, reconcile.ModeActive, fakeAuth{err: errors.New("boom")})
	assert.Equal(t, http.StatusInternalServerError, failed.do(t, http.MethodPost, "/api/dealer/auth", nil).Code)
}

func TestCardCodeAndPositionEditing(t *testing.T) {
	h := newHarness(t, reconcile.ModeActive, fakeAuth{})

	w := h.do(t, http.MethodPut, "/api/data/card-codes/abc12", gin.H{"card": "d9"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entry := decode[map[string]any](t, w)
	assert.Equal(t, "ABC12", entry["rfidCode"])

	w = h.do(t, http.MethodGet, "/api/data/card-codes/ABC12", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodDelete, "/api/data/card-codes/abc12", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, ok := h.codes.Resolve("ABC12")
	assert.False(t, ok)

	w = h.do(t, http.MethodPut, "/api/data/scan-positions/4", gin.H{"intposi": 3, "bankerIntposi": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pos := decode[codemap.Position](t, w)
	assert.Equal(t, 5, pos.BankerIntPosi)

	list := decode[struct {
		Positions []codemap.Position `json:"positions"`
	}](t, h.do(t, http.MethodGet, "/api/data/scan-positions", nil))
	assert.Len(t, list.Positions, 6)
}

func TestHealthAndForwardStatus(t *testing.T) {
	h := newHarness(t, reconcile.ModeActive, fakeAuth{})

	body := decode[map[string]any](t, h.do(t, http.MethodGet, "/api/health", nil))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["forwardingEnabled"])
	assert.Len(t, body["sessions"], 1)

	stats := decode[record.ForwardStats](t, h.do(t, http.MethodGet, "/api/data/forward/status", nil))
	assert.False(t, stats.Enabled)
	assert.Zero(t, stats.TotalRounds)
}
