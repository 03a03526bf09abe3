package real

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/arnold17091984/dealersys/internal/application/bridge"
	"github.com/arnold17091984/dealersys/internal/application/login"
	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
	"github.com/arnold17091984/dealersys/internal/domain/round"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() (string, error) {
	if s == "" {
		return "", login.ErrNotAuthenticated
	}
	return string(s), nil
}

type captured struct {
	path   string
	auth   string
	fields map[string]string
}

func newServer(t *testing.T, body string, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		fields := make(map[string]string)
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		mu.Lock()
		seen = append(seen, captured{path: r.URL.Path, auth: r.Header.Get("Authorization"), fields: fields})
		mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), seen...)
	}
}

func TestClient_Commands(t *testing.T) {
	srv, seen := newServer(t, `{"ecode":0}`, http.StatusOK)
	c := NewClient(srv.URL, time.Second, staticToken("tok"))
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		path string
	}{
		{"start", func() error { return c.Start(ctx, 3) }, "/dealer/start"},
		{"stop", func() error { return c.Stop(ctx, 3) }, "/dealer/stop"},
		{"finish", func() error { return c.Finish(ctx, 3) }, "/dealer/finish"},
		{"shuffle", func() error { return c.Shuffle(ctx, 3) }, "/dealer/suffle"},
		{"setlast", func() error { return c.SetLast(ctx, 3) }, "/dealer/setlast"},
		{"pause", func() error { return c.Pause(ctx, 3) }, "/dealer/pause"},
		{"restart", func() error { return c.Restart(ctx, 3) }, "/dealer/restart"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.call())
			got := seen()[i]
			assert.Equal(t, tt.path, got.path)
			assert.Equal(t, "Bearer tok", got.auth)
			assert.Equal(t, "3", got.fields["table"])
		})
	}
}

func TestClient_SendCard(t *testing.T) {
	srv, seen := newServer(t, `{"ecode":0}`, http.StatusOK)
	c := NewClient(srv.URL, time.Second, staticToken("tok"))

	card := baccarat.Card{Suit: baccarat.Hearts, Rank: baccarat.Queen}.WithCode("30724")
	err := c.SendCard(context.Background(), 1, round.Placement{Slot: baccarat.Fifth, Card: card, IntPosi: 3})
	require.NoError(t, err)

	got := seen()[0]
	assert.Equal(t, "/dealer/card", got.path)
	assert.Equal(t, map[string]string{"table": "1", "intPosi": "3", "cardIdx": "24", "card": "30724"}, got.fields)
}

func TestClient_Errors(t *testing.T) {
	t.Run("ecode rejected", func(t *testing.T) {
		srv, _ := newServer(t, `{"ecode":200,"error":"game status err!"}`, http.StatusOK)
		err := NewClient(srv.URL, time.Second, staticToken("tok")).Start(context.Background(), 1)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Contains(t, err.Error(), "game status err!")
	})
	t.Run("http error", func(t *testing.T) {
		srv, _ := newServer(t, `oops`, http.StatusBadGateway)
		err := NewClient(srv.URL, time.Second, staticToken("tok")).Stop(context.Background(), 1)
		assert.ErrorIs(t, err, bridge.ErrUpstreamUnavailable)
	})
	t.Run("no token", func(t *testing.T) {
		srv, seen := newServer(t, `{"ecode":0}`, http.StatusOK)
		err := NewClient(srv.URL, time.Second, staticToken("")).Finish(context.Background(), 1)
		assert.ErrorIs(t, err, login.ErrNotAuthenticated)
		assert.Empty(t, seen())
	})
	t.Run("plain text ok", func(t *testing.T) {
		srv, _ := newServer(t, `OK`, http.StatusOK)
		assert.NoError(t, NewClient(srv.URL, time.Second, staticToken("tok")).Pause(context.Background(), 1))
	})
}

func TestClient_TableInfo(t *testing.T) {
	srv, _ := newServer(t, `{"ecode":0,"data":{"table":1,"ttype":"bac"}}`, http.StatusOK)
	raw, err := NewClient(srv.URL, time.Second, staticToken("tok")).TableInfo(context.Background(), 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ecode":0,"data":{"table":1,"ttype":"bac"}}`, string(raw))
}
