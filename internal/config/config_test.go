package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	yaml := `server:
  port: 9090
  mode: passive
gameServer:
  baseUrl: http://game:3000
  wsUrl: ws://game:4000
websocket:
  allowedOrigins: ["dealer.local"]
forwarding:
  enabled: true
  queueKey: q
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.test.yaml"), []byte(yaml), 0o644))

	cfg, err := LoadConfig[Config](dir, "test")
	require.NoError(t, err)
	cfg.ApplyDefaults()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "passive", cfg.Server.Mode)
	assert.Equal(t, "ws://game:4000", cfg.GameServer.WSURL)
	assert.Equal(t, 10*time.Second, cfg.GameServer.Timeout())
	assert.Equal(t, []string{"dealer.local"}, cfg.Websocket.AllowedOrigins)
	assert.True(t, cfg.Forwarding.Enabled)

	assert.Equal(t, 1, cfg.Table.Number)
	assert.Equal(t, 1000, cfg.Bridge.HeartbeatIntervalMs)
	assert.Equal(t, 5, cfg.Bridge.HeartbeatMaxMisses)
	assert.Equal(t, ModeMock, cfg.Auth.Mode)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "codemap", cfg.Mapping.Name)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig[Config](t.TempDir(), "nope")
	assert.Error(t, err)
}
