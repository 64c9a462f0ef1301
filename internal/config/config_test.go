package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 72*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, int32(8), cfg.Oracle.Exponent)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Oracle.Sources)
	assert.Equal(t, "*/5 * * * * *", cfg.Keeper.Schedule)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  http_addr: ":9000"
db:
  driver: memory
oracle:
  sources: ["ETHUSDT", "SOLUSDT"]
keeper:
  schedule: "*/10 * * * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("WAGER_SERVER_HTTP_ADDR", ":9100")
	t.Setenv("WAGER_REDIS_ADDR", "localhost:6379")
	t.Setenv("WAGER_AUTH_CHALLENGE_TTL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.HTTPAddr, "env overrides file")
	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, cfg.Oracle.Sources)
	assert.Equal(t, "*/10 * * * * *", cfg.Keeper.Schedule)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Auth.ChallengeTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", " c ", ""}))
	assert.Nil(t, splitList(nil))
}
