package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Tracker.RequestDelay)
	assert.Equal(t, "Asia/Shanghai", cfg.Tracker.TimeZone)
	assert.Equal(t, time.Minute, cfg.Scheduler.ExpiryLead)
	assert.Equal(t, "memory", cfg.SessionStore.Driver)
	assert.Contains(t, cfg.Tracker.UnregisteredMarkers, "unregistered")
}

func TestLoadFileAndEnv(t *testing.T) {
	p := writeConfig(t, `
server:
  addr: ":8081"
database:
  driver: postgres
  postgres:
    host: db
tracker:
  timeout: 45s
session_store:
  driver: redis
  redis:
    addr: cache:6379
`)
	t.Setenv("PTGUARD_SERVER_API_TOKEN", "sekrit")
	t.Setenv("PTGUARD_DATABASE_POSTGRES_PORT", "6543")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "sekrit", cfg.Server.APIToken)
	assert.Equal(t, "db", cfg.Database.Postgres.Host)
	assert.Equal(t, 6543, cfg.Database.Postgres.Port)
	assert.Equal(t, 45*time.Second, cfg.Tracker.Timeout)
	assert.Equal(t, "cache:6379", cfg.SessionStore.Redis.Addr)
}

func TestValidate(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  driver: mongo\n"))
	assert.ErrorIs(t, err, ErrDriver)

	_, err = Load(writeConfig(t, "session_store:\n  driver: etcd\n"))
	assert.ErrorIs(t, err, ErrSessionDriver)

	_, err = Load(writeConfig(t, "notify:\n  telegram:\n    enabled: true\n"))
	assert.ErrorIs(t, err, ErrTelegram)
}

func TestExplicitFileMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
