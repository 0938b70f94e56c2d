package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couplesync/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	var cfg Config
	cfg.LoadDefaults()

	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, models.RecoveryWindow, cfg.RecoveryWindow)
	assert.Equal(t, 2*time.Minute, cfg.LockStaleAfter)
}

func TestParseJson_Overlay(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "conf.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"sweep_interval":"30m","database_dsn":"postgres://x/y"}`), 0o600))

	origArgs := os.Args
	os.Args = []string{"test", "-c", file}
	defer func() { os.Args = origArgs }()

	var cfg Config
	cfg.LoadDefaults()
	parseJson(&cfg)

	assert.Equal(t, 30*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "postgres://x/y", cfg.DatabaseDSN)
	assert.Equal(t, models.RecoveryWindow, cfg.RecoveryWindow)
}

func TestParseFlags_Overrides(t *testing.T) {
	origArgs := os.Args
	os.Args = []string{"test", "-d", "postgres://flag/db", "-i", "15"}
	defer func() { os.Args = origArgs }()

	var cfg Config
	cfg.LoadDefaults()
	parseFlags(&cfg)

	assert.Equal(t, "postgres://flag/db", cfg.DatabaseDSN)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
}
