package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "melodycommons", cfg.DBName)
	assert.Equal(t, 30*24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadSize)
	assert.Equal(t, int64(5<<20), cfg.MaxCoverSize)
	assert.Equal(t, 10*time.Second, cfg.CoverTimeout)
	assert.True(t, cfg.SweepOnStart)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("MAX_UPLOAD_SIZE", "1024")
	t.Setenv("TOKEN_TTL_HOURS", "1")
	t.Setenv("SWEEP_ON_START", "false")
	t.Setenv("STATIC_DIR", "data")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, int64(1024), cfg.MaxUploadSize)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.SweepOnStart)
	assert.Equal(t, "data/audio", cfg.AudioDir)
	assert.Equal(t, "data/covers", cfg.CoverDir)
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	assert.Equal(t, 0, cfg.RedisDB)
}
