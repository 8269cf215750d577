package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "data/torrentd.db", cfg.Database.Path)
	assert.Equal(t, "data/downloads", cfg.Engine.DataDir)
	assert.Equal(t, 42069, cfg.Engine.ListenPort)
	assert.True(t, cfg.Engine.Seed)
	assert.Equal(t, int64(0), cfg.Engine.MaxDownloadRate)
	assert.Equal(t, int64(0), cfg.Engine.MaxUploadRate)
	assert.Equal(t, 300, cfg.Engine.BoostConns)
	assert.Equal(t, 400, cfg.Engine.SeedConns)
	assert.Empty(t, cfg.Engine.Trackers)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.Interval)
	assert.Equal(t, 16, cfg.Hub.QueueSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TORRENTD_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("TORRENTD_MONITOR_INTERVAL", "250ms")
	t.Setenv("TORRENTD_ENGINE_SEED", "false")
	t.Setenv("TORRENTD_ENGINE_MAXDOWNLOADRATE", "1048576")
	t.Setenv("TORRENTD_HUB_QUEUESIZE", "32")
	t.Setenv("TORRENTD_ENGINE_TRACKERS", "udp://a.example:80/announce,udp://b.example:80/announce")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.Interval)
	assert.False(t, cfg.Engine.Seed)
	assert.Equal(t, int64(1048576), cfg.Engine.MaxDownloadRate)
	assert.Equal(t, 32, cfg.Hub.QueueSize)
	require.Len(t, cfg.Engine.Trackers, 2)
	assert.Equal(t, "udp://a.example:80/announce", cfg.Engine.Trackers[0])
}
