package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Conference/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("missing")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "mesh", cfg.DefaultTopology)
	require.Equal(t, 30*time.Second, cfg.NegotiationTimeout)
	require.Equal(t, 3*time.Second, cfg.AutoCallDelay)
	require.True(t, cfg.MediaNode.Enabled)
	require.Equal(t, []string{"sfu"}, cfg.MediaNode.Topologies)
	require.Equal(t, 640, cfg.Mixer.TileWidth)
	require.Equal(t, 480, cfg.Mixer.TileHeight)
	require.Equal(t, 10*time.Millisecond, cfg.Mixer.FrameInterval)
	require.Equal(t, 10, cfg.Mixer.MaxTiles)
	require.Equal(t, 10, cfg.RateLimit.Joins)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
	yaml := `
mode: debug
port: 9090
default_topology: sfu
ice_servers: ["stun:example.org:3478"]
media_node:
  enabled: false
mixer:
  tile_width: 320
  frame_interval: 20ms
rate_limit:
  joins: 3
  interval: 1m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)

	cfg, err := Load("test")
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Mode)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "sfu", cfg.DefaultTopology)
	require.Equal(t, []string{"stun:example.org:3478"}, cfg.ICEServers)
	require.False(t, cfg.MediaNode.Enabled)
	require.Equal(t, 320, cfg.Mixer.TileWidth)
	require.Equal(t, 480, cfg.Mixer.TileHeight)
	require.Equal(t, 20*time.Millisecond, cfg.Mixer.FrameInterval)
	require.Equal(t, 3, cfg.RateLimit.Joins)
	require.Equal(t, time.Minute, cfg.RateLimit.Interval)
}

func TestHostedTopologies(t *testing.T) {
	got, err := MediaNode{Topologies: []string{"sfu"}}.HostedTopologies()
	require.NoError(t, err)
	require.Equal(t, []domain.Topology{domain.TopologySFU}, got)

	got, err = MediaNode{Topologies: []string{"sfu", "mcu"}}.HostedTopologies()
	require.NoError(t, err)
	require.Equal(t, []domain.Topology{domain.TopologySFU, domain.TopologyMCU}, got)

	_, err = MediaNode{Topologies: []string{"mesh"}}.HostedTopologies()
	require.Error(t, err)
	_, err = MediaNode{Topologies: []string{"ring"}}.HostedTopologies()
	require.Error(t, err)
}
