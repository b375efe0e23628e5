package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/audiolink/internal/transport"
)

func TestDefaults(t *testing.T) {
	cfg := Default(RoleProducer)
	assert.Equal(t, 12998, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 16384, cfg.FrameBytes())
	assert.Equal(t, transport.KindTCP, cfg.Kind())
	assert.Equal(t, "0.0.0.0:12998", cfg.Addr())

	assert.Error(t, cfg.Validate(), "device is still missing")
	cfg.Device = "tone"
	assert.NoError(t, cfg.Validate())

	consumer := Default(RoleConsumer)
	consumer.Device = "-"
	assert.ErrorContains(t, consumer.Validate(), "host is required")
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{
		"produce": RoleProducer, "server": RoleProducer,
		"Consume": RoleConsumer, "client": RoleConsumer,
	} {
		got, err := ParseRole(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseRole("relay")
	assert.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default(RoleConsumer)
	cfg.Device = "-"
	cfg.Host = "localhost"
	cfg.Port = 70000
	cfg.Transport = "udp"
	cfg.BitDepth = 12
	cfg.HeartbeatInterval = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"invalid port", "unknown transport", "bit depth", "heartbeat_interval"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "consumer.yaml")

	cfg := Default(RoleConsumer)
	cfg.Device = "/tmp/out.pcm"
	cfg.Host = "10.0.0.2"
	cfg.Transport = "ws"
	cfg.BufferDuration = 350 * time.Millisecond
	require.NoError(t, Save(cfg, path))

	loaded, used, err := Load(path, RoleConsumer)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, cfg, loaded)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	cfg, used, err := Load(path, RoleProducer)
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, Default(RoleProducer), cfg)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "producer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: tone\nport: 4000\n"), 0o644))

	t.Setenv("AUDIOLINK_PORT", "5000")
	t.Setenv("AUDIOLINK_HEARTBEAT_INTERVAL", "2s")

	cfg, _, err := Load(path, RoleProducer)
	require.NoError(t, err)
	assert.Equal(t, "tone", cfg.Device)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
}

func TestLoadPinsRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.yaml")
	require.NoError(t, os.WriteFile(path, []byte("role: consume\n"), 0o644))

	cfg, _, err := Load(path, RoleProducer)
	require.NoError(t, err)
	assert.Equal(t, RoleProducer, cfg.Role)
}

func TestValidateStaleWindowBounds(t *testing.T) {
	cfg := Default(RoleConsumer)
	cfg.Device = "-"
	cfg.Host = "localhost"
	require.NoError(t, cfg.Validate())

	for _, bad := range []int64{0, -1, MaxStaleWindow, 1 << 32} {
		cfg.StaleWindow = int(bad)
		assert.ErrorContains(t, cfg.Validate(), "invalid stale window", "stale_window %d", bad)
	}

	cfg.StaleWindow = MaxStaleWindow - 1
	assert.NoError(t, cfg.Validate())
}
