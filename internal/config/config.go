// Package config loads, validates and persists the settings of one audiolink
// process. The result is a plain Config value; nothing downstream mutates it.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/1ureka/audiolink/internal/audio"
	"github.com/1ureka/audiolink/internal/transport"
)

// Role selects which end of the stream this process runs.
type Role string

const (
	RoleProducer Role = "produce"
	RoleConsumer Role = "consume"
)

// ParseRole accepts the role names and their server/client aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "produce", "producer", "server":
		return RoleProducer, nil
	case "consume", "consumer", "client":
		return RoleConsumer, nil
	}
	return "", fmt.Errorf("unknown role %q (want produce or consume)", s)
}

// Config holds every tunable of a producer or consumer.
type Config struct {
	Role      Role   `mapstructure:"role"`
	Device    string `mapstructure:"device"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Transport string `mapstructure:"transport"`
	Debug     bool   `mapstructure:"debug"`

	SampleRate   int `mapstructure:"sample_rate"`
	Channels     int `mapstructure:"channels"`
	BitDepth     int `mapstructure:"bit_depth"`
	FrameSamples int `mapstructure:"frame_samples"`

	BufferDuration    time.Duration `mapstructure:"buffer_duration"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	RestartDelay      time.Duration `mapstructure:"restart_delay"`
	StaleWindow       int           `mapstructure:"stale_window"`
	LossTimeout       time.Duration `mapstructure:"loss_timeout"`
	JoinTimeout       time.Duration `mapstructure:"join_timeout"`
	MaxDeviceErrors   int           `mapstructure:"max_device_errors"`
	StatsInterval     time.Duration `mapstructure:"stats_interval"`
}

// DefaultPort is the port both ends use unless told otherwise.
const DefaultPort = 12998

// MaxStaleWindow is the exclusive upper bound of stale_window.
const MaxStaleWindow = 1 << 31

// Default returns the built-in settings for role.
func Default(role Role) Config {
	cfg := Config{
		Role:              role,
		Port:              DefaultPort,
		Transport:         string(transport.KindTCP),
		SampleRate:        audio.CD.SampleRate,
		Channels:          audio.CD.Channels,
		BitDepth:          audio.CD.BitDepth,
		FrameSamples:      4096,
		BufferDuration:    200 * time.Millisecond,
		HeartbeatInterval: 5 * time.Second,
		ReconnectDelay:    5 * time.Second,
		RestartDelay:      time.Second,
		StaleWindow:       1000,
		LossTimeout:       500 * time.Millisecond,
		JoinTimeout:       2 * time.Second,
		MaxDeviceErrors:   50,
		StatsInterval:     10 * time.Second,
	}
	if role == RoleProducer {
		cfg.Host = "0.0.0.0"
	}
	return cfg
}

// keys lists every setting in file order, with its value in cfg.
func (cfg Config) keys() [][2]any {
	return [][2]any{
		{"role", string(cfg.Role)},
		{"device", cfg.Device},
		{"host", cfg.Host},
		{"port", cfg.Port},
		{"transport", cfg.Transport},
		{"debug", cfg.Debug},
		{"sample_rate", cfg.SampleRate},
		{"channels", cfg.Channels},
		{"bit_depth", cfg.BitDepth},
		{"frame_samples", cfg.FrameSamples},
		{"buffer_duration", cfg.BufferDuration.String()},
		{"heartbeat_interval", cfg.HeartbeatInterval.String()},
		{"reconnect_delay", cfg.ReconnectDelay.String()},
		{"restart_delay", cfg.RestartDelay.String()},
		{"stale_window", cfg.StaleWindow},
		{"loss_timeout", cfg.LossTimeout.String()},
		{"join_timeout", cfg.JoinTimeout.String()},
		{"max_device_errors", cfg.MaxDeviceErrors},
		{"stats_interval", cfg.StatsInterval.String()},
	}
}

// DefaultPath returns where the settings of role live when no path is given:
// ~/.audiolink/audiolink-<role>.yaml.
func DefaultPath(role Role) string {
	name := "audiolink-" + string(role) + ".yaml"
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".audiolink", name)
}

// Load reads the settings of role from path (or the default locations),
// applies AUDIOLINK_* environment overrides on top of the defaults and
// returns the result together with the file it came from ("" when none was
// found). The result is not validated; callers fill in prompts first.
func Load(path string, role Role) (Config, string, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUDIOLINK")
	v.AutomaticEnv()

	for _, kv := range Default(role).keys() {
		v.SetDefault(kv[0].(string), kv[1])
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		def := DefaultPath(role)
		v.AddConfigPath(filepath.Dir(def))
		v.AddConfigPath(".")
		v.SetConfigName(strings.TrimSuffix(filepath.Base(def), ".yaml"))
	}

	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case path != "" && errors.Is(err, os.ErrNotExist):
			// An explicit path that doesn't exist yet is created on save.
		default:
			return Config{}, "", fmt.Errorf("read config: %w", err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("unmarshal config: %w", err)
	}
	// A file written for the other role must not flip this one.
	cfg.Role = role
	return cfg, used, nil
}

// Save writes cfg to path, creating parent directories.
func Save(cfg Config, path string) error {
	if path == "" {
		path = DefaultPath(cfg.Role)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for _, kv := range cfg.keys() {
		v.Set(kv[0].(string), kv[1])
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects settings the stream cannot run with.
func (cfg Config) Validate() error {
	var errs []error
	if cfg.Role != RoleProducer && cfg.Role != RoleConsumer {
		errs = append(errs, fmt.Errorf("unknown role %q", cfg.Role))
	}
	if cfg.Device == "" {
		errs = append(errs, errors.New("device is required"))
	}
	if cfg.Role == RoleConsumer && cfg.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", cfg.Port))
	}
	if _, err := transport.ParseKind(cfg.Transport); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.Format().Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("invalid frame size %d samples", cfg.FrameSamples))
	} else if cfg.FrameBytes() > 1<<24-1 {
		errs = append(errs, fmt.Errorf("frame of %d bytes is too large", cfg.FrameBytes()))
	}
	// Sequence distances past half the number space read as "behind".
	if cfg.StaleWindow <= 0 || int64(cfg.StaleWindow) >= MaxStaleWindow {
		errs = append(errs, fmt.Errorf("invalid stale window %d (want 1 to %d)", cfg.StaleWindow, MaxStaleWindow-1))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"buffer_duration", cfg.BufferDuration},
		{"heartbeat_interval", cfg.HeartbeatInterval},
		{"reconnect_delay", cfg.ReconnectDelay},
		{"restart_delay", cfg.RestartDelay},
		{"loss_timeout", cfg.LossTimeout},
		{"join_timeout", cfg.JoinTimeout},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.v))
		}
	}
	if cfg.MaxDeviceErrors <= 0 {
		errs = append(errs, fmt.Errorf("invalid max_device_errors %d", cfg.MaxDeviceErrors))
	}
	return errors.Join(errs...)
}

// Format returns the PCM format of the stream.
func (cfg Config) Format() audio.Format {
	return audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels, BitDepth: cfg.BitDepth}
}

// FrameBytes returns the size of one audio packet payload.
func (cfg Config) FrameBytes() int {
	return cfg.Format().FrameBytes(cfg.FrameSamples)
}

// Addr returns host:port.
func (cfg Config) Addr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

// Kind returns the transport kind; Validate has already rejected bad names.
func (cfg Config) Kind() transport.Kind {
	k, _ := transport.ParseKind(cfg.Transport)
	return k
}
