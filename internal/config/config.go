// Package config loads the renderer configuration from TOML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"go2tv.app/render-bridge/internal/domain"
)

const (
	appName       = "render-bridge"
	localFileName = "render-bridge.toml"

	envPrefix = "RENDER_BRIDGE_"

	defaultFriendlyName       = "render-bridge"
	defaultSyncIntervalMS     = 1000
	defaultProbeTimeoutMS     = 500
	defaultDiscoveryTimeoutMS = 2000
	minSyncIntervalMS         = 100
)

type Config struct {
	Renderer RendererConfig `koanf:"renderer"`
	Relay    RelayConfig    `koanf:"relay"`
	History  HistoryConfig  `koanf:"history"`
	Log      LogConfig      `koanf:"log"`

	// Sources lists the files that were loaded, lowest priority first.
	Sources []string `koanf:"-"`
}

type RendererConfig struct {
	FriendlyName   string `koanf:"friendly_name"`
	UDN            string `koanf:"udn"`
	SyncIntervalMS int    `koanf:"sync_interval_ms"`
	ProbeTimeoutMS int    `koanf:"probe_timeout_ms"`
}

// RelayConfig selects the LAN device that plays the media. An empty target
// runs the renderer without an engine.
type RelayConfig struct {
	Target             string `koanf:"target"`   // device name or address
	Protocol           string `koanf:"protocol"` // "chromecast", "dlna" or empty for any
	DiscoveryTimeoutMS int    `koanf:"discovery_timeout_ms"`
}

type HistoryConfig struct {
	Enabled *bool  `koanf:"enabled"` // default: true
	Path    string `koanf:"path"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

// Load reads the XDG config file and ./render-bridge.toml, or only
// explicitPath when set, then applies environment overrides.
func Load(explicitPath string) (*Config, error) {
	k := koanf.New(".")
	cfg := &Config{}

	var paths []string
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", explicitPath, err)
		}
		paths = []string{explicitPath}
	} else {
		paths = searchPaths()
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg.Sources = append(cfg.Sources, path)
	}

	if err := loadEnv(k); err != nil {
		return nil, err
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func searchPaths() []string {
	var paths []string
	if p, err := xdg.SearchConfigFile(filepath.Join(appName, "config.toml")); err == nil {
		paths = append(paths, p)
	}
	// Working directory file has the highest priority.
	paths = append(paths, localFileName)
	return paths
}

// envKeys maps the supported environment variables, without envPrefix, to
// their config keys.
var envKeys = map[string]string{
	"FRIENDLY_NAME":    "renderer.friendly_name",
	"UDN":              "renderer.udn",
	"SYNC_INTERVAL_MS": "renderer.sync_interval_ms",
	"PROBE_TIMEOUT_MS": "renderer.probe_timeout_ms",
	"RELAY_TARGET":     "relay.target",
	"RELAY_PROTOCOL":   "relay.protocol",
	"HISTORY_PATH":     "history.path",
	"HISTORY_ENABLED":  "history.enabled",
	"LOG_LEVEL":        "log.level",
}

// loadEnv layers RENDER_BRIDGE_* variables over the loaded files. Blank
// variables are ignored; malformed numbers and booleans are errors.
func loadEnv(k *koanf.Koanf) error {
	var errs []error
	provider := env.ProviderWithValue(envPrefix, ".", func(name, value string) (string, any) {
		key, ok := envKeys[strings.TrimPrefix(name, envPrefix)]
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			return "", nil
		}
		switch key {
		case "renderer.sync_interval_ms", "renderer.probe_timeout_ms":
			v, err := strconv.Atoi(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", name, value))
				return "", nil
			}
			return key, v
		case "history.enabled":
			v, err := strconv.ParseBool(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid boolean %q", name, value))
				return "", nil
			}
			return key, v
		}
		return key, value
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Renderer.FriendlyName) == "" {
		c.Renderer.FriendlyName = defaultFriendlyName
	}
	if c.Renderer.UDN == "" {
		c.Renderer.UDN = "uuid:" + uuid.NewString()
	} else if !strings.HasPrefix(c.Renderer.UDN, "uuid:") {
		c.Renderer.UDN = "uuid:" + c.Renderer.UDN
	}
	if c.Renderer.SyncIntervalMS <= 0 {
		c.Renderer.SyncIntervalMS = defaultSyncIntervalMS
	}
	if c.Renderer.SyncIntervalMS < minSyncIntervalMS {
		c.Renderer.SyncIntervalMS = minSyncIntervalMS
	}
	// Probes must finish within one period.
	if c.Renderer.ProbeTimeoutMS <= 0 || c.Renderer.ProbeTimeoutMS >= c.Renderer.SyncIntervalMS {
		c.Renderer.ProbeTimeoutMS = min(defaultProbeTimeoutMS, c.Renderer.SyncIntervalMS/2)
	}
	if c.Relay.DiscoveryTimeoutMS <= 0 {
		c.Relay.DiscoveryTimeoutMS = defaultDiscoveryTimeoutMS
	}
	c.Relay.Protocol = strings.ToLower(strings.TrimSpace(c.Relay.Protocol))
	if c.History.Path != "" {
		c.History.Path = expandPath(c.History.Path)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports settings that cannot be corrected by defaults.
func (c *Config) Validate() error {
	switch c.Relay.Protocol {
	case "", domain.ProtocolChromecast, domain.ProtocolDLNA:
	default:
		return fmt.Errorf("relay.protocol: unsupported value %q", c.Relay.Protocol)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := uuid.Parse(strings.TrimPrefix(c.Renderer.UDN, "uuid:")); err != nil {
		return fmt.Errorf("renderer.udn: %w", err)
	}
	return nil
}

// HistoryEnabled returns whether launches are recorded (default: true).
func (c *Config) HistoryEnabled() bool {
	return c.History.Enabled == nil || *c.History.Enabled
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Renderer.SyncIntervalMS) * time.Millisecond
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Renderer.ProbeTimeoutMS) * time.Millisecond
}

func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Relay.DiscoveryTimeoutMS) * time.Millisecond
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level: unsupported value %q", raw)
	}
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
