// Package config loads and validates the doomsdayd YAML configuration
// document: backends, server, and notifications.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doomsday-project/doomsday/internal/backend"
	"github.com/doomsday-project/doomsday/internal/cache"
)

// AuthMode selects the HTTP API's authentication scheme.
type AuthMode string

const (
	AuthNone     AuthMode = "none"
	AuthUserpass AuthMode = "userpass"
)

// ServerConfig controls the HTTP API and debug servers.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	DebugPort    int      `yaml:"debug_port"`
	Auth         AuthMode `yaml:"auth"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	SessionTTL   string   `yaml:"session_ttl"`
}

// NotificationsConfig configures the expiry-notification dispatcher.
// Threshold and either Cron or Interval may be left empty to use the
// dispatcher's defaults (30d / no schedule).
type NotificationsConfig struct {
	Threshold   string         `yaml:"threshold"`
	Cron        string         `yaml:"cron"`
	Interval    string         `yaml:"interval"`
	DoomsdayURL string         `yaml:"doomsday_url"`
	Slack       *SlackConfig   `yaml:"slack"`
	Shout       *ShoutConfig   `yaml:"shout"`
}

type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

type ShoutConfig struct {
	URL string `yaml:"url"`
}

// rawBackendSpec mirrors backend.Spec but with RefreshInterval still a
// string, since YAML has no native duration-grammar type.
type rawBackendSpec struct {
	Name            string                 `yaml:"name"`
	Kind            string                 `yaml:"kind"`
	RefreshInterval string                 `yaml:"refresh_interval"`
	Properties      map[string]interface{} `yaml:"properties"`
}

// Config is the parsed, pre-validated configuration document.
type Config struct {
	Backends      []backend.Spec
	Server        ServerConfig
	Notifications NotificationsConfig
}

type document struct {
	Backends      []rawBackendSpec     `yaml:"backends"`
	Server        ServerConfig         `yaml:"server"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// Load reads and validates a configuration document from path. Any error
// returned here is a configuration error: fatal at startup, never
// swallowed.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse validates a raw YAML document. Exposed separately from Load so
// tests (and, eventually, a config-reload path) can exercise it without
// touching the filesystem.
func Parse(raw []byte) (*Config, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg := &Config{
		Server:        doc.Server,
		Notifications: doc.Notifications,
	}

	seen := make(map[string]struct{}, len(doc.Backends))
	for _, rb := range doc.Backends {
		if rb.Name == "" {
			return nil, fmt.Errorf("backend entry missing name")
		}
		if _, dup := seen[rb.Name]; dup {
			return nil, fmt.Errorf("duplicate backend name %q", rb.Name)
		}
		seen[rb.Name] = struct{}{}

		kind := backend.Kind(rb.Kind)
		switch kind {
		case backend.KindVault, backend.KindCredhub, backend.KindOpsmgr, backend.KindTLSClient:
		default:
			return nil, fmt.Errorf("backend %q: unknown kind %q", rb.Name, rb.Kind)
		}

		interval := 5 * time.Minute
		if rb.RefreshInterval != "" {
			parsed, err := cache.ParseDuration(rb.RefreshInterval)
			if err != nil {
				return nil, fmt.Errorf("backend %q: invalid refresh_interval %q: %w", rb.Name, rb.RefreshInterval, err)
			}
			interval = parsed
		}

		cfg.Backends = append(cfg.Backends, backend.Spec{
			Name:            rb.Name,
			Kind:            kind,
			RefreshInterval: interval,
			Properties:      rb.Properties,
		})
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Auth == "" {
		cfg.Server.Auth = AuthNone
	}
	if cfg.Server.Auth == AuthUserpass && (cfg.Server.Username == "" || cfg.Server.Password == "") {
		return nil, fmt.Errorf("server.auth is %q but username/password are not both set", AuthUserpass)
	}

	return cfg, nil
}
