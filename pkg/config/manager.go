// Package config loads the YAML configuration that drives emmkpi: the
// time windows, which procedure analyzers run, where events are
// replayed from, and the optional dashboard/persistence sections.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/protei/emmkpi/pkg/emm"
)

// Windows mirrors pkg/emm.Windows in YAML-friendly form so a
// deployment can override any of the default time windows without a
// rebuild.
type Windows struct {
	ThresholdSeconds      float64 `yaml:"threshold_seconds"`
	HandoverWindowSeconds float64 `yaml:"handover_window_seconds"`
	T3450Seconds          float64 `yaml:"t3450_seconds"`
	TimeoutStrikeCount    int     `yaml:"timeout_strike_count"`
}

// Procedures lists which of the seven analyzers to register. An empty
// list is invalid (Validate rejects it) rather than defaulting to
// "all", so a trimmed deployment config is explicit about its scope.
type Procedures struct {
	Enabled []string `yaml:"enabled"`
}

// Source configures the event replay source the CLI drives.
type Source struct {
	ReplayPath string `yaml:"replay_path"`
}

// Web configures the optional read-only dashboard.
type Web struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Auth configures the dashboard's local operator login. TokenExpiryHours
// is plain hours rather than a time.Duration field: yaml.v3 unmarshals
// into time.Duration's underlying int64, so a YAML string like "12h"
// would fail to parse.
type Auth struct {
	JWTSecret        string  `yaml:"jwt_secret"`
	TokenExpiryHours float64 `yaml:"token_expiry_hours"`
	AdminUsername    string  `yaml:"admin_username"`
	AdminPassword    string  `yaml:"admin_password"`
}

// TokenExpiry converts TokenExpiryHours into a time.Duration.
func (a Auth) TokenExpiry() time.Duration {
	return time.Duration(a.TokenExpiryHours * float64(time.Hour))
}

// Database configures the optional Postgres persistence sink.
type Database struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Storage configures the optional JSONL persistence sink.
type Storage struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Logging configures internal/logger.
type Logging struct {
	Level      string `yaml:"level"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config is the root of config.yaml.
type Config struct {
	Windows    Windows    `yaml:"windows"`
	Procedures Procedures `yaml:"procedures"`
	Source     Source     `yaml:"source"`
	Web        Web        `yaml:"web"`
	Auth       Auth       `yaml:"auth"`
	Database   Database   `yaml:"database"`
	Storage    Storage    `yaml:"storage"`
	Logging    Logging    `yaml:"logging"`
}

// Default returns the default windows and every procedure enabled,
// matching pkg/emm.DefaultWindows().
func Default() *Config {
	return &Config{
		Windows: Windows{
			ThresholdSeconds:      60,
			HandoverWindowSeconds: 600,
			T3450Seconds:          6,
			TimeoutStrikeCount:    5,
		},
		Procedures: Procedures{
			Enabled: []string{
				"identification", "security", "guti", "authentication",
				"attach", "detach", "tau",
			},
		},
		Auth: Auth{
			TokenExpiryHours: 12,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads and parses a YAML configuration file, filling in spec
// defaults for anything the file omits.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate rejects a configuration the analyzers cannot safely run
// with: zero/negative time windows, an empty procedure list, or an
// empty replay source path.
func (c *Config) Validate() error {
	if c.Windows.ThresholdSeconds <= 0 {
		return fmt.Errorf("windows.threshold_seconds must be positive")
	}
	if c.Windows.HandoverWindowSeconds <= 0 {
		return fmt.Errorf("windows.handover_window_seconds must be positive")
	}
	if c.Windows.T3450Seconds <= 0 {
		return fmt.Errorf("windows.t3450_seconds must be positive")
	}
	if c.Windows.TimeoutStrikeCount <= 0 {
		return fmt.Errorf("windows.timeout_strike_count must be positive")
	}
	if len(c.Procedures.Enabled) == 0 {
		return fmt.Errorf("procedures.enabled must name at least one analyzer")
	}
	if c.Source.ReplayPath == "" {
		return fmt.Errorf("source.replay_path is required")
	}
	if c.Database.Enabled && (c.Database.Host == "" || c.Database.Name == "") {
		return fmt.Errorf("database.host and database.name are required when database.enabled is true")
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage.enabled is true")
	}
	if c.Web.Enabled && c.Web.Addr == "" {
		return fmt.Errorf("web.addr is required when web.enabled is true")
	}
	if c.Web.Enabled && c.Auth.TokenExpiryHours <= 0 {
		return fmt.Errorf("auth.token_expiry_hours must be positive when web.enabled is true")
	}
	return nil
}

// ToEMMWindows converts the YAML-friendly Windows into the
// time.Duration-based pkg/emm.Windows every analyzer is constructed
// with.
func (w Windows) ToEMMWindows() emm.Windows {
	return emm.Windows{
		Threshold:       time.Duration(w.ThresholdSeconds * float64(time.Second)),
		HandoverWindow:  time.Duration(w.HandoverWindowSeconds * float64(time.Second)),
		T3450:           time.Duration(w.T3450Seconds * float64(time.Second)),
		StrikeThreshold: w.TimeoutStrikeCount,
	}
}

// ProcedureEnabled reports whether name appears in Procedures.Enabled.
func (c *Config) ProcedureEnabled(name string) bool {
	for _, p := range c.Procedures.Enabled {
		if p == name {
			return true
		}
	}
	return false
}
