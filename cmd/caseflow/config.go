package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/rendis/caseflow/internal/validation"
)

// Duration is a time.Duration that reads and writes "30s" style strings.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds all caseflow configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath          string   `json:"db_path" validate:"required"`
	LogLevel        string   `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat       string   `json:"log_format" validate:"oneof=json text"`
	ListenAddr      string   `json:"listen_addr" validate:"required"`
	SweepSchedule   string   `json:"sweep_schedule" validate:"required"`
	SweepBatch      int      `json:"sweep_batch" validate:"gt=0"`
	PoolSize        int      `json:"pool_size" validate:"gt=0"`
	DispatchLimit   int      `json:"dispatch_limit" validate:"gt=0"`
	ChannelTimeout  Duration `json:"channel_timeout" validate:"gt=0"`
	StaleClaimAfter Duration `json:"stale_claim_after" validate:"gte=0"`
	RelayURL        string   `json:"relay_url,omitempty" validate:"omitempty,url"`
	RelayToken      string   `json:"relay_token,omitempty"`
	ChatAPIBase     string   `json:"chat_api_base" validate:"required,url"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(caseflowDir(), "caseflow.db"),
		LogLevel:        "info",
		LogFormat:       "json",
		ListenAddr:      ":4200",
		SweepSchedule:   "@every 30s",
		SweepBatch:      100,
		PoolSize:        8,
		DispatchLimit:   8,
		ChannelTimeout:  Duration(10 * time.Second),
		StaleClaimAfter: Duration(15 * time.Minute),
		ChatAPIBase:     "https://slack.com/api",
	}
}

func caseflowDir() string {
	if v := os.Getenv("CASEFLOW_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".caseflow"
	}
	return filepath.Join(home, ".caseflow")
}

func settingsPath() string {
	return filepath.Join(caseflowDir(), "settings.json")
}

// dsn turns a filesystem path into the URI libSQL expects.
func (c Config) dsn() string {
	if strings.HasPrefix(c.DBPath, "file:") || strings.HasPrefix(c.DBPath, "libsql:") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

// loadConfig layers defaults, the settings file and CASEFLOW_* variables.
// A missing settings file is fine; a malformed one is not.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = settingsPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	num := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	dur := func(dst *Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = Duration(d)
			return nil
		}
	}

	vars := []struct {
		name string
		set  func(string) error
	}{
		{"CASEFLOW_DB_PATH", str(&cfg.DBPath)},
		{"CASEFLOW_LOG_LEVEL", str(&cfg.LogLevel)},
		{"CASEFLOW_LOG_FORMAT", str(&cfg.LogFormat)},
		{"CASEFLOW_LISTEN_ADDR", str(&cfg.ListenAddr)},
		{"CASEFLOW_SWEEP_SCHEDULE", str(&cfg.SweepSchedule)},
		{"CASEFLOW_SWEEP_BATCH", num(&cfg.SweepBatch)},
		{"CASEFLOW_POOL_SIZE", num(&cfg.PoolSize)},
		{"CASEFLOW_DISPATCH_LIMIT", num(&cfg.DispatchLimit)},
		{"CASEFLOW_CHANNEL_TIMEOUT", dur(&cfg.ChannelTimeout)},
		{"CASEFLOW_STALE_CLAIM_AFTER", dur(&cfg.StaleClaimAfter)},
		{"CASEFLOW_RELAY_URL", str(&cfg.RelayURL)},
		{"CASEFLOW_RELAY_TOKEN", str(&cfg.RelayToken)},
		{"CASEFLOW_CHAT_API_BASE", str(&cfg.ChatAPIBase)},
	}
	for _, v := range vars {
		raw, ok := os.LookupEnv(v.name)
		if !ok || raw == "" {
			continue
		}
		if err := v.set(raw); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	return nil
}

// bindFlags registers the flags that may override cfg.
func bindFlags(fs *pflag.FlagSet) {
	fs.String("db-path", "", "database path (default ~/.caseflow/caseflow.db)")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: json, text")
	fs.String("listen-addr", "", "metrics listen address")
	fs.String("sweep-schedule", "", "cron spec for the deferred-step sweep")
	fs.Int("sweep-batch", 0, "max deferred steps claimed per sweep")
	fs.Int("pool-size", 0, "sweep worker pool size")
	fs.Int("dispatch-limit", 0, "max concurrent runs per dispatched event")
	fs.Duration("channel-timeout", 0, "timeout for each outbound channel send")
	fs.String("relay-url", "", "email/SMS relay base URL (log-only delivery when empty)")
}

// applyFlags copies explicitly set flags onto cfg.
func applyFlags(fs *pflag.FlagSet, cfg *Config) {
	if !fs.Parsed() {
		return
	}
	strFlags := map[string]*string{
		"db-path":        &cfg.DBPath,
		"log-level":      &cfg.LogLevel,
		"log-format":     &cfg.LogFormat,
		"listen-addr":    &cfg.ListenAddr,
		"sweep-schedule": &cfg.SweepSchedule,
		"relay-url":      &cfg.RelayURL,
	}
	for name, dst := range strFlags {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	intFlags := map[string]*int{
		"sweep-batch":    &cfg.SweepBatch,
		"pool-size":      &cfg.PoolSize,
		"dispatch-limit": &cfg.DispatchLimit,
	}
	for name, dst := range intFlags {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	if fs.Changed("channel-timeout") {
		d, _ := fs.GetDuration("channel-timeout")
		cfg.ChannelTimeout = Duration(d)
	}
}

// validate checks field constraints.
func (c Config) validate() error {
	return validation.Struct(c)
}

// writeSettings persists cfg as the settings file, creating its directory.
func writeSettings(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	// May hold the relay token.
	return os.WriteFile(path, data, 0o600)
}
