package config

// loader.go - configuration loading from a YAML file and the environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables
//   3. YAML config file
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ecerr "goecho/internal/errors"
)

// ── YAML file ────────────────────────────────────────────────────────

// fileConfig mirrors the on-disk schema.  Pointers distinguish "unset"
// from zero so a file can still turn a boolean off.
type fileConfig struct {
	Port    int           `yaml:"port"`
	Bind    string        `yaml:"bind"`
	Quit    string        `yaml:"quit"`
	Timeout time.Duration `yaml:"timeout"`
	Connect string        `yaml:"connect"`
	Retries int           `yaml:"retries"`
	Verbose int           `yaml:"verbose"`
	LogJSON *bool         `yaml:"log_json"`
	Stats   *bool         `yaml:"stats"`
	Tunnel  string        `yaml:"tunnel"`
	SSH     struct {
		Key           string `yaml:"key"`
		Password      *bool  `yaml:"password"`
		Agent         *bool  `yaml:"agent"`
		StrictHostKey *bool  `yaml:"strict_hostkey"`
		KnownHosts    string `yaml:"known_hosts"`
	} `yaml:"ssh"`
}

// LoadFile overlays the YAML file at path onto cfg.  Unknown keys are
// rejected so typos surface instead of being silently ignored.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ecerr.ConfigError{Field: "config", Value: path, Message: err.Error()}
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return &ecerr.ConfigError{
			Field:   "config",
			Value:   path,
			Message: fmt.Sprintf("parse: %v", err),
			Hint:    "durations use Go syntax, e.g. timeout: 30s",
		}
	}

	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if fc.Bind != "" {
		cfg.BindHost = fc.Bind
	}
	if fc.Quit != "" {
		cfg.Quit = fc.Quit
	}
	if fc.Timeout != 0 {
		cfg.Timeout = fc.Timeout
	}
	if fc.Connect != "" {
		cfg.Connect = fc.Connect
	}
	if fc.Retries != 0 {
		cfg.Retries = fc.Retries
	}
	if fc.Verbose != 0 {
		cfg.Verbose = fc.Verbose
	}
	setBool(&cfg.LogJSON, fc.LogJSON)
	setBool(&cfg.Stats, fc.Stats)

	if fc.Tunnel != "" {
		cfg.TunnelSpec = fc.Tunnel
	}
	if fc.SSH.Key != "" {
		cfg.SSHKeyPath = fc.SSH.Key
	}
	setBool(&cfg.SSHPassword, fc.SSH.Password)
	setBool(&cfg.UseSSHAgent, fc.SSH.Agent)
	setBool(&cfg.StrictHostKey, fc.SSH.StrictHostKey)
	if fc.SSH.KnownHosts != "" {
		cfg.KnownHostsPath = fc.SSH.KnownHosts
	}
	return nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the GOECHO_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// ConfigPathFromEnv returns GOECHO_CONFIG, if set.
func ConfigPathFromEnv() string {
	return os.Getenv(EnvPrefix + "CONFIG")
}

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  Call it BEFORE defining CLI
// flags so that flag defaults pick up the env values.
func LoadFromEnv(cfg *Config) {
	if v := envInt("PORT"); v > 0 {
		cfg.Port = v
	}
	if v := env("BIND"); v != "" {
		cfg.BindHost = v
	}
	if v := env("CONNECT"); v != "" {
		cfg.Connect = v
	}
	if v := env("QUIT"); v != "" {
		cfg.Quit = v
	}
	if v := envInt("TIMEOUT"); v > 0 {
		cfg.Timeout = secondsDuration(v)
	}
	if v := envInt("RETRIES"); v > 0 {
		cfg.Retries = v
	}

	// SSH tunnel
	if v := env("TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := env("SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := env("KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if envBool("LOG_JSON") {
		cfg.LogJSON = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func envInt(key string) int {
	v := env(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(env(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
