// Package config provides configuration management for the e-Rx FD server.
package config

import "time"

// Config is the root configuration structure, loaded from a YAML file and
// layered with environment-variable overrides (see env.go).
type Config struct {
	Version     string            `yaml:"version" json:"version"`
	Environment string            `yaml:"environment" json:"environment"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Pki         PkiConfig         `yaml:"pki" json:"pki"`
	Vau         VauConfig         `yaml:"vau" json:"vau"`
	State       StateConfig       `yaml:"state" json:"state"`
	Limits      LimitsConfig      `yaml:"limits" json:"limits"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry"`
}

// ServerConfig holds the VAU-facing HTTP listener settings.
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr" json:"listen_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// PkiConfig configures the trust-material refresh loops.
type PkiConfig struct {
	TslURL             string        `yaml:"tsl_url" json:"tsl_url"`
	BnetzaURL          string        `yaml:"bnetza_url" json:"bnetza_url"`
	PukTokenURL        string        `yaml:"puk_token_url" json:"puk_token_url"`
	RefreshInterval    time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	RefreshBackoffCap  time.Duration `yaml:"refresh_backoff_cap" json:"refresh_backoff_cap"`
	OcspStaleAfter     time.Duration `yaml:"ocsp_stale_after" json:"ocsp_stale_after"`
	OcspRefreshJitter  time.Duration `yaml:"ocsp_refresh_jitter" json:"ocsp_refresh_jitter"`
}

// VauConfig configures the confidential-channel server identity.
type VauConfig struct {
	PrivateKeyPath   string        `yaml:"private_key_path" json:"private_key_path"`
	CertificatePath  string        `yaml:"certificate_path" json:"certificate_path"`
	PseudonymKeyTTL  time.Duration `yaml:"pseudonym_key_ttl" json:"pseudonym_key_ttl"`
}

// StateConfig configures the in-memory state store's snapshot persistence.
type StateConfig struct {
	SnapshotPath     string        `yaml:"snapshot_path" json:"snapshot_path"`
	AutosaveInterval time.Duration `yaml:"autosave_interval" json:"autosave_interval"`
}

// LimitsConfig configures the Communication engine's quota and size bounds.
type LimitsConfig struct {
	MaxCommunicationContent int `yaml:"max_communication_content" json:"max_communication_content"`
	MaxCommunicationsPerDay int `yaml:"max_communications_per_day" json:"max_communications_per_day"`
	MaxActivateRetries      int `yaml:"max_activate_retries" json:"max_activate_retries"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// TelemetryConfig configures the internal metrics listener.
type TelemetryConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// setDefaults fills in zero-valued fields with the server's defaults.
func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Pki.RefreshInterval == 0 {
		cfg.Pki.RefreshInterval = 12 * time.Hour
	}
	if cfg.Pki.RefreshBackoffCap == 0 {
		cfg.Pki.RefreshBackoffCap = 15 * time.Minute
	}
	if cfg.Pki.OcspStaleAfter == 0 {
		cfg.Pki.OcspStaleAfter = 24 * time.Hour
	}
	if cfg.Vau.PseudonymKeyTTL == 0 {
		cfg.Vau.PseudonymKeyTTL = 10 * 24 * time.Hour
	}
	if cfg.State.SnapshotPath == "" {
		cfg.State.SnapshotPath = "erxfd-state.json"
	}
	if cfg.State.AutosaveInterval == 0 {
		cfg.State.AutosaveInterval = time.Minute
	}
	if cfg.Limits.MaxCommunicationContent == 0 {
		cfg.Limits.MaxCommunicationContent = 10 * 1024
	}
	if cfg.Limits.MaxCommunicationsPerDay == 0 {
		cfg.Limits.MaxCommunicationsPerDay = 10
	}
	if cfg.Limits.MaxActivateRetries == 0 {
		cfg.Limits.MaxActivateRetries = 16
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Telemetry.ListenAddr == "" {
		cfg.Telemetry.ListenAddr = "127.0.0.1:9090"
	}
}

// Validate returns a non-empty slice of problems with the configuration.
// It never fails loading on its own; callers decide whether to treat
// validation issues as fatal.
func Validate(cfg *Config) []string {
	var issues []string
	if cfg.Pki.TslURL == "" {
		issues = append(issues, "pki.tsl_url is required")
	}
	if cfg.Pki.BnetzaURL == "" {
		issues = append(issues, "pki.bnetza_url is required")
	}
	if cfg.Pki.PukTokenURL == "" {
		issues = append(issues, "pki.puk_token_url is required")
	}
	if cfg.Vau.PrivateKeyPath == "" {
		issues = append(issues, "vau.private_key_path is required")
	}
	if cfg.Limits.MaxCommunicationContent <= 0 {
		issues = append(issues, "limits.max_communication_content must be positive")
	}
	return issues
}
