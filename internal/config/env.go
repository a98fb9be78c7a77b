package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment variables in config
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Pki.TslURL = SubstituteEnvVars(cfg.Pki.TslURL)
	cfg.Pki.BnetzaURL = SubstituteEnvVars(cfg.Pki.BnetzaURL)
	cfg.Pki.PukTokenURL = SubstituteEnvVars(cfg.Pki.PukTokenURL)

	cfg.Vau.PrivateKeyPath = SubstituteEnvVars(cfg.Vau.PrivateKeyPath)
	cfg.Vau.CertificatePath = SubstituteEnvVars(cfg.Vau.CertificatePath)

	cfg.State.SnapshotPath = SubstituteEnvVars(cfg.State.SnapshotPath)

	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
	cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)

	cfg.Telemetry.ListenAddr = SubstituteEnvVars(cfg.Telemetry.ListenAddr)
}

// applyEnvironmentOverrides lets a small set of high-priority env vars win
// over whatever the YAML file declared - used for container deployments
// that inject secrets/paths without rewriting the config file.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("ERXFD_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("ERXFD_VAU_PRIVATE_KEY"); v != "" {
		cfg.Vau.PrivateKeyPath = v
	}
	if v := os.Getenv("ERXFD_STATE_SNAPSHOT"); v != "" {
		cfg.State.SnapshotPath = v
	}
	if v := os.Getenv("ERXFD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// GetEnvironment returns the current environment from ERXFD_ENV or defaults
// to development.
func GetEnvironment() string {
	env := os.Getenv("ERXFD_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
