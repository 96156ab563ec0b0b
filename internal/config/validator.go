package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/energizer-project/rcond/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	rcon := cfg.GetRCON()
	app := cfg.GetApplicationData()

	validateRCON(&rcon, result)
	validateApplicationData(&app, result)

	if app.API.Enabled && app.API.Port == rcon.Port {
		result.AddError("application_data.api.port", "API port must differ from the RCON port")
	}

	return result
}

func validateRCON(data *RCONConfig, result *ValidationResult) {
	if data.ListenAddress != "" && net.ParseIP(data.ListenAddress) == nil {
		result.AddError("rcon.listen_address",
			fmt.Sprintf("not an IP address: %s", data.ListenAddress))
	}

	validatePort(data.Port, "rcon.port", result)

	if data.Password == "" && strings.TrimSpace(data.PasswordHash) == "" {
		result.AddError("rcon.password", "an RCON password or password_hash is required")
	}
	if data.PasswordHash != "" && !strings.HasPrefix(data.PasswordHash, "$argon2id$") {
		result.AddError("rcon.password_hash", "password_hash must be an argon2id PHC string")
	}
	if data.Password != "" && data.PasswordHash == "" && len(data.Password) < 8 {
		result.AddWarning("rcon.password", "password shorter than 8 characters")
	}

	if data.MaxPacketSize < protocol.MinPacketSize {
		result.AddError("rcon.max_packet_size",
			fmt.Sprintf("must be at least %d", protocol.MinPacketSize))
	}
	if data.IdleTimeoutSec < 0 {
		result.AddError("rcon.idle_timeout_sec", "must not be negative")
	}
	if data.WriteTimeoutSec < 0 {
		result.AddError("rcon.write_timeout_sec", "must not be negative")
	}
	if data.MaxConnections < 0 {
		result.AddError("rcon.max_connections", "must not be negative")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.TokenTTLMin < 1 {
			result.AddError("application_data.api.token_ttl_min", "token TTL must be at least 1 minute")
		}
		if data.Security.AuthDisabled {
			result.AddWarning("application_data.security.auth_disabled",
				"management API authentication is disabled")
		}
	}

	if data.Audit.Enabled {
		if strings.TrimSpace(data.Audit.DatabasePath) == "" {
			result.AddError("application_data.audit.database_path", "database path is required when audit is enabled")
		}
		if data.Audit.RetentionDays < 1 {
			result.AddError("application_data.audit.retention_days", "retention days must be at least 1")
		}
		if _, err := time.Parse("15:04", data.Audit.CleanupTime); err != nil {
			result.AddError("application_data.audit.cleanup_time", "cleanup time must be HH:MM")
		}
	}

	if data.Timers.StaleSessionCheckInterval < 1 {
		result.AddWarning("application_data.timers.stale_session_check_interval_sec",
			"stale session check disabled")
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Security.TLSEnabled {
		if (data.Security.TLSCertFile == "") != (data.Security.TLSKeyFile == "") {
			result.AddError("application_data.security.tls_cert_file",
				"tls_cert_file and tls_key_file must be set together")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
