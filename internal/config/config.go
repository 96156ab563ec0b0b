// Package config handles configuration loading, validation, and persistence
// for the rcond daemon.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir     = "config"
	DefaultConfigFile    = "config.json"
	DefaultListenAddress = "0.0.0.0"
	DefaultRCONPort      = 27015
	DefaultAPIPort       = 27016
	DefaultMaxPacketSize = 4096
)

// Config is the root configuration structure for rcond.
type Config struct {
	mu   sync.RWMutex
	path string

	RCON            RCONConfig      `json:"rcon"`
	ApplicationData ApplicationData `json:"application_data"`
}

// RCONConfig contains the RCON listener and session settings.
type RCONConfig struct {
	ListenAddress string `json:"listen_address"`
	Port          int    `json:"port"`

	// Password is the plain shared secret. PasswordHash, an argon2id PHC
	// string, takes precedence when set.
	Password     string `json:"password"`
	PasswordHash string `json:"password_hash"`

	MaxPacketSize   int `json:"max_packet_size"`
	IdleTimeoutSec  int `json:"idle_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec"`
	MaxConnections  int `json:"max_connections"`
}

// Addr returns the host:port the RCON listener binds.
func (r RCONConfig) Addr() string {
	return net.JoinHostPort(r.ListenAddress, strconv.Itoa(r.Port))
}

// IdleTimeout returns the session idle timeout, zero when disabled.
func (r RCONConfig) IdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeoutSec) * time.Second
}

// WriteTimeout returns the per-response write timeout.
func (r RCONConfig) WriteTimeout() time.Duration {
	return time.Duration(r.WriteTimeoutSec) * time.Second
}

// ApplicationData contains daemon settings outside the RCON protocol.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	Audit    AuditConfig    `json:"audit"`
	Timers   TimerConfig    `json:"timers"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// APIConfig holds management API settings.
type APIConfig struct {
	Enabled     bool   `json:"enabled"`
	Port        int    `json:"port"`
	JWTSecret   string `json:"jwt_secret"`
	TokenTTLMin int    `json:"token_ttl_min"`
}

// AuditConfig holds audit database settings.
type AuditConfig struct {
	Enabled       bool   `json:"enabled"`
	DatabasePath  string `json:"database_path"`
	RetentionDays int    `json:"retention_days"`
	CleanupTime   string `json:"cleanup_time"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	StaleSessionCheckInterval int `json:"stale_session_check_interval_sec"`
	StatsInterval             int `json:"stats_interval_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	AuthDisabled   bool     `json:"auth_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RCON: RCONConfig{
			ListenAddress:   DefaultListenAddress,
			Port:            DefaultRCONPort,
			MaxPacketSize:   DefaultMaxPacketSize,
			WriteTimeoutSec: 10,
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled:     true,
				Port:        DefaultAPIPort,
				TokenTTLMin: 60,
			},
			Audit: AuditConfig{
				Enabled:       true,
				DatabasePath:  filepath.Join(DefaultConfigDir, "audit.db"),
				RetentionDays: 30,
				CleanupTime:   "04:00",
			},
			Timers: TimerConfig{
				StaleSessionCheckInterval: 60,
				StatsInterval:             300,
			},
			MQTT: MQTTConfig{
				Enabled:  false,
				Port:     8883,
				UseTLS:   true,
				ClientID: "rcond",
			},
			Security: SecurityConfig{
				RateLimitRPS: 20,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 7,
			},
		},
	}
}

// Load reads configuration from a JSON file. A missing file is created
// with defaults. An empty JWT secret is generated and persisted.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if err := cfg.ensureJWTSecret(); err != nil {
				return nil, err
			}
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	if err := cfg.ensureJWTSecret(); err != nil {
		return nil, err
	}
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always lists every option.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

func (c *Config) ensureJWTSecret() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ApplicationData.API.JWTSecret != "" {
		return nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	c.ApplicationData.API.JWTSecret = hex.EncodeToString(buf)
	return nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file holds the RCON password and JWT secret.
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRCON returns a copy of the RCON configuration.
func (c *Config) GetRCON() RCONConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RCON
}

// SetRCON updates the RCON configuration.
func (c *Config) SetRCON(data RCONConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RCON = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateRCONField updates a specific field in the rcon section by its JSON key.
func (c *Config) UpdateRCONField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateField(&c.RCON, key, value)
}

// UpdateAppField updates a specific field in application data by its JSON key.
func (c *Config) UpdateAppField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateField(&c.ApplicationData, key, value)
}

// updateField round-trips section through a JSON map to set one key.
func updateField(section interface{}, key string, value interface{}) error {
	data, err := json.Marshal(section)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown config key %q", key)
	}

	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, section); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if no RCON secret has been configured yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RCON.Password == "" && c.RCON.PasswordHash == ""
}
