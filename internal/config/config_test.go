package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rcon := cfg.GetRCON()
	if rcon.Addr() != "0.0.0.0:27015" {
		t.Errorf("Addr = %s, want 0.0.0.0:27015", rcon.Addr())
	}
	if rcon.MaxPacketSize != 4096 {
		t.Errorf("MaxPacketSize = %d, want 4096", rcon.MaxPacketSize)
	}
	if cfg.GetApplicationData().API.JWTSecret == "" {
		t.Error("jwt secret not generated")
	}
	if !cfg.IsFirstRun() {
		t.Error("IsFirstRun = false for fresh config")
	}

	info, err := os.Stat(filepath.Join(dir, DefaultConfigFile))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("config file mode = %v, want owner-only", perm)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	data := `{"rcon": {"port": 25575, "password": "hunter22"}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rcon := cfg.GetRCON()
	if rcon.Port != 25575 || rcon.Password != "hunter22" {
		t.Errorf("rcon = %+v", rcon)
	}
	if rcon.ListenAddress != DefaultListenAddress {
		t.Errorf("ListenAddress = %q, want default", rcon.ListenAddress)
	}
	if cfg.IsFirstRun() {
		t.Error("IsFirstRun = true with password set")
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.GetApplicationData().API.JWTSecret != cfg.GetApplicationData().API.JWTSecret {
		t.Error("jwt secret changed across loads")
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0600)

	if _, err := Load(dir); err == nil {
		t.Error("Load accepted malformed JSON")
	}
}

func TestUpdateFields(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.UpdateRCONField("max_connections", 5); err != nil {
		t.Fatalf("UpdateRCONField failed: %v", err)
	}
	if cfg.GetRCON().MaxConnections != 5 {
		t.Errorf("MaxConnections = %d, want 5", cfg.GetRCON().MaxConnections)
	}
	if err := cfg.UpdateRCONField("no_such_key", 1); err == nil {
		t.Error("unknown key accepted")
	}
	if err := cfg.UpdateRCONField("port", "not a number"); err == nil {
		t.Error("wrong type accepted")
	}
	if err := cfg.UpdateAppField("timers", map[string]interface{}{"stats_interval_sec": 10}); err != nil {
		t.Fatalf("UpdateAppField failed: %v", err)
	}
	if cfg.GetApplicationData().Timers.StatsInterval != 10 {
		t.Errorf("StatsInterval = %d, want 10", cfg.GetApplicationData().Timers.StatsInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		field   string
		wantErr bool
	}{
		{"valid", func(c *Config) {}, "", false},
		{"missing secret", func(c *Config) { c.RCON.Password = "" }, "rcon.password", true},
		{"bad hash", func(c *Config) { c.RCON.PasswordHash = "plain" }, "rcon.password_hash", true},
		{"bad port", func(c *Config) { c.RCON.Port = 70000 }, "rcon.port", true},
		{"bad address", func(c *Config) { c.RCON.ListenAddress = "localhost" }, "rcon.listen_address", true},
		{"tiny packets", func(c *Config) { c.RCON.MaxPacketSize = 4 }, "rcon.max_packet_size", true},
		{"port clash", func(c *Config) { c.ApplicationData.API.Port = c.RCON.Port }, "application_data.api.port", true},
		{"cleanup time", func(c *Config) { c.ApplicationData.Audit.CleanupTime = "4am" }, "application_data.audit.cleanup_time", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.RCON.Password = "long-enough-password"
			tt.mutate(cfg)

			result := Validate(cfg)
			if result.IsValid() == tt.wantErr {
				t.Fatalf("IsValid = %v, errors = %v", result.IsValid(), result.Errors)
			}
			if !tt.wantErr {
				return
			}
			found := false
			for _, e := range result.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tt.field, result.Errors)
			}
		})
	}
}

func TestSetupWizard(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	answers := strings.Join([]string{
		"127.0.0.1", // listen address
		"25575",     // port
		"s3cret-password",
		"",   // max connections
		"30", // idle timeout
		"no", // api
		"",   // mqtt
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(answers), &out); err != nil {
		t.Fatalf("RunSetupWizard failed: %v\n%s", err, out.String())
	}

	rcon := cfg.GetRCON()
	if rcon.Addr() != "127.0.0.1:25575" || rcon.Password != "s3cret-password" || rcon.IdleTimeoutSec != 30 {
		t.Errorf("rcon = %+v", rcon)
	}
	if cfg.GetApplicationData().API.Enabled {
		t.Error("API still enabled")
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.GetRCON().Port != 25575 {
		t.Error("wizard answers not saved")
	}
}

func TestSetupWizardGivesUpAtEOF(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(""), &out); err == nil {
		t.Error("wizard succeeded without a password")
	}
}
