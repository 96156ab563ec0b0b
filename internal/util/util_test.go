package util

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		name := LogFileName(base.AddDate(0, 0, i))
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(dir, "other.log"), nil, 0644)

	if n := CleanOldLogs(dir, 2); n != 3 {
		t.Errorf("removed %d files, want 3", n)
	}

	for i, want := range []bool{false, false, false, true, true} {
		path := filepath.Join(dir, LogFileName(base.AddDate(0, 0, i)))
		if FileExists(path) != want {
			t.Errorf("%s exists = %v, want %v", path, !want, want)
		}
	}
	if !FileExists(filepath.Join(dir, "other.log")) {
		t.Error("unrelated file removed")
	}
}

func TestInitLogger(t *testing.T) {
	dir := t.TempDir()
	if err := InitLogger(LogConfig{Level: "debug", Directory: dir, MaxBackups: 3}); err != nil {
		t.Fatalf("InitLogger failed: %v", err)
	}
	if !FileExists(filepath.Join(dir, LogFileName(time.Now()))) {
		t.Error("log file not created")
	}
}

func TestEnsureCertGeneratesLoadablePair(t *testing.T) {
	dir := t.TempDir()

	certFile, keyFile, err := EnsureCert("", "", dir)
	if err != nil {
		t.Fatalf("EnsureCert failed: %v", err)
	}
	if _, err := tls.LoadX509KeyPair(certFile, keyFile); err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}

	info, err := os.Stat(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0077 != 0 {
		t.Errorf("key file mode = %v", info.Mode().Perm())
	}

	again, _, err := EnsureCert(certFile, keyFile, dir)
	if err != nil || again != certFile {
		t.Errorf("second EnsureCert = %s, %v", again, err)
	}
}

func TestGetProcessStats(t *testing.T) {
	stats := GetProcessStats()
	if stats.PID != int32(os.Getpid()) {
		t.Errorf("PID = %d, want %d", stats.PID, os.Getpid())
	}
	if stats.Goroutines < 1 {
		t.Errorf("Goroutines = %d", stats.Goroutines)
	}
}
