package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.Server.HTTPAddr)
	}
	if cfg.Store.Backend != BackendRedis {
		t.Errorf("Backend = %q, want redis", cfg.Store.Backend)
	}
	if cfg.Store.Prefix != "tapcount:" {
		t.Errorf("Prefix = %q, want tapcount:", cfg.Store.Prefix)
	}
	if cfg.Counter.Cooldown != 10*time.Second {
		t.Errorf("Cooldown = %v, want 10s", cfg.Counter.Cooldown)
	}
	if cfg.Counter.BlockConsecutive {
		t.Error("BlockConsecutive should default to false")
	}
	if cfg.Counter.LeaderboardSize != 10 {
		t.Errorf("LeaderboardSize = %d, want 10", cfg.Counter.LeaderboardSize)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TAPCOUNT_SERVER_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("TAPCOUNT_COUNTER_COOLDOWN", "30s")
	t.Setenv("TAPCOUNT_COUNTER_BLOCK_CONSECUTIVE", "true")
	t.Setenv("TAPCOUNT_RATE_LIMIT_RPS", "2.5")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Counter.Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want 30s", cfg.Counter.Cooldown)
	}
	if !cfg.Counter.BlockConsecutive {
		t.Error("BlockConsecutive = false, want true")
	}
	if cfg.RateLimit.RPS != 2.5 {
		t.Errorf("RPS = %v, want 2.5", cfg.RateLimit.RPS)
	}
	if cfg.Store.URL != "redis://cache:6379/1" {
		t.Errorf("Store.URL = %q, want REDIS_URL value", cfg.Store.URL)
	}
}

func TestLoad_PrefixedURLWinsOverRedisURL(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TAPCOUNT_STORE_URL", "redis://primary:6379")
	t.Setenv("REDIS_URL", "redis://fallback:6379")

	cfg, err := Load(New(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.URL != "redis://primary:6379" {
		t.Errorf("Store.URL = %q", cfg.Store.URL)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := `
server:
  http_addr: "0.0.0.0:7000"
store:
  backend: memory
counter:
  cooldown: 5s
  leaderboard_size: 25
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(New(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:7000" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Backend = %q", cfg.Store.Backend)
	}
	if cfg.Counter.Cooldown != 5*time.Second || cfg.Counter.LeaderboardSize != 25 {
		t.Errorf("Counter = %+v", cfg.Counter)
	}
	// Untouched keys keep their defaults.
	if cfg.Counter.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Counter.MaxRetries)
	}
}

func TestLoad_FoundInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, "tapcount.yaml"), []byte("counter:\n  leaderboard_size: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(New(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Counter.LeaderboardSize != 3 {
		t.Errorf("LeaderboardSize = %d, want 3", cfg.Counter.LeaderboardSize)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown backend", env: map[string]string{"TAPCOUNT_STORE_BACKEND": "etcd"}, wantErr: "store.backend"},
		{name: "cooldown too short", env: map[string]string{"TAPCOUNT_COUNTER_COOLDOWN": "500ms"}, wantErr: "counter.cooldown"},
		{name: "bad listen address", env: map[string]string{"TAPCOUNT_SERVER_HTTP_ADDR": "nope"}, wantErr: "server.httpaddr"},
		{name: "bad log level", env: map[string]string{"TAPCOUNT_SERVER_LOG_LEVEL": "loud"}, wantErr: "server.loglevel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(New(""))
			if err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(filepath.Join(t.TempDir(), "absent.yaml")))
	if err == nil {
		t.Fatal("expected error for an explicit config file that does not exist")
	}
}
