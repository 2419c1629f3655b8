package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fraudguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := domain.DefaultConfig()
	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Server != want.Server {
		t.Errorf("expected server %+v, got %+v", want.Server, cfg.Server)
	}
	if cfg.Engine != want.Engine {
		t.Errorf("expected engine %+v, got %+v", want.Engine, cfg.Engine)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.Cache.Type != "memory" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected community backends: %s/%s/%s",
			cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if cfg.Tracing.Enabled {
		t.Error("tracing should be off by default")
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("FRAUDGUARD_TIER", "pro")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tier != domain.TierPro {
		t.Errorf("expected pro tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Repository.Driver)
	}
	if cfg.Cache.Type != "redis" || !cfg.Cache.EnableTwoPhase {
		t.Errorf("expected two-phase redis cache, got %+v", cfg.Cache)
	}
	if cfg.EventBus.Type != "nats" {
		t.Errorf("expected nats, got %s", cfg.EventBus.Type)
	}
	if cfg.Repository.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("expected 5m conn lifetime, got %v", cfg.Repository.ConnMaxLifetime)
	}
}

func TestLoadUnknownTier(t *testing.T) {
	t.Setenv("FRAUDGUARD_TIER", "enterprise")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("FRAUDGUARD_SERVER_PORT", "9090")
	t.Setenv("FRAUDGUARD_ENGINE_BACKEND", "CEL")
	t.Setenv("FRAUDGUARD_ENGINE_VALIDATION_CACHE_TTL", "30s")
	t.Setenv("FRAUDGUARD_ENGINE_PERSIST_DECLINED", "false")
	t.Setenv("FRAUDGUARD_REPOSITORY_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("FRAUDGUARD_EVENT_BUS_CONSUME_TRANSACTIONS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Engine.Backend != domain.BackendCEL {
		t.Errorf("expected cel backend, got %s", cfg.Engine.Backend)
	}
	if cfg.Engine.ValidationCacheTTL != 30*time.Second {
		t.Errorf("expected 30s, got %v", cfg.Engine.ValidationCacheTTL)
	}
	if cfg.Engine.PersistDeclined {
		t.Error("expected persist_declined to be overridden")
	}
	if cfg.Repository.PostgresPassword != "s3cret" {
		t.Errorf("expected password from environment, got %q", cfg.Repository.PostgresPassword)
	}
	if !cfg.EventBus.ConsumeTransactions {
		t.Error("expected consume_transactions to be set")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 7070
engine:
  max_workers: 4
  reload_schedule: "*/5 * * * *"
logging:
  level: debug
  format: text
`)

	t.Run("file values apply", func(t *testing.T) {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("expected port 7070, got %d", cfg.Server.Port)
		}
		if cfg.Engine.MaxWorkers != 4 {
			t.Errorf("expected 4 workers, got %d", cfg.Engine.MaxWorkers)
		}
		if cfg.Engine.ReloadSchedule != "*/5 * * * *" {
			t.Errorf("unexpected schedule %q", cfg.Engine.ReloadSchedule)
		}
		if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
			t.Errorf("unexpected logging %+v", cfg.Logging)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("expected default host to survive, got %s", cfg.Server.Host)
		}
	})

	t.Run("environment beats file", func(t *testing.T) {
		t.Setenv("FRAUDGUARD_SERVER_PORT", "6060")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 6060 {
			t.Errorf("expected port 6060, got %d", cfg.Server.Port)
		}
	})
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadRejectsSecretsInFile(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  string
	}{
		{"postgres password", "repository:\n  postgres_password: hunter2\n", "FRAUDGUARD_REPOSITORY_POSTGRES_PASSWORD"},
		{"redis password", "cache:\n  redis_password: hunter2\n", "FRAUDGUARD_CACHE_REDIS_PASSWORD"},
		{"nats token", "event_bus:\n  nats_token: hunter2\n", "FRAUDGUARD_EVENT_BUS_NATS_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected secret in config file to be rejected")
			}
			if !strings.Contains(err.Error(), tt.env) {
				t.Errorf("expected error to name %s, got %v", tt.env, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"port zero", func(c *domain.Config) { c.Server.Port = 0 }},
		{"port too high", func(c *domain.Config) { c.Server.Port = 70000 }},
		{"zero timeout", func(c *domain.Config) { c.Server.ReadTimeout = 0 }},
		{"unknown backend", func(c *domain.Config) { c.Engine.Backend = "lua" }},
		{"no workers", func(c *domain.Config) { c.Engine.MaxWorkers = 0 }},
		{"bad schedule", func(c *domain.Config) { c.Engine.ReloadSchedule = "every minute" }},
		{"negative cache ttl", func(c *domain.Config) { c.Engine.ValidationCacheTTL = -time.Second }},
		{"unknown driver", func(c *domain.Config) { c.Repository.Driver = "mysql" }},
		{"sqlite without path", func(c *domain.Config) { c.Repository.SQLitePath = "" }},
		{"postgres without host", func(c *domain.Config) {
			c.Repository.Driver = "postgres"
			c.Repository.PostgresDB = "fraudguard"
		}},
		{"unknown cache", func(c *domain.Config) { c.Cache.Type = "memcached" }},
		{"redis without addr", func(c *domain.Config) { c.Cache.Type = "redis" }},
		{"unknown bus", func(c *domain.Config) { c.EventBus.Type = "kafka" }},
		{"nats without url", func(c *domain.Config) { c.EventBus.Type = "nats" }},
		{"unknown level", func(c *domain.Config) { c.Logging.Level = "trace" }},
		{"unknown format", func(c *domain.Config) { c.Logging.Format = "xml" }},
		{"sample ratio above one", func(c *domain.Config) { c.Tracing.SampleRatio = 1.5 }},
		{"tracing without endpoint", func(c *domain.Config) {
			c.Tracing.Enabled = true
			c.Tracing.Endpoint = ""
		}},
	}

	if err := Validate(domain.DefaultConfig()); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("empty schedule disables reload", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.Engine.ReloadSchedule = ""
		if err := Validate(cfg); err != nil {
			t.Errorf("expected empty schedule to be valid, got %v", err)
		}
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(domain.LoggingConfig{Level: "info", Format: "json"}, &buf)
		logger.Debug("hidden")
		logger.Info("rule loaded", "rule_id", "r-1")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
			t.Fatalf("expected JSON output: %v", err)
		}
		if entry["msg"] != "rule loaded" || entry["rule_id"] != "r-1" {
			t.Errorf("unexpected entry %v", entry)
		}
	})

	t.Run("text at debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(domain.LoggingConfig{Level: "debug", Format: "text"}, &buf)
		logger.Debug("reloading")
		if !strings.Contains(buf.String(), "level=DEBUG") {
			t.Errorf("expected text debug line, got %q", buf.String())
		}
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(domain.LoggingConfig{Level: "loud"}, &buf)
		logger.Debug("hidden")
		logger.Warn("shown")
		if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
			t.Errorf("unexpected output %q", buf.String())
		}
	})
}
