package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		addr     string
		password string
		db       int
	}{
		{"host only", "redis://localhost:6379", "localhost:6379", "", 0},
		{"with db", "redis://localhost:6379/2", "localhost:6379", "", 2},
		{"with password", "redis://:s3cret@cache:6380/1", "cache:6380", "s3cret", 1},
		{"user and password", "redis://app:pw@cache:6379", "cache:6379", "pw", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.parseRedisURL(tt.url)
			if cfg.Redis.Addr != tt.addr {
				t.Errorf("Addr = %q, expected %q", cfg.Redis.Addr, tt.addr)
			}
			if cfg.Redis.Password != tt.password {
				t.Errorf("Password = %q, expected %q", cfg.Redis.Password, tt.password)
			}
			if cfg.Redis.DB != tt.db {
				t.Errorf("DB = %d, expected %d", cfg.Redis.DB, tt.db)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, expected sqlite", cfg.Database.Driver)
	}
	if cfg.Automation.DraftTTLHours != 24 {
		t.Errorf("DraftTTLHours = %d, expected 24", cfg.Automation.DraftTTLHours)
	}
	if _, ok := cfg.Plans["business"]; !ok {
		t.Error("default plans should include business")
	}
}

func TestLoad_YAMLOverridesPlansAndAutomation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
automation:
  apply_concurrency: 8
plans:
  starter:
    auto_apply: true
    ai_daily_limit: 5
    automation_daily_limit: -1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Automation.ApplyConcurrency != 8 {
		t.Errorf("ApplyConcurrency = %d, expected 8", cfg.Automation.ApplyConcurrency)
	}
	if cfg.Automation.DefaultSampleSize != 25 {
		t.Errorf("DefaultSampleSize = %d, expected default 25", cfg.Automation.DefaultSampleSize)
	}
	starter, ok := cfg.Plans["starter"]
	if !ok {
		t.Fatal("starter plan should be loaded")
	}
	if !starter.AutoApply || starter.AIDailyLimit != 5 || starter.AutomationDailyLimit != Unlimited {
		t.Errorf("starter plan = %+v", starter)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("AUTOMATION_APPLY_CONCURRENCY", "2")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg := DefaultConfig()
	cfg.overrideFromEnv()

	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q, expected postgres", cfg.Database.Driver)
	}
	if cfg.Automation.ApplyConcurrency != 2 {
		t.Errorf("ApplyConcurrency = %d, expected 2", cfg.Automation.ApplyConcurrency)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, expected json", cfg.Log.Format)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, expected debug", cfg.Log.Level)
	}
}
