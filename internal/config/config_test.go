package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxRetries != 3 || cfg.Queue.ProcessingTimeout != 5*time.Minute || cfg.Upload.MaxBytes != 10<<20 {
		t.Fatalf("defaults = %+v", cfg.Queue)
	}
	if cfg.OpenAI.Timeout >= cfg.Scoring.Timeout {
		t.Fatal("narrative timeout should be shorter than scoring timeout")
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	p := writeFile(t, `
server:
  port: 9090
  apiKeys:
    alice: key-a
database:
  driver: postgres
  host: db
  port: 5432
  user: u
  password: p@ss
  name: realcheck
queue:
  maxRetries: 5
  processingTimeout: 2m
  workers: 8
scoring:
  url: http://ml:8001
`)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("SCORING_URL", "http://scoring:9000")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.APIKeys["alice"] != "key-a" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Queue.MaxRetries != 5 || cfg.Queue.ProcessingTimeout != 2*time.Minute || cfg.Queue.Workers != 8 {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if cfg.Queue.ReclaimInterval != 30*time.Second {
		t.Fatal("unset keys should keep defaults")
	}
	if cfg.OpenAI.APIKey != "sk-env" || cfg.Scoring.URL != "http://scoring:9000" {
		t.Fatal("env overrides not applied")
	}
	if got := cfg.PostgresDSN(); got != "postgres://u:p%40ss@db:5432/realcheck?sslmode=disable" {
		t.Fatalf("PostgresDSN = %s", got)
	}
	if got := cfg.MySQLDSN(); !strings.HasPrefix(got, "u:p@ss@tcp(db:5432)/realcheck?parseTime=true") {
		t.Fatalf("MySQLDSN = %s", got)
	}

	t.Setenv("DATABASE_DSN", "postgres://override")
	cfg, _ = Load(p)
	if cfg.PostgresDSN() != "postgres://override" {
		t.Fatal("DATABASE_DSN should win")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Database.Driver = "sqlite" }, "database.driver"},
		{"retries", func(c *Config) { c.Queue.MaxRetries = 0 }, "maxRetries"},
		{"timeout", func(c *Config) { c.Queue.ProcessingTimeout = 0 }, "timeouts"},
		{"staging", func(c *Config) { c.Staging.Driver = "s3" }, "staging.driver"},
		{"scoring url", func(c *Config) { c.Scoring.URL = "::" }, "scoring.url"},
		{"narrative slower than scoring", func(c *Config) { c.OpenAI.Timeout = time.Minute }, "openai.timeout"},
		{"lease shorter than a run", func(c *Config) { c.Queue.ProcessingTimeout = 40 * time.Second }, "processingTimeout"},
		{"requestor id", func(c *Config) { c.Server.APIKeys = map[string]string{"bad id!": "k"} }, "server.apiKeys"},
		{"empty key", func(c *Config) { c.Server.APIKeys = map[string]string{"alice": " "} }, "key is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(writeFile(t, "server: [")); err == nil {
		t.Fatal("expected parse error")
	}
}
