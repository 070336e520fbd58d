package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Server.BasePath != "/v1" {
		t.Fatalf("base path = %s", cfg.Server.BasePath)
	}
	if cfg.Auth.TokenTTLMin != 720 {
		t.Fatalf("ttl = %d", cfg.Auth.TokenTTLMin)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
auth:
  jwt_secret: s3cret
  token_ttl_minutes: 30
scheduler:
  secret: sched
  interval: 15s
server:
  addr: 0.0.0.0:9090
webhooks:
  - url: https://example.com/hook
    events: [ballot.cast]
`)
	cfg, err := FromYAML(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" || cfg.Auth.TokenTTLMin != 30 {
		t.Fatalf("auth = %+v", cfg.Auth)
	}
	if cfg.Scheduler.Interval != 15*time.Second {
		t.Fatalf("interval = %s", cfg.Scheduler.Interval)
	}
	if cfg.Server.Addr != "0.0.0.0:9090" {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
	// Unset fields keep their defaults.
	if cfg.Server.BasePath != "/v1" {
		t.Fatalf("base path = %s", cfg.Server.BasePath)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL != "https://example.com/hook" {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"negative ttl", "auth:\n  token_ttl_minutes: -1\n"},
		{"webhook without url", "webhooks:\n  - events: [ballot.cast]\n"},
		{"bad yaml", "auth: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromYAML([]byte(tc.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != Default().Server.Addr {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	content := "scheduler:\n  secret: from-file\n"
	if err := os.WriteFile(filepath.Join(dir, "evs.yml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Secret != "from-file" {
		t.Fatalf("secret = %s", cfg.Scheduler.Secret)
	}
}
