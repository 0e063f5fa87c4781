package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Session.TTL != 360*time.Second {
		t.Errorf("session ttl = %v, want 6m0s", cfg.Session.TTL)
	}
	if cfg.WebAuthn.CeremonyTTL != 5*time.Minute {
		t.Errorf("ceremony ttl = %v, want 5m0s", cfg.WebAuthn.CeremonyTTL)
	}
	if len(cfg.WebAuthn.RPOrigins) != 1 || cfg.WebAuthn.RPOrigins[0] != "http://localhost:3000" {
		t.Errorf("rp origins = %v", cfg.WebAuthn.RPOrigins)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without SESSION_SECRET")
	}
}

func TestLoadRejectsUnknownSessionStore(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("SESSION_STORE", "etcd")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown session store")
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "1", DBName: "d", SSLMode: "disable"}
	if got, want := c.DSN(), "postgres://u:p@h:1/d?sslmode=disable"; got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
	c.URL = "postgres://override"
	if got := c.DSN(); got != "postgres://override" {
		t.Errorf("DSN with URL = %q", got)
	}
}
