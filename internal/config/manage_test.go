package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSetKey_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")

	if err := setKey(newFileBackend(path), "feed.page_size", "25"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(newFileBackend(path), "agent.interval", "30m"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path), mockSecrets{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Feed.PageSize != 25 || cfg.Agent.Interval != 30*time.Minute {
		t.Errorf("after set: PageSize = %d, Interval = %v", cfg.Feed.PageSize, cfg.Agent.Interval)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.json"))

	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKey(b, "oracle.api_key", "sk"); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Errorf("setKey(secret) error = %v", err)
	}
	if err := setKey(b, "agent.interval", "soon"); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestSetSecret(t *testing.T) {
	fs := fileSecrets{path: filepath.Join(t.TempDir(), "secrets.json")}

	if err := setSecret(fs, "oracle.api_key", "sk-123"); err != nil {
		t.Fatalf("setSecret: %v", err)
	}
	got, err := fs.Get(appName, "oracle.api_key")
	if err != nil || got != "sk-123" {
		t.Errorf("Get = %q, %v", got, err)
	}

	if err := setSecret(fs, "oracle.model", "x"); err == nil {
		t.Error("expected error for non-secret key")
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Oracle.APIKey = "sk-very-secret"

	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-very-secret") {
			t.Errorf("ShowAll leaks secret in %s", ki.Key)
		}
		if ki.Key == "oracle.api_key" && ki.Value != "(set)" {
			t.Errorf("oracle.api_key shown as %q, want (set)", ki.Value)
		}
	}
}

func TestValidKeys_ExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		for _, s := range SecretKeys() {
			if k == s {
				t.Errorf("ValidKeys contains secret %s", k)
			}
		}
	}
	if len(SecretKeys()) != 2 {
		t.Errorf("SecretKeys() = %v, want feed.api_key and oracle.api_key", SecretKeys())
	}
}
