package kstock

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kstock.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("KSTOCK_API", "https://api.example.com")

	path := writeConfig(t, `
api_base_url: ${KSTOCK_API}
account_id: acc-1
log:
  level: debug
  development: true
market_channel:
  ping_interval: 15s
  backoff:
    policy: exponential
    initial: 2s
    max: 60s
agent_channel:
  backoff:
    policy: fixed
    initial: 5s
`)

	fc, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if fc.APIBaseURL != "https://api.example.com" {
		t.Errorf("env expansion failed: %q", fc.APIBaseURL)
	}
	if fc.AccountID != "acc-1" {
		t.Errorf("account id = %q", fc.AccountID)
	}
	if fc.Log.Level != "debug" || !fc.Log.Development {
		t.Errorf("log config = %+v", fc.Log)
	}
	if fc.MarketChannel.PingInterval.Std() != 15*time.Second {
		t.Errorf("ping interval = %v", fc.MarketChannel.PingInterval)
	}
	if fc.MarketChannel.Backoff.Initial.Std() != 2*time.Second {
		t.Errorf("backoff initial = %v", fc.MarketChannel.Backoff.Initial)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	path := writeConfig(t, "api_base_url: [not a string")
	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed yaml should fail")
	}
}

func TestFileConfigClientOptions(t *testing.T) {
	path := writeConfig(t, `
api_base_url: http://backend:8000
market_ws_url: ws://backend:8000/ws/realtime
market_channel:
  backoff:
    policy: fixed
    initial: 7s
agent_channel:
  ping_interval: 45s
`)
	fc, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	cfg := DefaultClientConfig()
	for _, opt := range fc.ClientOptions() {
		opt(&cfg)
	}

	if cfg.APIBaseURL != "http://backend:8000" {
		t.Errorf("api base = %q", cfg.APIBaseURL)
	}
	if cfg.MarketWSURL != "ws://backend:8000/ws/realtime" {
		t.Errorf("market ws = %q", cfg.MarketWSURL)
	}
	if cfg.MarketChannel.Backoff.Policy != BackoffFixed {
		t.Error("market backoff policy not applied")
	}
	if cfg.MarketChannel.Backoff.Initial != 7*time.Second {
		t.Errorf("market backoff initial = %v", cfg.MarketChannel.Backoff.Initial)
	}
	// unset fields keep their defaults
	if cfg.MarketChannel.Backoff.Max != 30*time.Second {
		t.Errorf("market backoff max = %v, want default 30s", cfg.MarketChannel.Backoff.Max)
	}
	if cfg.AgentChannel.PingInterval != 45*time.Second {
		t.Errorf("agent ping interval = %v", cfg.AgentChannel.PingInterval)
	}
	// agent backoff untouched: stays fixed 3s from defaults
	if cfg.AgentChannel.Backoff.Policy != BackoffFixed || cfg.AgentChannel.Backoff.Initial != 3*time.Second {
		t.Errorf("agent backoff = %+v", cfg.AgentChannel.Backoff)
	}
}
