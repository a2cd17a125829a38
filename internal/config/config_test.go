package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFormats(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"intentd.json": `{"server":{"address":":9000"},"storage":{"lifecycle":{"driver":"sqlite","dsn":"state.db"}},"auction":{"default_strategy":"highest_apy"},"solvers":{"registry":"solvers.yaml"}}`,
		"intentd.yaml": "server:\n  address: \":9000\"\nstorage:\n  lifecycle:\n    driver: sqlite\n    dsn: state.db\nauction:\n  default_strategy: highest_apy\nsolvers:\n  registry: solvers.yaml\n",
		"intentd.toml": "[server]\naddress = \":9000\"\n[storage.lifecycle]\ndriver = \"sqlite\"\ndsn = \"state.db\"\n[auction]\ndefault_strategy = \"highest_apy\"\n[solvers]\nregistry = \"solvers.yaml\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, dir, name, content))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.Server.Address != ":9000" {
				t.Fatalf("address = %q", cfg.Server.Address)
			}
			if cfg.Storage.Lifecycle.DSN != filepath.Join(dir, "state.db") {
				t.Fatalf("dsn not resolved against config dir: %q", cfg.Storage.Lifecycle.DSN)
			}
			if cfg.Solvers.Registry != filepath.Join(dir, "solvers.yaml") {
				t.Fatalf("registry path = %q", cfg.Solvers.Registry)
			}
			if cfg.Auction.DefaultStrategy != "highest_apy" || cfg.Auction.AgentTimeoutMS != 3000 {
				t.Fatalf("unexpected auction config: %+v", cfg.Auction)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Address != ":8080" {
		t.Fatalf("default address = %q", cfg.Server.Address)
	}
	if cfg.Storage.Lifecycle.Driver != "memory" || cfg.Events.Driver != "memory" {
		t.Fatalf("unexpected drivers: %+v %+v", cfg.Storage.Lifecycle, cfg.Events)
	}
	if cfg.Auction.DefaultStrategy != "balanced" || cfg.Auction.AgentTimeout().Seconds() != 3 {
		t.Fatalf("unexpected auction defaults: %+v", cfg.Auction)
	}
	if cfg.Web3.Enabled() {
		t.Fatalf("web3 should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestRateLimitBurstDefault(t *testing.T) {
	cfg, err := Parse([]byte(`{"server":{"rate_limit":{"requests_per_second":5}}}`), ".json")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg.applyDefaults(".")
	if cfg.Server.RateLimit.Burst != 10 {
		t.Fatalf("burst = %d, want 10", cfg.Server.RateLimit.Burst)
	}
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad-store.json":    `{"storage":{"lifecycle":{"driver":"oracle"}}}`,
		"bad-events.json":   `{"events":{"driver":"kafka"}}`,
		"bad-strategy.json": `{"auction":{"default_strategy":"yolo"}}`,
		"bad-syntax.json":   `{"server":`,
		"bad-auth.json":     `{"auth":{"mode":"oauth"}}`,
		"bad-llm.json":      `{"llm":{"provider":"claude"}}`,
		"no-key.json":       `{"llm":{"provider":"openai","openai":{"api_key_env":"INTENTD_TEST_MISSING_KEY"}}}`,
	}
	for name, content := range cases {
		if _, err := Load(writeFile(t, dir, name, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(writeFile(t, dir, "intentd.ini", "x=1")); err == nil {
		t.Fatalf("expected unsupported format error")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLLMKeyFromEnv(t *testing.T) {
	t.Setenv("INTENTD_TEST_OPENAI_KEY", " sk-test ")
	path := writeFile(t, t.TempDir(), "llm.yaml", "llm:\n  provider: OpenAI\n  openai:\n    api_key_env: INTENTD_TEST_OPENAI_KEY\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.LLM.Enabled() || cfg.LLM.Provider != "openai" {
		t.Fatalf("unexpected provider %q", cfg.LLM.Provider)
	}
	if got := cfg.LLM.OpenAI.ResolveAPIKey(); got != "sk-test" {
		t.Fatalf("ResolveAPIKey = %q", got)
	}
	if cfg.LLM.OpenAI.Timeout() != 15*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.LLM.OpenAI.Timeout())
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/intentd.yaml")
	if got := PathFromEnv("configs/intentd.json"); got != "/etc/intentd.yaml" {
		t.Fatalf("PathFromEnv = %q", got)
	}
	t.Setenv(EnvConfigPath, "")
	if got := PathFromEnv("configs/intentd.json"); got != "configs/intentd.json" {
		t.Fatalf("PathFromEnv fallback = %q", got)
	}
}
