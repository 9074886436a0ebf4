package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if got := cfg.Timing().HostGrace; got != 10*time.Second {
		t.Fatalf("expected 10s host grace, got %s", got)
	}
	if rule := cfg.Scoring(); rule.Base != 100 || rule.PerSecondBonus != 10 {
		t.Fatalf("unexpected scoring %+v", rule)
	}
	if cfg.CodeLength() != 6 {
		t.Fatalf("expected 6 character codes, got %d", cfg.CodeLength())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: "9090"
match:
  code_length: 8
  host_grace: 3s
  settle_delay: nonsense
scoring:
  base: 50
  per_second_bonus: 5
logging:
  level: debug
  color: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.OutboundBuffer != 64 {
		t.Fatalf("unexpected server section %+v", cfg.Server)
	}
	timing := cfg.Timing()
	if timing.HostGrace != 3*time.Second {
		t.Fatalf("expected 3s grace, got %s", timing.HostGrace)
	}
	if cfg.CodeLength() != 8 {
		t.Fatalf("expected 8 character codes, got %d", cfg.CodeLength())
	}
	if timing.SettleDelay != 5*time.Second {
		t.Fatalf("invalid duration should fall back, got %s", timing.SettleDelay)
	}
	if rule := cfg.Scoring(); rule.Base != 50 || rule.PerSecondBonus != 5 {
		t.Fatalf("unexpected scoring %+v", rule)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Color {
		t.Fatalf("unexpected logging %+v", cfg.Logging)
	}
}

func TestCodeLengthOutOfRangeFallsBack(t *testing.T) {
	for _, n := range []int{0, 2, 40} {
		cfg := Default()
		cfg.Match.CodeLength = n
		if got := cfg.CodeLength(); got != 6 {
			t.Fatalf("code_length %d: expected fallback 6, got %d", n, got)
		}
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
