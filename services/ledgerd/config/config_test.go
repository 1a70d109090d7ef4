package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
data_dir: /var/lib/ledgerd
tls:
  allow_insecure: true
auth:
  enabled: true
  hmac_secret: " 0123456789abcdef0123456789abcdef "
  scopes:
    write: [" ledger:write ", " "]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.JournalDSN != filepath.Join("/var/lib/ledgerd", "events.db") {
		t.Fatalf("expected journal in data dir, got %q", cfg.JournalDSN)
	}
	if cfg.LedgerConfig != DefaultLedgerConfig || cfg.RequestTimeout != DefaultRequestTimeout {
		t.Fatalf("expected defaults, got %q %s", cfg.LedgerConfig, cfg.RequestTimeout)
	}
	if got := cfg.Auth.Scopes["write"]; len(got) != 1 || got[0] != "ledger:write" {
		t.Fatalf("expected trimmed write scope, got %v", got)
	}
	if cfg.Log.Level != "info" || cfg.Log.MaxSizeMB != 100 {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoadConfigParsesDurationsAndLimits(t *testing.T) {
	path := writeConfig(t, `
request_timeout: 3s
tls:
  allow_insecure: true
rate_limits:
  write:
    rps: 2.5
    burst: 5
log:
  level: DEBUG
  file: /tmp/ledgerd.log
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.RequestTimeout)
	}
	if limit := cfg.RateLimits["write"]; limit.RatePerSecond != 2.5 || limit.Burst != 5 {
		t.Fatalf("unexpected limit %+v", limit)
	}
	if cfg.Log.Level != "debug" || cfg.Log.File != "/tmp/ledgerd.log" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadConfigRejections(t *testing.T) {
	cases := map[string]string{
		"short secret": `
tls:
  allow_insecure: true
auth:
  enabled: true
  hmac_secret: short
`,
		"unknown scope group": `
tls:
  allow_insecure: true
auth:
  enabled: true
  hmac_secret: 0123456789abcdef0123456789abcdef
  scopes:
    superuser: [all]
`,
		"missing tls key": `
tls:
  cert: server.crt
`,
		"tls required": `
listen: ":8480"
`,
		"client ca without cert": `
tls:
  allow_insecure: true
  client_ca: ca.pem
`,
		"bad rate limit": `
tls:
  allow_insecure: true
rate_limits:
  read:
    rps: 0
    burst: 1
`,
		"unknown key": `
tls:
  allow_insecure: true
listen_addr: ":1"
`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
