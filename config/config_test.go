package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Data.Dir != "data" || cfg.Ledger.HistoryLimit != 10 {
		t.Fatalf("defaults %+v", cfg)
	}
	if cfg.Security.DefaultAdminPassword != "root123" || cfg.Security.BcryptCost != 10 {
		t.Fatalf("security defaults %+v", cfg.Security)
	}
}

func TestFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "server:\n  addr: \":9090\"\ndata:\n  dir: /srv/bank\nlog:\n  format: console\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BANK_LEDGER_HISTORY_LIMIT", "25")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Data.Dir != "/srv/bank" || cfg.Log.Format != "console" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Ledger.HistoryLimit != 25 {
		t.Fatalf("env override not applied: %d", cfg.Ledger.HistoryLimit)
	}
}

func TestRejectsBadValues(t *testing.T) {
	v := New()
	v.Set("log.format", "xml")
	if _, err := Load(v, ""); err == nil {
		t.Fatalf("bad log format accepted")
	}
	v = New()
	v.Set("security.bcrypt_cost", 2)
	if _, err := Load(v, ""); err == nil {
		t.Fatalf("bad bcrypt cost accepted")
	}
}
