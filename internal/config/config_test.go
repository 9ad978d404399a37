package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Sales.Roles) != 3 {
		t.Fatalf("expected 3 sales roles, got %v", cfg.Sales.Roles)
	}
	if !cfg.Excluded("__system__") || !cfg.Excluded("automation_bot") {
		t.Fatalf("expected reserved identities excluded: %v", cfg.Notifications.ExcludedIdentities)
	}
	if cfg.Excluded("alice") {
		t.Fatalf("alice must not be excluded")
	}
}

func TestValidateRejectsUnknownSalesRole(t *testing.T) {
	_, err := FromYAML([]byte(`
sales:
  roles: [sale_manager, ghost]
rbac:
  roles:
    sale_manager: {}
`))
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected unknown role error, got %v", err)
	}
}

func TestValidateRequiresSalesRoles(t *testing.T) {
	if _, err := FromYAML([]byte("log:\n  level: info\n")); err == nil {
		t.Fatalf("expected missing sales roles error")
	}
}

func TestValidateLogLevel(t *testing.T) {
	_, err := FromYAML([]byte("sales:\n  roles: [a]\nlog:\n  level: loud\n"))
	if err == nil {
		t.Fatalf("expected bad log level error")
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Lock.TTLSeconds != 30 {
		t.Fatalf("expected default ttl, got %d", cfg.Lock.TTLSeconds)
	}
	if err := os.WriteFile(filepath.Join(dir, "repairflow.yml"), []byte("sales:\n  roles: [boss]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sales.Roles[0] != "boss" {
		t.Fatalf("expected file roles, got %v", cfg.Sales.Roles)
	}
}
