package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://localhost/test
jwt:
  secret: s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("api port = %d, want 8080", cfg.API.Port)
	}
	if cfg.JWT.AccessTokenTTL != 15*time.Minute {
		t.Errorf("access ttl = %v", cfg.JWT.AccessTokenTTL)
	}
	if cfg.Authz.Mode != "enforce" {
		t.Errorf("authz mode = %s, want enforce", cfg.Authz.Mode)
	}
	if cfg.Governance.DefaultTimeout != 5*time.Second {
		t.Errorf("default timeout = %v", cfg.Governance.DefaultTimeout)
	}
	if cfg.Audit.BufferSize != 1024 {
		t.Errorf("audit buffer = %d", cfg.Audit.BufferSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override/db")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("AUTHZ_MODE", "shadow")

	path := writeConfig(t, `
database:
  dsn: postgres://localhost/test
jwt:
  secret: file-secret
authz:
  mode: enforce
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "postgres://override/db" {
		t.Errorf("dsn = %s", cfg.Database.DSN)
	}
	if cfg.JWT.Secret != "env-secret" {
		t.Errorf("secret = %s", cfg.JWT.Secret)
	}
	if cfg.Authz.Mode != "shadow" {
		t.Errorf("authz mode = %s", cfg.Authz.Mode)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTHZ_MODE", "")

	if _, err := Load(writeConfig(t, "jwt:\n  secret: s\n")); err == nil {
		t.Error("expected an error without database.dsn")
	}
	if _, err := Load(writeConfig(t, "database:\n  dsn: postgres://x\n")); err == nil {
		t.Error("expected an error without jwt.secret")
	}
	if _, err := Load(writeConfig(t, `
database:
  dsn: postgres://x
jwt:
  secret: s
authz:
  mode: audit
`)); err == nil {
		t.Error("expected an error for an invalid authz mode")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
