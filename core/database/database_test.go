package database

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	coreconfig "github.com/m3rciful/fsmbot/core/config"
)

func TestDSNDefaultsSSLMode(t *testing.T) {
	cfg := coreconfig.DatabaseConfig{Host: "db", Port: "5432", User: "bot", Password: "pw", Name: "journal"}
	if got := DSN(cfg); !strings.HasSuffix(got, "sslmode=disable") {
		t.Fatalf("dsn = %q", got)
	}
	cfg.SSLMode = "require"
	if got := URL(cfg); got != "postgres://bot:pw@db:5432/journal?sslmode=require" {
		t.Fatalf("url = %q", got)
	}
}

func TestSelectApplied(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql", "000003_c.up.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	files := listMigrationFiles(dir)
	want := []string{"000001_a.up.sql", "000002_b.up.sql", "000003_c.up.sql"}
	if !reflect.DeepEqual(files, want) {
		t.Fatalf("files = %v", files)
	}
	if got := selectApplied(files, 1, 3); !reflect.DeepEqual(got, want[1:]) {
		t.Fatalf("applied = %v", got)
	}
	if got := selectApplied(files, 3, 3); len(got) != 0 {
		t.Fatalf("nothing should be applied, got %v", got)
	}
}
