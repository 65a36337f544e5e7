package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	script := `
create table users (id text primary key);
insert into roles(name) values ('Admin; yes, with a semicolon');
`
	stmts := splitStatements(script)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if want := "'Admin; yes, with a semicolon'"; !strings.Contains(stmts[1], want) {
		t.Fatalf("quoted semicolon split the statement: %q", stmts[1])
	}
}

func TestCollectSQLOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"002_roles.up.sql",
		"001_users.up.sql",
		"001_users.down.sql",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	files, err := collectSQL(dir, upSuffix)
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 up migrations, got %d", len(files))
	}
	if files[0].base != "001_users.up.sql" || files[1].base != "002_roles.up.sql" {
		t.Fatalf("wrong order: %v", files)
	}

	seeds, err := collectSQL(dir, sqlSuffix)
	if err != nil {
		t.Fatalf("collectSQL seeds: %v", err)
	}
	for _, f := range seeds {
		if f.base == "001_users.down.sql" {
			t.Fatal("seed collection must skip down migrations")
		}
	}
}

func TestCollectSQLMissingDir(t *testing.T) {
	files, err := collectSQL(filepath.Join(t.TempDir(), "absent"), upSuffix)
	if err != nil {
		t.Fatalf("missing directory must not error: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %d", len(files))
	}
}
