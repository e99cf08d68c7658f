package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVersionFromFile(t *testing.T) {
	cases := map[string]int64{
		"001_treasury.up.sql":     1,
		"012_loan_indexes.up.sql": 12,
		"100_x_with_under.up.sql": 100,
	}
	for name, want := range cases {
		got, err := versionFromFile(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Errorf("%s: got %d, want %d", name, got, want)
		}
	}
	if _, err := versionFromFile("treasury.up.sql"); err == nil {
		t.Error("expected error for missing version prefix")
	}
	if _, err := versionFromFile("abc_treasury.up.sql"); err == nil {
		t.Error("expected error for non-numeric prefix")
	}
}

func TestCollect_ordersUpMigrationsByVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"010_b.up.sql", "002_a.up.sql", "002_a.down.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.up.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].version != 2 || got[1].version != 10 {
		t.Fatalf("collect: %+v", got)
	}
}

func TestCollect_missingDir(t *testing.T) {
	if _, err := collect(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
