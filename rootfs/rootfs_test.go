package rootfs

import (
	"os"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func mkfile(t *testing.T, root, rel string) {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(rel), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCleanRemovesLeftovers(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{
		"var/log/dnf.log",
		"var/cache/dnf/metadata",
		"var/tmp/scratch",
		"var/lib/dnf/history.sqlite",
		"var/lib/rpm/.rpm.lock",
		"var/lib/rpm/Packages",
		"etc/os-release",
	} {
		mkfile(t, root, rel)
	}

	if err := Clean(root, nil); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}

	for _, rel := range Transient {
		if _, err := os.Lstat(filepath.Join(root, rel)); !os.IsNotExist(err) {
			t.Errorf("%s still present", rel)
		}
	}
	for _, rel := range []string{"var/lib/rpm/Packages", "etc/os-release", "var/lib"} {
		if _, err := os.Lstat(filepath.Join(root, rel)); err != nil {
			t.Errorf("%s was removed: %v", rel, err)
		}
	}
}

func TestCleanEmptyRoot(t *testing.T) {
	if err := Clean(t.TempDir(), nil); err != nil {
		t.Errorf("Clean on an empty root failed: %v", err)
	}
}

func TestCleanDisablesWAL(t *testing.T) {
	root := t.TempDir()
	db := filepath.Join(root, rpmDB)
	if err := os.MkdirAll(filepath.Dir(db), 0o755); err != nil {
		t.Fatal(err)
	}

	conn, err := sqlite.OpenConn(db, sqlite.OpenReadWrite, sqlite.OpenCreate)
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"CREATE TABLE Packages (hnum INTEGER PRIMARY KEY, blob BLOB);",
		"INSERT INTO Packages (blob) VALUES (x'00');",
	} {
		if err := sqlitex.ExecuteTransient(conn, q, nil); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}

	if mode, err := JournalMode(db); err != nil || mode != "wal" {
		t.Fatalf("journal mode before Clean = %q, %v", mode, err)
	}
	// SQLite removes the shared memory file on close; recreate it as an
	// interrupted rpm run would leave it.
	if err := os.WriteFile(filepath.Join(root, rpmDBShm), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Clean(root, nil); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	mode, err := JournalMode(db)
	if err != nil {
		t.Fatal(err)
	}
	if mode != "delete" {
		t.Errorf("journal mode after Clean = %q, want delete", mode)
	}
}

func TestDisableJournalMissingDatabase(t *testing.T) {
	if err := DisableJournal(filepath.Join(t.TempDir(), "missing.sqlite")); err == nil {
		t.Error("expected error for a missing database")
	}
}
