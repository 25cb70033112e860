// Package rootfs prepares an installed root filesystem for imaging by
// removing state that package installation leaves behind and that would make
// images differ between otherwise identical builds.
package rootfs

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/logging"
)

// Transient lists the root-relative paths removed by Clean
var Transient = []string{
	"var/log",
	"var/cache",
	"var/tmp",
	"var/lib/dnf",
	"var/lib/rpm/.rpm.lock",
}

const (
	rpmDB    = "var/lib/rpm/rpmdb.sqlite"
	rpmDBShm = rpmDB + "-shm"
)

// Clean removes Transient paths below root and, when the rpm database is in
// WAL mode, switches it to rollback journaling so the -wal and -shm files
// disappear. Missing paths are ignored.
func Clean(root string, log logrus.FieldLogger) error {
	log = logging.OrDiscard(log).WithField("root", root)

	for _, rel := range Transient {
		p := filepath.Join(root, rel)
		if err := os.RemoveAll(p); err != nil {
			return rerrors.NewFilesystemError("clean_root", p, err)
		}
		log.WithField("path", rel).Debug("Removed install leftover")
	}

	if _, err := os.Lstat(filepath.Join(root, rpmDBShm)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rerrors.NewFilesystemError("clean_root", filepath.Join(root, rpmDBShm), err)
	}
	log.Info("Disabling rpm database journaling")
	return DisableJournal(filepath.Join(root, rpmDB))
}

// DisableJournal sets journal_mode=DELETE on the SQLite database at path
func DisableJournal(path string) error {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite)
	if err != nil {
		return rerrors.NewFilesystemError("open_rpmdb", path, err)
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode=DELETE;", nil); err != nil {
		conn.Close()
		return rerrors.NewFilesystemError("disable_journal", path, err)
	}
	if err := conn.Close(); err != nil {
		return rerrors.NewFilesystemError("close_rpmdb", path, err)
	}
	return nil
}

// JournalMode reports the journal mode of the SQLite database at path
func JournalMode(path string) (string, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite)
	if err != nil {
		return "", rerrors.NewFilesystemError("open_rpmdb", path, err)
	}
	defer conn.Close()

	var mode string
	err = sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode;", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			mode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return "", rerrors.NewFilesystemError("read_journal_mode", path, err)
	}
	return mode, nil
}
