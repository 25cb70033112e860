package archive

import (
	"io/fs"
	"path/filepath"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
)

// Entry is one filesystem entry found by Walk
type Entry struct {
	// Rel is the slash separated path relative to the walk root
	Rel string
	// Path is the host path
	Path string
	Info EntryInfo
}

// Walk visits every entry below root, excluding root itself, in lexical
// order within each directory. Entries of every kind are passed to fn,
// including sockets and devices.
func Walk(root string, fn func(Entry) error) error {
	return filepath.WalkDir(root, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return rerrors.NewFilesystemError("walk", p, err)
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return rerrors.NewFilesystemError("walk", p, err)
		}
		info, err := Stat(p)
		if err != nil {
			return rerrors.NewFilesystemError("stat", p, err)
		}
		return fn(Entry{Rel: filepath.ToSlash(rel), Path: p, Info: info})
	})
}
