package archive

import (
	"archive/tar"
	"io"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	rerrors "github.com/bibin-skaria/rpmimg/internal/errors"
	"github.com/bibin-skaria/rpmimg/internal/logging"
)

// Options configures a Builder
type Options struct {
	// ClampTime is the latest mtime recorded in the archive. The zero value
	// disables clamping.
	ClampTime time.Time
	// TouchSymlinks also rewrites the on-disk mtime of symlinks newer than
	// ClampTime. Header mtimes are clamped either way.
	TouchSymlinks bool
	// Logger defaults to a discarding logger
	Logger logrus.FieldLogger
}

// Builder writes a deterministic tar stream. Entries must be appended in the
// order they should appear; Walk provides that order.
//
// Headers carry numeric ownership only, permission bits, and whole second
// mtimes no later than the clamp time. Extended attributes are written as a
// PAX extended header placed immediately before the entry they belong to.
// Sockets, fifos and device nodes are skipped.
type Builder struct {
	out     io.Writer
	tw      *tar.Writer
	clamp   int64
	touch   bool
	links   *HardlinkTable
	log     logrus.FieldLogger
	entries int
	closed  bool
}

// NewBuilder creates a Builder writing to w
func NewBuilder(w io.Writer, opts Options) *Builder {
	clamp := int64(math.MaxInt64)
	if !opts.ClampTime.IsZero() {
		clamp = opts.ClampTime.Unix()
	}
	return &Builder{
		out:   w,
		tw:    tar.NewWriter(w),
		clamp: clamp,
		touch: opts.TouchSymlinks,
		links: NewHardlinkTable(),
		log:   logging.OrDiscard(opts.Logger),
	}
}

// Entries returns the number of archive entries written
func (b *Builder) Entries() int {
	return b.entries
}

// AppendTree archives every entry below root in walk order.
func (b *Builder) AppendTree(root string) error {
	return Walk(root, b.Append)
}

// Append writes one entry.
func (b *Builder) Append(e Entry) error {
	if e.Info.Kind == KindOther {
		b.log.WithField("path", e.Rel).Debug("Skipping special file")
		return nil
	}

	hdr, err := b.header(e)
	if err != nil {
		return err
	}

	if e.Info.Kind != KindDir && e.Info.Nlink > 1 {
		if first, seen := b.links.Observe(e.Info.Dev, e.Info.Ino, hdr.Name); seen {
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = first
			hdr.Size = 0
			return b.writeHeader(e, hdr)
		}
	}

	if err := b.writeHeader(e, hdr); err != nil {
		return err
	}
	if e.Info.Kind == KindRegular {
		return b.copyContent(e)
	}
	return nil
}

func (b *Builder) header(e Entry) (*tar.Header, error) {
	mtime := e.Info.Mtime
	if mtime > b.clamp {
		mtime = b.clamp
	}

	hdr := &tar.Header{
		Name:    e.Rel,
		Mode:    int64(e.Info.Mode),
		Uid:     e.Info.UID,
		Gid:     e.Info.GID,
		ModTime: time.Unix(mtime, 0),
		Format:  tar.FormatGNU,
	}

	switch e.Info.Kind {
	case KindRegular:
		hdr.Typeflag = tar.TypeReg
		hdr.Size = e.Info.Size
	case KindDir:
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
	case KindSymlink:
		hdr.Typeflag = tar.TypeSymlink
		target, err := os.Readlink(e.Path)
		if err != nil {
			return nil, rerrors.NewFilesystemError("readlink", e.Path, err)
		}
		hdr.Linkname = target
		if b.touch && e.Info.Mtime > b.clamp {
			if err := touchSymlink(e.Path, b.clamp); err != nil {
				return nil, rerrors.NewFilesystemError("set_symlink_mtime", e.Path, err)
			}
		}
	}
	return hdr, nil
}

func (b *Builder) writeHeader(e Entry, hdr *tar.Header) error {
	if len(e.Info.Xattrs) > 0 {
		if err := b.tw.Flush(); err != nil {
			return rerrors.NewFilesystemError("write_archive", e.Path, err)
		}
		if err := writePAXHeader(b.out, hdr.Name, xattrRecords(e.Info.Xattrs)); err != nil {
			return rerrors.NewFilesystemError("write_archive", e.Path, err)
		}
	}
	if err := b.tw.WriteHeader(hdr); err != nil {
		return rerrors.NewFilesystemError("write_archive", e.Path, err)
	}
	b.entries++
	return nil
}

func (b *Builder) copyContent(e Entry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return rerrors.NewFilesystemError("open", e.Path, err)
	}
	defer f.Close()

	n, err := io.Copy(b.tw, f)
	if err != nil {
		return rerrors.NewFilesystemError("write_archive", e.Path, err)
	}
	if n != e.Info.Size {
		return rerrors.NewFilesystemError("write_archive", e.Path, io.ErrUnexpectedEOF)
	}
	return nil
}

// Close writes the end-of-archive marker. It does not close the underlying
// writer.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.tw.Close(); err != nil {
		return rerrors.NewFilesystemError("close_archive", "", err)
	}
	return nil
}

func touchSymlink(path string, sec int64) error {
	ts := unix.NsecToTimespec(sec * int64(time.Second))
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, []unix.Timespec{ts, ts}, unix.AT_SYMLINK_NOFOLLOW)
}
