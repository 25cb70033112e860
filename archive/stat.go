package archive

import (
	"bytes"
	"errors"
	"sort"

	"golang.org/x/sys/unix"
)

// Kind classifies a filesystem entry for archiving
type Kind int

const (
	// KindOther covers sockets, fifos and device nodes; they are never archived
	KindOther Kind = iota
	KindRegular
	KindDir
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDir:
		return "directory"
	case KindSymlink:
		return "symlink"
	}
	return "other"
}

// Xattr is one extended attribute
type Xattr struct {
	Name  string
	Value []byte
}

// EntryInfo is the lstat view of an entry that archiving depends on.
type EntryInfo struct {
	Kind  Kind
	Mode  uint32
	UID   int
	GID   int
	Size  int64
	Dev   uint64
	Ino   uint64
	Nlink uint64
	// Mtime is in whole seconds since the epoch
	Mtime  int64
	Xattrs []Xattr
}

// Stat lstats path and reads its extended attributes.
func Stat(path string) (EntryInfo, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return EntryInfo{}, err
	}

	info := EntryInfo{
		Mode:  uint32(st.Mode) & 0o7777,
		UID:   int(st.Uid),
		GID:   int(st.Gid),
		Dev:   uint64(st.Dev),
		Ino:   uint64(st.Ino),
		Nlink: uint64(st.Nlink),
	}
	info.Mtime, _ = st.Mtim.Unix()

	switch uint32(st.Mode) & unix.S_IFMT {
	case unix.S_IFREG:
		info.Kind = KindRegular
		info.Size = st.Size
	case unix.S_IFDIR:
		info.Kind = KindDir
	case unix.S_IFLNK:
		info.Kind = KindSymlink
	default:
		info.Kind = KindOther
		return info, nil
	}

	xattrs, err := readXattrs(path)
	if err != nil {
		return EntryInfo{}, err
	}
	info.Xattrs = xattrs
	return info, nil
}

// readXattrs returns the extended attributes of path without following a
// final symlink, sorted by name. Filesystems without xattr support yield none.
func readXattrs(path string) ([]Xattr, error) {
	names, err := listXattrs(path)
	if err != nil || len(names) == 0 {
		return nil, err
	}

	xattrs := make([]Xattr, 0, len(names))
	for _, name := range names {
		value, err := getXattr(path, name)
		if errors.Is(err, unix.ENODATA) {
			continue
		}
		if err != nil {
			return nil, err
		}
		xattrs = append(xattrs, Xattr{Name: name, Value: value})
	}
	return xattrs, nil
}

func listXattrs(path string) ([]string, error) {
	for {
		size, err := unix.Llistxattr(path, nil)
		if unsupportedXattr(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return nil, nil
		}
		buf := make([]byte, size)
		n, err := unix.Llistxattr(path, buf)
		if errors.Is(err, unix.ERANGE) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var names []string
		for _, name := range bytes.Split(buf[:n], []byte{0}) {
			if len(name) > 0 {
				names = append(names, string(name))
			}
		}
		sort.Strings(names)
		return names, nil
	}
}

func getXattr(path, name string) ([]byte, error) {
	for {
		size, err := unix.Lgetxattr(path, name, nil)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size)
		n, err := unix.Lgetxattr(path, name, buf)
		if errors.Is(err, unix.ERANGE) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
}

func unsupportedXattr(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP)
}
