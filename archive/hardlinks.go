package archive

type inodeKey struct {
	dev uint64
	ino uint64
}

// HardlinkTable maps a (device, inode) pair to the archive path under which
// its content was first written.
type HardlinkTable struct {
	seen map[inodeKey]string
}

// NewHardlinkTable returns an empty table
func NewHardlinkTable() *HardlinkTable {
	return &HardlinkTable{seen: make(map[inodeKey]string)}
}

// Observe records name as the first path of (dev, ino) and returns "", false,
// or returns the previously recorded path and true.
func (t *HardlinkTable) Observe(dev, ino uint64, name string) (string, bool) {
	key := inodeKey{dev: dev, ino: ino}
	if first, ok := t.seen[key]; ok {
		return first, true
	}
	t.seen[key] = name
	return "", false
}

// Len returns the number of recorded inodes
func (t *HardlinkTable) Len() int {
	return len(t.seen)
}
