package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"
)

const (
	clampSec  = 1700000000
	futureSec = 1800000000
)

type readEntry struct {
	hdr     *tar.Header
	content []byte
}

func buildArchive(t *testing.T, root string, opts Options) []byte {
	t.Helper()
	var buf bytes.Buffer
	b := NewBuilder(&buf, opts)
	if err := b.AppendTree(root); err != nil {
		t.Fatalf("AppendTree failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return buf.Bytes()
}

func readArchive(t *testing.T, data []byte) []readEntry {
	t.Helper()
	var entries []readEntry
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return entries
		}
		if err != nil {
			t.Fatalf("reading archive: %v", err)
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("reading %s: %v", hdr.Name, err)
		}
		entries = append(entries, readEntry{hdr: hdr, content: content})
	}
}

func names(entries []readEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.hdr.Name
	}
	return out
}

func writeFile(t *testing.T, path, content string, mtime int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if mtime != 0 {
		ts := time.Unix(mtime, 0)
		if err := os.Chtimes(path, ts, ts); err != nil {
			t.Fatal(err)
		}
	}
}

func setXattrOrSkip(t *testing.T, path, name, value string) {
	t.Helper()
	if err := unix.Setxattr(path, name, []byte(value), 0); err != nil {
		t.Skipf("user xattrs not supported here: %v", err)
	}
}

func TestPAXRecordLength(t *testing.T) {
	tests := []struct {
		key, value string
		want       string
	}{
		{"SCHILY.xattr.user.foo", "bar", "29 SCHILY.xattr.user.foo=bar\n"},
		{"a", "", "5 a=\n"},
		{"k", "123", "8 k=123\n"},
		{"k", "1234", "9 k=1234\n"},
		{"k", "12345", "11 k=12345\n"},
	}
	for _, tt := range tests {
		if got := paxRecord(tt.key, tt.value); got != tt.want {
			t.Errorf("paxRecord(%q, %q) = %q, want %q", tt.key, tt.value, got, tt.want)
		}
	}

	// Every length must describe the record it prefixes, including across
	// digit count boundaries.
	for n := 0; n < 2000; n++ {
		rec := paxRecord("SCHILY.xattr.user.v", strings.Repeat("x", n))
		prefix, _, ok := strings.Cut(rec, " ")
		if !ok {
			t.Fatalf("malformed record %q", rec)
		}
		l, err := strconv.Atoi(prefix)
		if err != nil || l != len(rec) {
			t.Fatalf("value length %d: record length field %q, actual %d", n, prefix, len(rec))
		}
	}
}

func TestPAXHeaderBlockReadable(t *testing.T) {
	var buf bytes.Buffer
	records := xattrRecords([]Xattr{
		{Name: "security.capability", Value: []byte{0x01, 0x00, 0x00, 0x02}},
		{Name: "user.foo", Value: []byte("bar")},
	})
	if err := writePAXHeader(&buf, "usr/bin/ping", records); err != nil {
		t.Fatal(err)
	}
	if buf.Len()%blockSize != 0 {
		t.Fatalf("extended header not block aligned: %d bytes", buf.Len())
	}

	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "usr/bin/ping", Typeflag: tar.TypeReg, Mode: 0o755, Format: tar.FormatGNU}); err != nil {
		t.Fatal(err)
	}
	tw.Close()

	entries := readArchive(t, buf.Bytes())
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	recs := entries[0].hdr.PAXRecords
	if recs["SCHILY.xattr.user.foo"] != "bar" {
		t.Errorf("user.foo = %q", recs["SCHILY.xattr.user.foo"])
	}
	if recs["SCHILY.xattr.security.capability"] != "\x01\x00\x00\x02" {
		t.Errorf("security.capability = %q", recs["SCHILY.xattr.security.capability"])
	}
}

func TestBuilderScenario(t *testing.T) {
	root := t.TempDir()
	file1 := filepath.Join(root, "a", "file1")
	writeFile(t, file1, "hello world\n", 0)
	setXattrOrSkip(t, file1, "user.foo", "bar")
	if err := os.Link(file1, filepath.Join(root, "a", "file2")); err != nil {
		t.Fatal(err)
	}
	ts := time.Unix(futureSec, 0)
	os.Chtimes(file1, ts, ts)

	opts := Options{ClampTime: time.Unix(clampSec, 0)}
	first := buildArchive(t, root, opts)
	second := buildArchive(t, root, opts)
	if digest.FromBytes(first) != digest.FromBytes(second) {
		t.Fatal("rebuilding the same tree produced a different digest")
	}

	entries := readArchive(t, first)
	if got := names(entries); strings.Join(got, ",") != "a/,a/file1,a/file2" {
		t.Fatalf("entries = %v", got)
	}

	f1 := entries[1].hdr
	if f1.Typeflag != tar.TypeReg {
		t.Errorf("a/file1 type = %c, want regular", f1.Typeflag)
	}
	if f1.ModTime.Unix() != clampSec {
		t.Errorf("a/file1 mtime = %d, want %d", f1.ModTime.Unix(), clampSec)
	}
	if f1.PAXRecords["SCHILY.xattr.user.foo"] != "bar" {
		t.Errorf("a/file1 PAX records = %v", f1.PAXRecords)
	}
	if string(entries[1].content) != "hello world\n" {
		t.Errorf("a/file1 content = %q", entries[1].content)
	}

	f2 := entries[2].hdr
	if f2.Typeflag != tar.TypeLink || f2.Linkname != "a/file1" {
		t.Errorf("a/file2 = type %c link %q, want hardlink to a/file1", f2.Typeflag, f2.Linkname)
	}
	if f2.PAXRecords["SCHILY.xattr.user.foo"] != "bar" {
		t.Errorf("a/file2 should carry the xattr record too, got %v", f2.PAXRecords)
	}
}

func TestBuilderHardlinkStoresOneCopy(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("payload", 1000)
	writeFile(t, filepath.Join(root, "x", "orig"), content, clampSec-10)
	if err := os.Link(filepath.Join(root, "x", "orig"), filepath.Join(root, "y")); err != nil {
		t.Fatal(err)
	}

	entries := readArchive(t, buildArchive(t, root, Options{ClampTime: time.Unix(clampSec, 0)}))

	var stored int64
	var links int
	for _, e := range entries {
		stored += int64(len(e.content))
		if e.hdr.Typeflag == tar.TypeLink {
			links++
			if e.hdr.Name != "y" || e.hdr.Linkname != "x/orig" {
				t.Errorf("link entry %s -> %s", e.hdr.Name, e.hdr.Linkname)
			}
		}
	}
	if links != 1 {
		t.Errorf("got %d link entries, want 1", links)
	}
	if stored != int64(len(content)) {
		t.Errorf("stored %d content bytes, want %d", stored, len(content))
	}
}

func TestBuilderOrderingAndDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b"), "b", 0)
	writeFile(t, filepath.Join(root, "a"), "a", 0)
	writeFile(t, filepath.Join(root, "c", "e"), "e", 0)
	writeFile(t, filepath.Join(root, "c", "d"), "d", 0)
	writeFile(t, filepath.Join(root, "B"), "B", 0)

	entries := readArchive(t, buildArchive(t, root, Options{ClampTime: time.Unix(clampSec, 0)}))
	got := strings.Join(names(entries), ",")
	if got != "B,a,b,c/,c/d,c/e" {
		t.Errorf("order = %s", got)
	}
	if entries[3].hdr.Typeflag != tar.TypeDir {
		t.Errorf("c/ type = %c, want directory", entries[3].hdr.Typeflag)
	}
	for _, e := range entries {
		if e.hdr.Uname != "" || e.hdr.Gname != "" {
			t.Errorf("%s carries user names %q/%q", e.hdr.Name, e.hdr.Uname, e.hdr.Gname)
		}
		if e.hdr.ModTime.Unix() > clampSec {
			t.Errorf("%s mtime %d exceeds clamp", e.hdr.Name, e.hdr.ModTime.Unix())
		}
	}
}

func TestBuilderKeepsOlderMtimes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old"), "x", 1000000000)

	entries := readArchive(t, buildArchive(t, root, Options{ClampTime: time.Unix(clampSec, 0)}))
	if entries[0].hdr.ModTime.Unix() != 1000000000 {
		t.Errorf("mtime = %d, want 1000000000", entries[0].hdr.ModTime.Unix())
	}

	entries = readArchive(t, buildArchive(t, root, Options{}))
	if entries[0].hdr.ModTime.Unix() != 1000000000 {
		t.Errorf("unclamped mtime = %d", entries[0].hdr.ModTime.Unix())
	}
}

func TestBuilderSkipsSockets(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "file"), "x", 0)
	l, err := net.Listen("unix", filepath.Join(root, "sock"))
	if err != nil {
		t.Skipf("cannot create unix socket: %v", err)
	}
	defer l.Close()
	if err := unix.Mkfifo(filepath.Join(root, "fifo"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries := readArchive(t, buildArchive(t, root, Options{ClampTime: time.Unix(clampSec, 0)}))
	if got := strings.Join(names(entries), ","); got != "file" {
		t.Errorf("entries = %s, want only file", got)
	}
}

func TestBuilderSymlinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "target"), "x", 0)
	link := filepath.Join(root, "link")
	if err := os.Symlink("target", link); err != nil {
		t.Fatal(err)
	}
	future := unix.NsecToTimespec(futureSec * int64(time.Second))
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, link, []unix.Timespec{future, future}, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		t.Fatal(err)
	}

	entries := readArchive(t, buildArchive(t, root, Options{ClampTime: time.Unix(clampSec, 0)}))
	hdr := entries[0].hdr
	if hdr.Name != "link" || hdr.Typeflag != tar.TypeSymlink || hdr.Linkname != "target" {
		t.Fatalf("symlink entry = %+v", hdr)
	}
	if hdr.ModTime.Unix() != clampSec {
		t.Errorf("symlink mtime = %d, want %d", hdr.ModTime.Unix(), clampSec)
	}

	info, err := Stat(link)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mtime != futureSec {
		t.Errorf("on-disk symlink mtime changed without TouchSymlinks: %d", info.Mtime)
	}

	buildArchive(t, root, Options{ClampTime: time.Unix(clampSec, 0), TouchSymlinks: true})
	info, err = Stat(link)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mtime != clampSec {
		t.Errorf("on-disk symlink mtime = %d, want %d", info.Mtime, clampSec)
	}
}

func TestStat(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f")
	writeFile(t, path, "12345", clampSec)
	if err := os.Chmod(path, 0o4750); err != nil {
		t.Fatal(err)
	}

	info, err := Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Kind != KindRegular || info.Size != 5 || info.Mtime != clampSec {
		t.Errorf("info = %+v", info)
	}
	if info.Mode != 0o4750 {
		t.Errorf("mode = %o, want 4750", info.Mode)
	}
	if info.Nlink != 1 {
		t.Errorf("nlink = %d", info.Nlink)
	}

	if _, err := Stat(filepath.Join(root, "missing")); !errors.Is(err, unix.ENOENT) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestStatSortsXattrs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	writeFile(t, path, "", 0)
	setXattrOrSkip(t, path, "user.zz", "2")
	setXattrOrSkip(t, path, "user.aa", "1")

	info, err := Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, x := range info.Xattrs {
		if strings.HasPrefix(x.Name, "user.") {
			got = append(got, x.Name+"="+string(x.Value))
		}
	}
	if strings.Join(got, ",") != "user.aa=1,user.zz=2" {
		t.Errorf("xattrs = %v", got)
	}
}

func TestHardlinkTable(t *testing.T) {
	table := NewHardlinkTable()
	if _, seen := table.Observe(1, 42, "a"); seen {
		t.Fatal("first observation reported as seen")
	}
	if first, seen := table.Observe(1, 42, "b"); !seen || first != "a" {
		t.Errorf("second observation = %q, %v", first, seen)
	}
	if _, seen := table.Observe(2, 42, "c"); seen {
		t.Error("same inode on another device must not match")
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}
