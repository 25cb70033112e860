package archive

import (
	"fmt"
	"io"
	"path"
	"strconv"
)

const (
	blockSize     = 512
	xattrPrefix   = "SCHILY.xattr."
	typeXHeader   = 'x'
	nameFieldSize = 100
)

// paxRecord formats "<len> <key>=<value>\n" where len counts the whole
// record including its own decimal digits.
func paxRecord(key, value string) string {
	base := len(key) + len(value) + len(" =\n")
	total := base + 1
	for {
		next := base + len(strconv.Itoa(total))
		if next == total {
			break
		}
		total = next
	}
	return strconv.Itoa(total) + " " + key + "=" + value + "\n"
}

// xattrRecords renders xattrs as SCHILY.xattr PAX records in input order.
func xattrRecords(xattrs []Xattr) []byte {
	var data []byte
	for _, x := range xattrs {
		data = append(data, paxRecord(xattrPrefix+x.Name, string(x.Value))...)
	}
	return data
}

// paxHeaderName mirrors the PaxHeaders.0/<base> naming used for extended
// header entries, limited to the ustar name field.
func paxHeaderName(name string) string {
	dir, file := path.Split(path.Clean(name))
	n := path.Join(dir, "PaxHeaders.0", file)
	if len(n) > nameFieldSize-1 {
		n = n[:nameFieldSize-1]
	}
	return n
}

func putOctal(field []byte, v int64) {
	s := fmt.Sprintf("%0*o", len(field)-1, v)
	copy(field, s)
	field[len(field)-1] = 0
}

// paxHeaderBlock builds the ustar header block of an extended header entry
// carrying size bytes of records. Times and ownership are zero so the block
// depends only on the entry name and record length.
func paxHeaderBlock(name string, size int) []byte {
	blk := make([]byte, blockSize)
	copy(blk[0:100], paxHeaderName(name))
	putOctal(blk[100:108], 0o644)
	putOctal(blk[108:116], 0)
	putOctal(blk[116:124], 0)
	putOctal(blk[124:136], int64(size))
	putOctal(blk[136:148], 0)
	blk[156] = typeXHeader
	copy(blk[257:263], "ustar\x00")
	copy(blk[263:265], "00")
	putOctal(blk[329:337], 0)
	putOctal(blk[337:345], 0)

	copy(blk[148:156], "        ")
	var sum int64
	for _, b := range blk {
		sum += int64(b)
	}
	copy(blk[148:156], fmt.Sprintf("%06o\x00 ", sum))
	return blk
}

// writePAXHeader writes a complete extended header entry (header block,
// records, zero padding) for the entry called name.
func writePAXHeader(w io.Writer, name string, records []byte) error {
	if _, err := w.Write(paxHeaderBlock(name, len(records))); err != nil {
		return err
	}
	if _, err := w.Write(records); err != nil {
		return err
	}
	if pad := (blockSize - len(records)%blockSize) % blockSize; pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	return nil
}
