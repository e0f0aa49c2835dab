package symtab

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/rs/zerolog"
)

// ErrTruncated is returned for binary maps that end mid-record.
var ErrTruncated = errors.New("symtab: truncated binary map")

// Offset is a binary map record: a name at an offset from the code base.
type Offset struct {
	Offset int32
	Name   string
}

// EncodeBinary writes syms as a binary map: a little-endian int32 count,
// then per symbol an int32 offset and a NUL-terminated name.
func EncodeBinary(w io.Writer, syms []Offset) error {
	bw := bufio.NewWriter(w)
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], uint32(len(syms)))
	if _, err := bw.Write(word[:]); err != nil {
		return err
	}
	for _, s := range syms {
		binary.LittleEndian.PutUint32(word[:], uint32(s.Offset))
		_, _ = bw.Write(word[:])
		_, _ = bw.WriteString(s.Name)
		if err := bw.WriteByte(0); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseBinary adds the symbols of a binary map, resolving offsets against
// the code base. It returns the number of records read before any error.
// A final name may run to the end of b without a terminator.
func (t *Table) ParseBinary(b []byte) (int, error) {
	if len(b) < 4 {
		return 0, ErrTruncated
	}
	count := int32(binary.LittleEndian.Uint32(b))
	if count < 0 {
		return 0, ErrTruncated
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	pos := 4
	for i := 0; i < int(count); i++ {
		if pos+4 > len(b) {
			return i, ErrTruncated
		}
		off := int32(binary.LittleEndian.Uint32(b[pos:]))
		pos += 4
		end := bytes.IndexByte(b[pos:], 0)
		if end < 0 {
			end = len(b) - pos
		}
		name := string(b[pos : pos+end])
		pos += end + 1
		t.addLocked(name, uintptr(int64(t.bases.Text)+int64(off)))
	}
	return int(count), nil
}

// Convert turns a textual listing into a binary map, keeping every symbol
// line regardless of section and dropping names that match exclude.
func Convert(r io.Reader, w io.Writer, exclude []string, logger zerolog.Logger) (Stats, error) {
	l, err := ReadListing(r, logger)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Malformed: l.Malformed, Rejected: l.Rejected}
	syms := make([]Offset, 0, len(l.Entries))
	for _, e := range l.Entries {
		if e.Offset > math.MaxInt32 {
			st.Malformed++
			logger.Debug().Str("name", e.Name).Uint64("offset", e.Offset).Msg("offset does not fit a binary map")
			continue
		}
		if excluded(e.Name, exclude) {
			st.Filtered++
			continue
		}
		syms = append(syms, Offset{Offset: int32(e.Offset), Name: e.Name})
	}
	st.Symbols = len(syms)
	return st, EncodeBinary(w, syms)
}
