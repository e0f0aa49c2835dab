// Package symtab resolves host binary symbols from section-relative symbol
// listings, in either the textual linker/disassembler map format or the
// compact binary map format.
package symtab

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// bodyMarker starts the line that separates the section header block from
// the symbol lines.
const bodyMarker = "Address"

// Section is one header line of a listing: `id:start lengthH name [class]`.
type Section struct {
	ID     uint64
	Start  uint64
	Length uint64
	Name   string
	Class  string
}

// Entry is one body line of a listing: `id:offset name`.
type Entry struct {
	Section uint64
	Offset  uint64
	Name    string
}

// Listing is a parsed textual map before section bases are applied.
type Listing struct {
	Sections map[uint64]Section
	Entries  []Entry
	// Malformed counts body and header lines that could not be parsed.
	Malformed int
	// Rejected counts header lines with a non-zero start offset. Their
	// section id stays unmapped.
	Rejected int
}

// ReadListing parses a textual symbol listing. Irregular lines are counted
// and skipped; only read errors are returned.
func ReadListing(r io.Reader, logger zerolog.Logger) (*Listing, error) {
	l := &Listing{Sections: make(map[uint64]Section)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	body := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !body {
			if strings.HasPrefix(line, bodyMarker) {
				body = true
				continue
			}
			l.header(line, logger)
			continue
		}
		l.entry(line, logger)
	}
	return l, sc.Err()
}

func (l *Listing) header(line string, logger zerolog.Logger) {
	fields := strings.Fields(line)
	if len(fields) < 3 || !strings.Contains(fields[0], ":") {
		// column titles and banners
		return
	}
	id, start, err := splitAddr(fields[0])
	if err != nil {
		l.Malformed++
		logger.Debug().Str("line", line).Msg("malformed section line")
		return
	}
	length, err := strconv.ParseUint(strings.TrimSuffix(fields[1], "H"), 16, 64)
	if err != nil {
		l.Malformed++
		logger.Debug().Str("line", line).Msg("malformed section length")
		return
	}
	if start != 0 {
		l.Rejected++
		logger.Warn().Uint64("section", id).Str("start", fields[0]).Str("name", fields[2]).
			Msg("section with non-zero start is not supported")
		return
	}
	s := Section{ID: id, Length: length, Name: fields[2]}
	if len(fields) > 3 {
		s.Class = fields[3]
	}
	l.Sections[id] = s
}

func (l *Listing) entry(line string, logger zerolog.Logger) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		l.Malformed++
		logger.Debug().Str("line", line).Msg("malformed symbol line")
		return
	}
	id, off, err := splitAddr(fields[0])
	if err != nil {
		l.Malformed++
		logger.Debug().Str("line", line).Msg("malformed symbol address")
		return
	}
	// demangled names may carry spaces; only the first token is kept
	l.Entries = append(l.Entries, Entry{Section: id, Offset: off, Name: fields[1]})
}

// splitAddr parses `id:offset`, both hexadecimal.
func splitAddr(s string) (id, off uint64, err error) {
	idStr, offStr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, strconv.ErrSyntax
	}
	if id, err = strconv.ParseUint(idStr, 16, 64); err != nil {
		return 0, 0, err
	}
	if off, err = strconv.ParseUint(offStr, 16, 64); err != nil {
		return 0, 0, err
	}
	return id, off, nil
}

// DefaultExclude lists name fragments of compiler generated thunks and
// table helpers that are not worth resolving.
var DefaultExclude = []string{
	"CustomAttributesCacheGenerator",
	"RuntimeInvoker_",
	"XmlSchema",
	"Array_InternalArray_",
	"jpt_",
	"def_",
	"sub_",
	"Array_Resize_",
	"Array_Reverse_",
	"Array_Sort_",
}

func excluded(name string, exclude []string) bool {
	for _, frag := range exclude {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}
