package symtab

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/valyala/bytebufferpool"
)

const binaryMapExt = ".bin"

// Load parses the textual listing at name. A missing file yields an empty
// table: no symbol information is not an error.
func Load(fsys fs.FS, name string, bases SectionBases, opts ...Option) (*Table, error) {
	t := New(bases, opts...)
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	if err := readInto(bb, fsys, name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			t.logger.Info().Str("path", name).Msg("no symbol listing")
			return t, nil
		}
		return nil, err
	}
	if err := t.Parse(bytes.NewReader(bb.B)); err != nil {
		return nil, fmt.Errorf("symtab: parse %s: %w", name, err)
	}
	st := t.Stats()
	t.logger.Info().Str("path", name).Int("symbols", st.Symbols).Int("unmatched", st.Unmatched).
		Int("malformed", st.Malformed).Int("rejected_sections", st.Rejected).Int("filtered", st.Filtered).
		Msg("symbol listing loaded")
	return t, nil
}

// LoadDir parses every regular *.bin file directly under dir as a binary
// map. A missing directory yields an empty table.
func LoadDir(fsys fs.FS, dir string, bases SectionBases, opts ...Option) (*Table, error) {
	t := New(bases, opts...)
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		t.logger.Info().Str("dir", dir).Msg("no symbol map directory")
		return t, nil
	}
	if err != nil {
		return nil, err
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), binaryMapExt) {
			continue
		}
		name := path.Join(dir, e.Name())
		bb.Reset()
		if err := readInto(bb, fsys, name); err != nil {
			return t, err
		}
		n, err := t.ParseBinary(bb.B)
		if err != nil {
			return t, fmt.Errorf("symtab: %s: %w", name, err)
		}
		t.logger.Info().Str("path", name).Int("symbols", n).Msg("symbol map loaded")
	}
	if t.Len() == 0 {
		t.logger.Warn().Str("dir", dir).Msg("symbol maps parsed but no symbols were added")
	}
	return t, nil
}

func readInto(bb *bytebufferpool.ByteBuffer, fsys fs.FS, name string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = bb.ReadFrom(f)
	return err
}
