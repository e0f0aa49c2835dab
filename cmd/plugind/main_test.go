package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/plugin-loader/pkg/image"
	"github.com/srediag/plugin-loader/pkg/symtab"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadCommand(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "skyline", "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	img := image.Build([]byte("text"), nil, nil, 0x100, 0x1000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.nro"), img, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	t.Setenv("PLUGIN_MOUNT_ROOT", root)
	t.Setenv("PLUGIN_PROGRAM_ID", "0x0100000000001000")

	out, err := run(t, "load")
	require.NoError(t, err)
	assert.Contains(t, out, "plugins:1 registered:true")
	assert.Contains(t, out, "path:skyline/plugins/a.nro state:running")
}

func TestSymbolsConvertAndLookup(t *testing.T) {
	root := t.TempDir()
	listing := filepath.Join(root, "main.map")
	require.NoError(t, os.WriteFile(listing, []byte(
		"0001:00000000 0100H .text CODE\nAddress\n1:00000010 Foo\n1:00000020 sub_20\n1:00000040 Bar\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "maps"), 0o755))
	bin := filepath.Join(root, "maps", "main.bin")

	_, err := run(t, "symbols", "convert", listing, bin)
	require.NoError(t, err)

	data, err := os.ReadFile(bin)
	require.NoError(t, err)
	tbl := symtab.New(symtab.SectionBases{})
	n, err := tbl.ParseBinary(data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	t.Setenv("PLUGIN_MOUNT_ROOT", root)
	t.Setenv("PLUGIN_SYMBOL_MAP_DIR", "maps")
	out, err := run(t, "symbols", "lookup", "--text-base", "0x1000", "Foo", "0x1010")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Foo\t0x1010", lines[0])
	assert.Equal(t, "0x1010\tBar", lines[1])
}
