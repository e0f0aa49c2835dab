//go:build linux && cgo

package adapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/plugin-loader/api"
	"github.com/srediag/plugin-loader/pkg/image"
)

func TestGoPluginRejectsNonELF(t *testing.T) {
	l, err := NewGoPluginLoader(1, t.TempDir())
	require.NoError(t, err)

	_, err = l.RequiredWorkingSize(image.Build(nil, nil, nil, 0, 0x1000))
	assert.ErrorIs(t, err, api.ErrNotModuleImage)
}

func TestGoPluginLoadRequiresRegistration(t *testing.T) {
	l, err := NewGoPluginLoader(1, t.TempDir())
	require.NoError(t, err)
	_, err = l.LookupSymbol(api.ModuleHandle{Token: 1}, "Main")
	assert.ErrorIs(t, err, api.ErrUnknownModule)
}

func TestMappedRange(t *testing.T) {
	maps := filepath.Join(t.TempDir(), "maps")
	content := "" +
		"7f0000000000-7f0000001000 r--p 00000000 08:01 42 /tmp/stage/abc.so\n" +
		"7f0000001000-7f0000003000 r-xp 00001000 08:01 42 /tmp/stage/abc.so\n" +
		"7f0000003000-7f0000004000 rw-p 00000000 00:00 0\n" +
		"7f0000004000-7f0000005000 rw-p 00003000 08:01 42 /tmp/stage/abc.so\n" +
		"7f1000000000-7f1000001000 r--p 00000000 08:01 43 /tmp/stage/other.so\n"
	require.NoError(t, os.WriteFile(maps, []byte(content), 0o600))

	base, size, err := mappedRange(maps, "/tmp/stage/abc.so")
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x7f0000000000), base)
	assert.Equal(t, uint64(0x5000), size)

	_, _, err = mappedRange(maps, "/tmp/stage/missing.so")
	assert.Error(t, err)
}
