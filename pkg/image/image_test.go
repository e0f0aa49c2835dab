package image

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/plugin-loader/api"
)

func TestBuildParse(t *testing.T) {
	img := Build([]byte("text"), []byte("ro"), []byte("data"), 0x1800, 0x1000)
	require.Len(t, img, 0x1000)

	h, err := ParseHeader(img)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), h.Size)
	assert.Equal(t, Segment{Offset: HeaderSize, Size: 4}, h.Text)
	assert.Equal(t, Segment{Offset: HeaderSize + 4, Size: 2}, h.RO)
	assert.Equal(t, Segment{Offset: HeaderSize + 6, Size: 4}, h.Data)
	assert.Equal(t, uint64(0x2000), h.WorkingSize(0x1000))
	assert.Equal(t, "text", string(img[h.Text.Offset:h.Text.end()]))
}

func TestWorkingSizeZero(t *testing.T) {
	h, err := ParseHeader(Build(nil, nil, nil, 0, 0x1000))
	require.NoError(t, err)
	assert.Zero(t, h.WorkingSize(0x1000))
}

func TestParseRejects(t *testing.T) {
	_, err := ParseHeader([]byte("#!/bin/sh\necho not a module\n"))
	assert.ErrorIs(t, err, api.ErrNotModuleImage)

	_, err = ParseHeader(make([]byte, 0x1000))
	assert.ErrorIs(t, err, api.ErrNotModuleImage)

	img := Build([]byte("text"), nil, nil, 0, 0x1000)
	_, err = ParseHeader(img[:0x800])
	assert.ErrorIs(t, err, api.ErrNotModuleImage)
	assert.ErrorIs(t, err, ErrTruncated)

	bad := Build([]byte("text"), nil, nil, 0, 0x1000)
	binary.LittleEndian.PutUint32(bad[segmentsOffset+4:], 0x2000)
	_, err = ParseHeader(bad)
	assert.ErrorIs(t, err, api.ErrNotModuleImage)

	small := Build(nil, nil, nil, 0, 0x1000)
	binary.LittleEndian.PutUint32(small[sizeOffset:], 0x10)
	_, err = ParseHeader(small)
	assert.ErrorIs(t, err, api.ErrNotModuleImage)
}
