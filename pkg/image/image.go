// Package image parses the header of a relocatable module image.
//
// The header follows the NRO layout:
//
//	0x10 magic "NRO0"
//	0x14 version   u32
//	0x18 size      u32  size of the whole image
//	0x1C flags     u32
//	0x20 segments  [3]{offset u32, size u32}  text, ro, data
//	0x38 bss size  u32
//	0x40 build id  [32]byte
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/srediag/plugin-loader/api"
)

const (
	HeaderSize = 0x80

	magicOffset    = 0x10
	versionOffset  = 0x14
	sizeOffset     = 0x18
	flagsOffset    = 0x1C
	segmentsOffset = 0x20
	bssSizeOffset  = 0x38
	buildIDOffset  = 0x40
	buildIDSize    = 0x20
)

var magic = []byte("NRO0")

// ErrTruncated is returned when the header claims more bytes than present.
var ErrTruncated = errors.New("image: truncated")

// Segment locates one loadable segment inside the image.
type Segment struct {
	Offset uint32
	Size   uint32
}

func (s Segment) end() uint64 {
	return uint64(s.Offset) + uint64(s.Size)
}

// Header is the decoded module header.
type Header struct {
	Version uint32
	Size    uint32
	Flags   uint32
	Text    Segment
	RO      Segment
	Data    Segment
	BssSize uint32
	BuildID [buildIDSize]byte
}

// ParseHeader decodes and validates the header at the start of b. Errors
// wrap api.ErrNotModuleImage.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize || !bytes.Equal(b[magicOffset:magicOffset+4], magic) {
		return Header{}, api.ErrNotModuleImage
	}
	le := binary.LittleEndian
	h := Header{
		Version: le.Uint32(b[versionOffset:]),
		Size:    le.Uint32(b[sizeOffset:]),
		Flags:   le.Uint32(b[flagsOffset:]),
		BssSize: le.Uint32(b[bssSizeOffset:]),
	}
	segs := []*Segment{&h.Text, &h.RO, &h.Data}
	for i, s := range segs {
		off := segmentsOffset + i*8
		s.Offset = le.Uint32(b[off:])
		s.Size = le.Uint32(b[off+4:])
	}
	copy(h.BuildID[:], b[buildIDOffset:buildIDOffset+buildIDSize])

	if h.Size < HeaderSize {
		return Header{}, fmt.Errorf("%w: size %#x below header", api.ErrNotModuleImage, h.Size)
	}
	if int(h.Size) > len(b) {
		return Header{}, fmt.Errorf("%w: %w: size %#x, have %#x", api.ErrNotModuleImage, ErrTruncated, h.Size, len(b))
	}
	for _, s := range segs {
		if s.end() > uint64(h.Size) {
			return Header{}, fmt.Errorf("%w: segment %#x+%#x outside image", api.ErrNotModuleImage, s.Offset, s.Size)
		}
	}
	return h, nil
}

// WorkingSize returns the page-rounded writable memory the image needs.
func (h Header) WorkingSize(pageSize int) uint64 {
	p := uint64(pageSize)
	return (uint64(h.BssSize) + p - 1) &^ (p - 1)
}

// Build assembles a valid image from segment payloads. The result is
// padded to pageSize. It is used by tests and tooling that need
// loadable fixtures.
func Build(text, ro, data []byte, bssSize uint32, pageSize int) []byte {
	raw := HeaderSize + len(text) + len(ro) + len(data)
	total := (raw + pageSize - 1) &^ (pageSize - 1)
	b := make([]byte, total)

	le := binary.LittleEndian
	copy(b[magicOffset:], magic)
	le.PutUint32(b[sizeOffset:], uint32(total))
	le.PutUint32(b[bssSizeOffset:], bssSize)

	off := HeaderSize
	for i, payload := range [][]byte{text, ro, data} {
		le.PutUint32(b[segmentsOffset+i*8:], uint32(off))
		le.PutUint32(b[segmentsOffset+i*8+4:], uint32(len(payload)))
		copy(b[off:], payload)
		off += len(payload)
	}
	return b
}
