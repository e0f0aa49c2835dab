/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package allowlist encodes and decodes the allow-list descriptor a host
// loader consults before loading a module image.
//
// Layout (little endian):
//
//	0x00 magic        u32  "NRR0"
//	0x04 reserved     u32
//	0x08 program id   u64
//	0x10 size         u32  total descriptor size, page aligned
//	0x14 type         u8   always 0, followed by 3 reserved bytes
//	0x18 table offset u32
//	0x1C digest count u32
//	0x20 digests      [count][32]byte, strictly ascending
package allowlist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/srediag/plugin-loader/api"
)

const (
	// Magic is "NRR0" read as a little-endian u32.
	Magic uint32 = 0x3052524E

	HeaderSize = 0x20

	magicOffset       = 0x00
	programIDOffset   = 0x08
	sizeOffset        = 0x10
	typeOffset        = 0x14
	tableOffsetOffset = 0x18
	countOffset       = 0x1C
)

var (
	ErrShortBuffer  = errors.New("allowlist: buffer too small")
	ErrBadMagic     = errors.New("allowlist: bad magic")
	ErrBadSize      = errors.New("allowlist: size field does not match buffer")
	ErrBadTable     = errors.New("allowlist: digest table out of bounds")
	ErrNotAscending = errors.New("allowlist: digests not strictly ascending")
)

// Size returns the descriptor size for n digests rounded up to pageSize.
func Size(n, pageSize int) int {
	raw := HeaderSize + n*api.DigestSize
	return (raw + pageSize - 1) &^ (pageSize - 1)
}

// Encode writes a descriptor for digests into dst. dst must be zero-filled
// by the caller or is cleared here; its length becomes the size field.
func Encode(dst []byte, programID uint64, digests []api.Digest) error {
	if len(dst) < HeaderSize+len(digests)*api.DigestSize {
		return ErrShortBuffer
	}
	for i := 1; i < len(digests); i++ {
		if digests[i-1].Compare(digests[i]) >= 0 {
			return fmt.Errorf("%w: index %d", ErrNotAscending, i)
		}
	}
	clear(dst)

	le := binary.LittleEndian
	le.PutUint32(dst[magicOffset:], Magic)
	le.PutUint64(dst[programIDOffset:], programID)
	le.PutUint32(dst[sizeOffset:], uint32(len(dst)))
	dst[typeOffset] = 0
	le.PutUint32(dst[tableOffsetOffset:], HeaderSize)
	le.PutUint32(dst[countOffset:], uint32(len(digests)))

	table := dst[HeaderSize:]
	for i, d := range digests {
		copy(table[i*api.DigestSize:], d[:])
	}
	return nil
}

// Header is the decoded fixed header.
type Header struct {
	Magic       uint32
	ProgramID   uint64
	Size        uint32
	Type        uint8
	TableOffset uint32
	Count       uint32
}

// View is a validated, read-only descriptor. It aliases the parsed buffer.
type View struct {
	Header
	table []byte
}

// Parse validates buf and returns a view over it.
func Parse(buf []byte) (*View, error) {
	if len(buf) < HeaderSize {
		return nil, ErrShortBuffer
	}
	le := binary.LittleEndian
	h := Header{
		Magic:       le.Uint32(buf[magicOffset:]),
		ProgramID:   le.Uint64(buf[programIDOffset:]),
		Size:        le.Uint32(buf[sizeOffset:]),
		Type:        buf[typeOffset],
		TableOffset: le.Uint32(buf[tableOffsetOffset:]),
		Count:       le.Uint32(buf[countOffset:]),
	}
	if h.Magic != Magic {
		return nil, ErrBadMagic
	}
	if int(h.Size) != len(buf) {
		return nil, ErrBadSize
	}
	end := uint64(h.TableOffset) + uint64(h.Count)*api.DigestSize
	if h.TableOffset < HeaderSize || end > uint64(len(buf)) {
		return nil, ErrBadTable
	}
	v := &View{Header: h, table: buf[h.TableOffset:end]}
	for i := 1; i < v.Len(); i++ {
		if v.Digest(i-1).Compare(v.Digest(i)) >= 0 {
			return nil, fmt.Errorf("%w: index %d", ErrNotAscending, i)
		}
	}
	return v, nil
}

// Len returns the number of digests.
func (v *View) Len() int {
	return int(v.Count)
}

// Digest returns the i-th digest.
func (v *View) Digest(i int) api.Digest {
	var d api.Digest
	copy(d[:], v.table[i*api.DigestSize:])
	return d
}

// Digests returns a copy of the digest table.
func (v *View) Digests() []api.Digest {
	out := make([]api.Digest, v.Len())
	for i := range out {
		out[i] = v.Digest(i)
	}
	return out
}

// Contains reports whether d is listed, using binary search over the
// ascending table.
func (v *View) Contains(d api.Digest) bool {
	n := v.Len()
	i := sort.Search(n, func(i int) bool { return v.Digest(i).Compare(d) >= 0 })
	return i < n && v.Digest(i) == d
}
