//go:build !unix

package shm

import (
	"context"
	"unsafe"
)

const pageSize = 4096

// PageSize returns the platform page size.
func PageSize() int {
	return pageSize
}

// MapRegion carves a page-aligned window out of a heap allocation.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size < 0 {
		return nil, ErrInvalidSize
	}
	if opts.Size == 0 {
		return &MappedRegion{Addr: []byte{}}, nil
	}
	raw := make([]byte, opts.Size+pageSize)
	base := uintptr(unsafe.Pointer(&raw[0]))
	off := AlignUp(int(base), pageSize) - int(base)
	return &MappedRegion{Addr: raw[off : off+opts.Size : off+opts.Size]}, nil
}

// UnmapRegion drops the reference; the garbage collector reclaims the memory.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region != nil {
		region.Addr = nil
	}
	return nil
}
