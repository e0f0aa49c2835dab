//go:build unix

package shm

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

var pageSize = unix.Getpagesize()

// PageSize returns the platform page size.
func PageSize() int {
	return pageSize
}

// MapRegion maps an anonymous private region. mmap returns page-aligned,
// zero-filled memory, so no explicit clearing is needed.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size < 0 {
		return nil, ErrInvalidSize
	}
	if opts.Size == 0 {
		return &MappedRegion{Addr: []byte{}}, nil
	}
	addr, err := unix.Mmap(-1, 0, AlignUp(opts.Size, pageSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", opts.Name, err)
	}
	return &MappedRegion{
		Addr:   addr[:opts.Size],
		mapped: true,
	}, nil
}

// UnmapRegion releases a region returned by MapRegion.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || !region.mapped {
		return nil
	}
	if err := unix.Munmap(region.Addr[:cap(region.Addr)]); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	region.mapped = false
	return nil
}
