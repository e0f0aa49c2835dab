// Package shm contains platform-specific helpers for page-aligned memory regions.
package shm

import "errors"

// ErrInvalidSize is returned for negative region sizes.
var ErrInvalidSize = errors.New("shm: invalid region size")

// MappedRegion represents a page-aligned, zero-filled memory region.
type MappedRegion struct {
	Addr []byte
	// mapped is set when Addr must be released with munmap.
	mapped bool
}

// MapOptions defines options for mapping a region.
type MapOptions struct {
	Name string
	Size int
}

// AlignUp rounds n up to the next multiple of align, which must be a power of two.
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Function implementations are provided in platform-specific files (platform_unix.go, platform_other.go).
