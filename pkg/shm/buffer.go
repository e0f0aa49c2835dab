// Package shm provides page-aligned, exclusively owned memory buffers for module
// images, working memory and allow-list descriptors.
//
// This package is instrumented with OpenTelemetry metrics and tracing (OTel Go API v1.30.0).
//
// Platform-specific helpers are in internal/shm.
package shm

import (
	"context"
	"errors"
	"unsafe"

	internalshm "github.com/srediag/plugin-loader/internal/shm"
)

// ErrReleased is returned when a buffer is used after Free.
var ErrReleased = errors.New("shm: buffer released")

// Buffer is a page-aligned region owned by exactly one holder.
type Buffer struct {
	region *internalshm.MappedRegion
	name   string
}

// OpenOptions defines options for allocating a buffer.
type OpenOptions struct {
	// Name identifies the buffer in logs and traces.
	Name string
	// Size is the usable size in bytes.
	Size int
}

// Bytes returns the buffer contents, or nil after Free.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.region == nil {
		return nil
	}
	return b.region.Addr
}

// Len returns the usable size in bytes.
func (b *Buffer) Len() int {
	return len(b.Bytes())
}

// Name returns the name given at allocation.
func (b *Buffer) Name() string {
	return b.name
}

// Addr returns the address of the first byte, or 0 for empty buffers.
func (b *Buffer) Addr() uintptr {
	data := b.Bytes()
	if len(data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&data[0]))
}

func (b *Buffer) release(ctx context.Context) error {
	if b.region == nil {
		return ErrReleased
	}
	err := internalshm.UnmapRegion(ctx, b.region)
	b.region = nil
	return err
}

// PageSize returns the platform page size used for alignment.
func PageSize() int {
	return internalshm.PageSize()
}

// AlignUp rounds n up to a multiple of align (a power of two).
func AlignUp(n, align int) int {
	return internalshm.AlignUp(n, align)
}
