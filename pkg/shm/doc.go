// Package shm provides page-aligned, exclusively owned memory buffers.
//
// Module images and working memory handed to a host loader must start on a
// page boundary. The Allocator maps anonymous regions for them and keeps a
// count of what is still live, instrumented with OpenTelemetry metrics and
// tracing (OTel Go API v1.30.0).
//
// Example usage:
//
//	alloc, err := shm.NewAllocator(shm.Config{Meter: myMeter, Tracer: myTracer})
//	// ...
//	buf, err := alloc.Alloc(ctx, shm.OpenOptions{Name: "image", Size: 8192})
//	// ...
//	defer alloc.Free(ctx, buf)
package shm
