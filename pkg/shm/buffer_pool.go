package shm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	internalshm "github.com/srediag/plugin-loader/internal/shm"
)

const instrumentationName = "github.com/srediag/plugin-loader/pkg/shm"

// Config holds allocator instrumentation.
type Config struct {
	Meter  metric.Meter
	Tracer trace.Tracer
}

// Stats is a snapshot of live allocations.
type Stats struct {
	Buffers int
	Bytes   int64
}

// Allocator hands out page-aligned buffers and tracks what is still live.
type Allocator struct {
	mu     sync.Mutex
	stats  Stats
	tracer trace.Tracer
	allocs metric.Int64Counter
	live   metric.Int64UpDownCounter
}

// NewAllocator creates an allocator. Nil instruments fall back to no-ops.
func NewAllocator(cfg Config) (*Allocator, error) {
	if cfg.Meter == nil {
		cfg.Meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	allocs, err := cfg.Meter.Int64Counter("shm.allocations",
		metric.WithDescription("Number of page-aligned buffers allocated."))
	if err != nil {
		return nil, fmt.Errorf("shm: allocations counter: %w", err)
	}
	live, err := cfg.Meter.Int64UpDownCounter("shm.live_bytes",
		metric.WithDescription("Bytes held by live buffers."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("shm: live bytes counter: %w", err)
	}
	return &Allocator{tracer: cfg.Tracer, allocs: allocs, live: live}, nil
}

// Alloc allocates a zero-filled, page-aligned buffer.
func (a *Allocator) Alloc(ctx context.Context, opts OpenOptions) (*Buffer, error) {
	if opts.Size < 0 {
		return nil, errors.New("invalid buffer size")
	}
	ctx, span := a.tracer.Start(ctx, "shm.Alloc",
		trace.WithAttributes(attribute.String("name", opts.Name), attribute.Int("size", opts.Size)))
	defer span.End()

	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: opts.Name, Size: opts.Size})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	a.allocs.Add(ctx, 1)
	a.live.Add(ctx, int64(opts.Size))

	a.mu.Lock()
	a.stats.Buffers++
	a.stats.Bytes += int64(opts.Size)
	a.mu.Unlock()
	return &Buffer{region: region, name: opts.Name}, nil
}

// Free releases b. Freeing a nil buffer is a no-op.
func (a *Allocator) Free(ctx context.Context, b *Buffer) error {
	if b == nil {
		return nil
	}
	size := b.Len()
	if err := b.release(ctx); err != nil {
		return err
	}
	a.live.Add(ctx, -int64(size))

	a.mu.Lock()
	a.stats.Buffers--
	a.stats.Bytes -= int64(size)
	a.mu.Unlock()
	return nil
}

// Stats returns the live buffer count and byte total.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
