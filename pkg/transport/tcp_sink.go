// Package transport ships diagnostic lines to a remote collector.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/srediag/plugin-loader/api"
)

const (
	defaultQueueLimit  = 4096
	defaultBatchSize   = 64
	defaultDialTimeout = 2 * time.Second
	defaultDialRetries = 5
)

// TCPSink forwards lines to a TCP endpoint on a background goroutine.
// Send and Write never block on the network and never fail: lines are
// dropped when the queue is full or the endpoint stays unreachable.
type TCPSink struct {
	addr       string
	limit      int64
	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	newBackOff func() backoff.BackOff
	logger     zerolog.Logger

	q       *queue.Queue
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// SinkOption configures a TCPSink.
type SinkOption func(*TCPSink)

// WithQueueLimit bounds the number of queued lines.
func WithQueueLimit(n int) SinkOption {
	return func(s *TCPSink) { s.limit = int64(n) }
}

// WithBackOff sets the redial policy. It is called once per reconnect.
func WithBackOff(fn func() backoff.BackOff) SinkOption {
	return func(s *TCPSink) { s.newBackOff = fn }
}

// WithSinkLogger sets where the sink reports its own connection problems.
// It must not write back into the sink.
func WithSinkLogger(l zerolog.Logger) SinkOption {
	return func(s *TCPSink) { s.logger = l }
}

// NewTCPSink returns a sink for addr. Call Start to begin sending.
func NewTCPSink(addr string, opts ...SinkOption) *TCPSink {
	d := &net.Dialer{Timeout: defaultDialTimeout}
	s := &TCPSink{
		addr:   addr,
		limit:  defaultQueueLimit,
		dial:   d.DialContext,
		logger: zerolog.Nop(),
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), defaultDialRetries)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.q = queue.New(s.limit)
	return s
}

// Start launches the sender goroutine.
func (s *TCPSink) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("transport: sink already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop discards queued lines and waits for the sender to exit.
func (s *TCPSink) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if pending := s.q.Dispose(); len(pending) > 0 {
		s.dropped.Add(uint64(len(pending)))
	}
	s.wg.Wait()
	return nil
}

// Send queues a copy of line.
func (s *TCPSink) Send(line []byte) error {
	if s.q.Len() >= s.limit {
		s.dropped.Add(1)
		return nil
	}
	if err := s.q.Put(append([]byte(nil), line...)); err != nil {
		s.dropped.Add(1)
	}
	return nil
}

// Write implements io.Writer so the sink can back a zerolog logger.
func (s *TCPSink) Write(p []byte) (int, error) {
	_ = s.Send(p)
	return len(p), nil
}

// Sent returns the number of lines written to the endpoint.
func (s *TCPSink) Sent() uint64 {
	return s.sent.Load()
}

// Dropped returns the number of lines that were discarded.
func (s *TCPSink) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *TCPSink) run(ctx context.Context) {
	defer s.wg.Done()
	var conn net.Conn
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for {
		items, err := s.q.Get(defaultBatchSize)
		if err != nil {
			return
		}
		for _, item := range items {
			line := item.([]byte)
			if conn == nil {
				if conn, err = s.connect(ctx); err != nil {
					s.dropped.Add(1)
					continue
				}
			}
			if _, err := conn.Write(line); err != nil {
				s.logger.Debug().Err(err).Str("addr", s.addr).Msg("log sink write failed")
				_ = conn.Close()
				conn = nil
				s.dropped.Add(1)
				continue
			}
			s.sent.Add(1)
		}
	}
}

func (s *TCPSink) connect(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	op := func() error {
		c, err := s.dial(ctx, "tcp", s.addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		s.logger.Warn().Err(err).Str("addr", s.addr).Msg("log sink unreachable")
		return nil, err
	}
	return conn, nil
}

var _ api.LogSink = (*TCPSink)(nil)
