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

package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/plugin-loader/api"
	"github.com/srediag/plugin-loader/internal/sysinfo"
	"github.com/srediag/plugin-loader/pkg/audit"
	"github.com/srediag/plugin-loader/pkg/lifecycle"
	"github.com/srediag/plugin-loader/pkg/security"
	"github.com/srediag/plugin-loader/pkg/shm"
)

// Manager owns the plugin catalog, the active allow-list registration and
// every loaded module. Construct one per host process and share it.
type Manager struct {
	mu sync.RWMutex

	cfg     Config
	loader  api.HostLoader
	hasher  api.Hasher
	alloc   *shm.Allocator
	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics *Metrics
	audit   audit.Recorder

	records []*record
	digests *security.DigestSet
	// loadedCount is the boundary below which records already went through
	// a load pass.
	loadedCount int
	reg         registration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger replaces the package logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithMetrics sets the collectors the Manager updates.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithAllocator sets the buffer allocator.
func WithAllocator(a *shm.Allocator) Option {
	return func(m *Manager) { m.alloc = a }
}

// WithAudit sets the recorder that receives lifecycle events.
func WithAudit(r audit.Recorder) Option {
	return func(m *Manager) { m.audit = r }
}

// WithHasher replaces the SHA-256 content hasher.
func WithHasher(h api.Hasher) Option {
	return func(m *Manager) { m.hasher = h }
}

// New returns a Manager that loads plugins through loader.
func New(config *Config, loader api.HostLoader, opts ...Option) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, errors.New("plugin: host loader is nil")
	}
	m := &Manager{
		cfg:     *config,
		loader:  loader,
		hasher:  security.SHA256Hasher{},
		logger:  internalLogger,
		tracer:  noop.NewTracerProvider().Tracer("plugin"),
		audit:   audit.Nop{},
		digests: security.NewDigestSet(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	if m.alloc == nil {
		a, err := shm.NewAllocator(shm.Config{Tracer: m.tracer})
		if err != nil {
			return nil, fmt.Errorf("plugin: create allocator: %w", err)
		}
		m.alloc = a
	}
	if m.cfg.ProgramID == 0 {
		id, err := sysinfo.ProgramID()
		if err != nil {
			return nil, fmt.Errorf("plugin: resolve program id: %w", err)
		}
		m.cfg.ProgramID = id
	}
	m.logger = m.logger.With().Str("component", "plugin").Logger()
	return m, nil
}

// LoadPlugins discovers every file under the plugin directory, validates
// them and loads the accepted ones. Rejected candidates are logged and
// counted only; a nil error means every accepted plugin was loaded and its
// entry point returned.
func (m *Manager) LoadPlugins(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "plugin.LoadPlugins")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	paths, err := m.discover(ctx)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		m.logger.Info().Str("dir", m.cfg.PluginDir).Msg("no plugin to load")
	} else {
		accepted := m.validateBatch(ctx, paths)
		m.logger.Info().Int("discovered", len(paths)).Int("accepted", accepted).Msg("plugin discovery done")
	}
	// plugins added since the last pass are pending even when discovery
	// accepted nothing new
	return m.loadPending(ctx)
}

// AddPlugin validates one late-arriving plugin. A nil error means it was
// accepted; it is loaded by the next LoadPluginModules call.
func (m *Manager) AddPlugin(ctx context.Context, path string) error {
	ctx, span := m.tracer.Start(ctx, "plugin.AddPlugin")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.discovered.Inc()
	rec, err := m.readCandidate(ctx, path)
	if err == nil {
		err = m.accept(ctx, rec)
	}
	if err != nil {
		m.reject(path, err)
		return err
	}
	return nil
}

// LoadPluginModules registers the accepted set and loads every plugin that
// has not been through a load pass yet. Plugins already running are never
// loaded or started again.
func (m *Manager) LoadPluginModules(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "plugin.LoadPluginModules")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadPending(ctx)
}

// Plugins returns a snapshot of the catalog in acceptance order.
func (m *Manager) Plugins() []api.PluginInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]api.PluginInfo, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.info())
	}
	return out
}

// Len returns the number of accepted plugins.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Registered reports whether an allow-list registration is active.
func (m *Manager) Registered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg.active
}

// LivenessCheck fails when the catalog and the digest set disagree.
func (m *Manager) LivenessCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n := m.digests.Len(); n != len(m.records) {
		return fmt.Errorf("plugin: %d digests tracked for %d plugins", n, len(m.records))
	}
	if m.loadedCount > len(m.records) {
		return fmt.Errorf("plugin: load boundary %d past catalog end %d", m.loadedCount, len(m.records))
	}
	return nil
}

// ReadinessCheck fails while accepted plugins are waiting for a load pass.
func (m *Manager) ReadinessCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pending := len(m.records) - m.loadedCount; pending > 0 {
		return fmt.Errorf("plugin: %d plugins pending load", pending)
	}
	return nil
}

// Close revokes the active registration and releases every buffer. Loaded
// modules stay mapped; the Manager must not be used afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.reg.active {
		if err := m.revoke(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range m.records {
		if r.state < lifecycle.Loaded {
			m.release(ctx, r)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) emit(kind audit.Kind, r *record, err error) {
	var path, digest string
	if r != nil {
		path, digest = r.path, r.digest.String()
	}
	m.audit.Record(audit.NewEvent(kind, path, digest, err))
}

var _ api.Health = (*Manager)(nil)
