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

	"github.com/srediag/plugin-loader/api"
	"github.com/srediag/plugin-loader/internal/sysinfo"
	"github.com/srediag/plugin-loader/pkg/audit"
	"github.com/srediag/plugin-loader/pkg/shm"
)

// loadPending registers the accepted set, then loads and starts every
// record past the load boundary. Per-plugin failures are joined into the
// result without stopping the other plugins.
func (m *Manager) loadPending(ctx context.Context) error {
	start := m.loadedCount
	if start >= len(m.records) {
		m.logger.Debug().Msg("no pending plugins")
		return nil
	}

	if err := m.rebuildAndRegister(ctx); err != nil {
		m.logger.Error().Err(err).Int("pending", len(m.records)-start).
			Msg("allow-list registration failed, dropping pending plugins")
		m.truncate(ctx, start, err)
		return err
	}

	ctx, span := m.tracer.Start(ctx, "plugin.load")
	defer span.End()

	var errs []error
	for _, r := range m.records[start:] {
		if err := m.loadOne(ctx, r); err != nil {
			m.metrics.loads.WithLabelValues("failed").Inc()
			m.metrics.rejected.WithLabelValues(reason(err)).Inc()
			m.logger.Error().Err(err).Str("path", r.path).Msg("failed to load plugin")
			m.emit(audit.Failed, r, err)
			errs = append(errs, err)
			continue
		}
		m.metrics.loads.WithLabelValues("loaded").Inc()
		m.emit(audit.Loaded, r, nil)
		m.logger.Debug().Str("path", r.path).Str("base", fmt.Sprintf("%#x", r.handle.Base)).
			Msg("plugin loaded")
	}
	if len(errs) > 0 {
		m.drop(ctx, (*record).loaded)
	}

	for _, r := range m.records[start:] {
		if err := m.start(r); err != nil {
			m.logger.Error().Err(err).Str("path", r.path).Str("symbol", m.cfg.EntrySymbol).
				Msg("failed to run entry point")
			m.emit(audit.Failed, r, err)
			errs = append(errs, err)
		}
	}
	m.loadedCount = len(m.records)
	return errors.Join(errs...)
}

func (m *Manager) loadOne(ctx context.Context, r *record) error {
	if !sysinfo.CanAllocate(r.workingSize) {
		return pluginErr(r.path, ErrOutOfMemory, nil)
	}
	working, err := m.alloc.Alloc(ctx, shm.OpenOptions{Name: r.path + ":working", Size: int(r.workingSize)})
	if err != nil {
		return pluginErr(r.path, ErrAlloc, err)
	}
	r.working = working
	h, err := m.loader.LoadAndBind(r.image.Bytes(), working.Bytes(), api.BindNow)
	if err != nil {
		return pluginErr(r.path, ErrLoad, err)
	}
	r.handle = h
	r.state = r.state.Next()
	return nil
}

func (m *Manager) start(r *record) error {
	fn, err := m.loader.LookupSymbol(r.handle, m.cfg.EntrySymbol)
	if err == nil && fn == nil {
		err = api.ErrSymbolNotFound
	}
	if err != nil {
		m.metrics.entries.WithLabelValues("missing").Inc()
		return pluginErr(r.path, ErrEntryPoint, err)
	}
	if err := runEntry(fn); err != nil {
		m.metrics.entries.WithLabelValues("panic").Inc()
		return pluginErr(r.path, ErrEntryPoint, err)
	}
	r.state = r.state.Next()
	m.metrics.entries.WithLabelValues("ok").Inc()
	m.metrics.running.Inc()
	m.emit(audit.Started, r, nil)
	m.logger.Info().Str("path", r.path).Msg("finished running entry point")
	return nil
}

func runEntry(fn api.EntryFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	fn()
	return nil
}

// truncate drops every record from index start onwards.
func (m *Manager) truncate(ctx context.Context, start int, cause error) {
	for _, r := range m.records[start:] {
		m.digests.Remove(r.digest)
		m.release(ctx, r)
		m.metrics.rejected.WithLabelValues(reason(cause)).Inc()
		m.emit(audit.Dropped, r, cause)
	}
	clear(m.records[start:])
	m.records = m.records[:start]
	m.metrics.catalogSize.Set(float64(len(m.records)))
}
