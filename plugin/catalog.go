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
	"io"
	"io/fs"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/plugin-loader/pkg/audit"
	"github.com/srediag/plugin-loader/pkg/lifecycle"
	"github.com/srediag/plugin-loader/pkg/shm"
)

// discover walks the plugin directory and returns every non-directory entry
// in walk order. A missing plugin directory yields no candidates.
func (m *Manager) discover(ctx context.Context) ([]string, error) {
	_, span := m.tracer.Start(ctx, "plugin.discover")
	defer span.End()

	var paths []string
	root := m.cfg.PluginDir
	err := fs.WalkDir(m.cfg.Mount, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			m.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		m.logger.Info().Str("dir", root).Msg("plugin directory does not exist")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.metrics.discovered.Add(float64(len(paths)))
	return paths, nil
}

type candidate struct {
	path string
	rec  *record
	err  error
}

// validateBatch reads and digests paths on a bounded worker pool, then
// applies dedup in discovery order so the first copy of an image wins. It
// returns the number of accepted candidates.
func (m *Manager) validateBatch(ctx context.Context, paths []string) int {
	ctx, span := m.tracer.Start(ctx, "plugin.validate")
	defer span.End()

	results := make([]candidate, len(paths))
	var wg sync.WaitGroup
	pool, err := ants.NewPool(min(m.cfg.HashWorkers, len(paths)))
	if err != nil {
		m.logger.Warn().Err(err).Msg("worker pool unavailable, validating sequentially")
	} else {
		defer pool.Release()
	}
	for i, path := range paths {
		i, path := i, path
		wg.Add(1)
		task := func() {
			defer wg.Done()
			rec, err := m.readCandidate(ctx, path)
			results[i] = candidate{path: path, rec: rec, err: err}
		}
		if pool == nil || pool.Submit(task) != nil {
			task()
		}
	}
	wg.Wait()

	accepted := 0
	for _, c := range results {
		err := c.err
		if err == nil {
			err = m.accept(ctx, c.rec)
		}
		if err != nil {
			m.reject(c.path, err)
			continue
		}
		accepted++
	}
	return accepted
}

// readCandidate runs the per-file part of validation: open, size, read,
// working size and digest. It touches no shared catalog state.
func (m *Manager) readCandidate(ctx context.Context, path string) (*record, error) {
	f, err := m.cfg.Mount.Open(path)
	if err != nil {
		return nil, pluginErr(path, ErrOpen, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, pluginErr(path, ErrSize, err)
	}
	if st.IsDir() || st.Size() < 0 {
		return nil, pluginErr(path, ErrSize, nil)
	}

	buf, err := m.alloc.Alloc(ctx, shm.OpenOptions{Name: path, Size: int(st.Size())})
	if err != nil {
		return nil, pluginErr(path, ErrAlloc, err)
	}
	if _, err := io.ReadFull(f, buf.Bytes()); err != nil {
		m.free(ctx, buf)
		return nil, pluginErr(path, ErrRead, err)
	}

	working, err := m.loader.RequiredWorkingSize(buf.Bytes())
	if err != nil {
		m.free(ctx, buf)
		return nil, pluginErr(path, ErrNotModuleImage, err)
	}

	return &record{
		path:        path,
		image:       buf,
		imageSize:   uint64(st.Size()),
		digest:      m.hasher.Sum(buf.Bytes()),
		workingSize: working,
		state:       lifecycle.Discovered,
	}, nil
}

// accept inserts rec's digest and appends it to the catalog, or frees it
// when an earlier plugin has the same content.
func (m *Manager) accept(ctx context.Context, rec *record) error {
	if owner, ok := m.digests.Insert(rec.digest, rec.path); !ok {
		m.release(ctx, rec)
		m.logger.Warn().Str("path", rec.path).Str("original", owner).
			Str("digest", rec.digest.String()).Msg("duplicate plugin image")
		return pluginErr(rec.path, ErrDuplicate, nil)
	}
	rec.state = rec.state.Next()
	m.records = append(m.records, rec)
	m.metrics.accepted.Inc()
	m.emit(audit.Accepted, rec, nil)
	m.metrics.catalogSize.Set(float64(len(m.records)))
	m.logger.Debug().Str("path", rec.path).Uint64("size", rec.imageSize).
		Uint64("working_size", rec.workingSize).Msg("plugin accepted")
	return nil
}

func (m *Manager) reject(path string, err error) {
	m.metrics.rejected.WithLabelValues(reason(err)).Inc()
	m.audit.Record(audit.NewEvent(audit.Rejected, path, "", err))
	if errors.Is(err, ErrDuplicate) {
		return
	}
	m.logger.Warn().Err(err).Str("path", path).Msg("skipping plugin")
}

// drop removes the records for which keep reports false, releasing their
// buffers and digests.
func (m *Manager) drop(ctx context.Context, keep func(*record) bool) {
	kept := make([]*record, 0, len(m.records))
	for _, r := range m.records {
		if keep(r) {
			kept = append(kept, r)
			continue
		}
		m.digests.Remove(r.digest)
		m.release(ctx, r)
		m.emit(audit.Dropped, r, nil)
	}
	m.records = kept
	m.metrics.catalogSize.Set(float64(len(m.records)))
}

func (m *Manager) release(ctx context.Context, r *record) {
	m.free(ctx, r.working)
	m.free(ctx, r.image)
	r.working, r.image = nil, nil
}

func (m *Manager) free(ctx context.Context, b *shm.Buffer) {
	if err := m.alloc.Free(ctx, b); err != nil {
		m.logger.Warn().Err(err).Str("buffer", b.Name()).Msg("failed to free buffer")
	}
}
