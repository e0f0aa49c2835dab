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
	"fmt"

	"github.com/srediag/plugin-loader/api"
	"github.com/srediag/plugin-loader/pkg/allowlist"
	"github.com/srediag/plugin-loader/pkg/audit"
	"github.com/srediag/plugin-loader/pkg/lifecycle"
	"github.com/srediag/plugin-loader/pkg/shm"
)

const descriptorBufferName = "allow-list"

// registration is the allow-list currently submitted to the host loader.
// The descriptor buffer must outlive the registration.
type registration struct {
	active     bool
	token      api.RegistrationToken
	descriptor *shm.Buffer
}

// rebuildAndRegister replaces the active registration with one covering
// every accepted digest. The old registration is revoked first since the
// host loader accepts a single registration per process.
func (m *Manager) rebuildAndRegister(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "plugin.register")
	defer span.End()

	if m.reg.active {
		if err := m.revoke(ctx); err != nil {
			span.RecordError(err)
			return err
		}
	}

	digests := m.digests.Sorted()

	size := allowlist.Size(len(digests), m.cfg.PageSize)
	buf, err := m.alloc.Alloc(ctx, shm.OpenOptions{Name: descriptorBufferName, Size: size})
	if err != nil {
		m.metrics.registrations.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %w", ErrRegister, err)
	}
	if err := allowlist.Encode(buf.Bytes(), m.cfg.ProgramID, digests); err != nil {
		m.free(ctx, buf)
		m.metrics.registrations.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %w", ErrRegister, err)
	}
	tok, err := m.loader.RegisterAllowList(buf.Bytes())
	if err != nil {
		m.free(ctx, buf)
		m.metrics.registrations.WithLabelValues("failed").Inc()
		span.RecordError(err)
		return fmt.Errorf("%w: %w", ErrRegister, err)
	}

	m.reg = registration{active: true, token: tok, descriptor: buf}
	m.metrics.registrations.WithLabelValues("registered").Inc()
	m.emit(audit.Registered, nil, nil)
	for _, r := range m.records {
		if r.state == lifecycle.Validated {
			r.state = r.state.Next()
		}
	}
	m.logger.Debug().Int("digests", len(digests)).Int("size", size).
		Uint64("token", tok.ID).Msg("allow-list registered")
	return nil
}

func (m *Manager) revoke(ctx context.Context) error {
	if err := m.loader.RevokeAllowList(m.reg.token); err != nil {
		m.metrics.registrations.WithLabelValues("revoke_failed").Inc()
		return fmt.Errorf("%w: %w", ErrRevoke, err)
	}
	m.free(ctx, m.reg.descriptor)
	m.reg = registration{}
	m.metrics.registrations.WithLabelValues("revoked").Inc()
	m.emit(audit.Revoked, nil, nil)
	return nil
}
