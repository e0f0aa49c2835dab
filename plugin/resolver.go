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
	"github.com/srediag/plugin-loader/api"
)

// Range is a module address range.
type Range struct {
	Base uintptr
	Size uint64
}

// End returns Base+Size.
func (r Range) End() uintptr {
	return r.Base + uintptr(r.Size)
}

// Contains reports whether addr lies strictly between Base and End. Both
// bounds are exclusive.
func (r Range) Contains(addr uintptr) bool {
	return addr > r.Base && addr < r.End()
}

// ContainingPlugin returns the first loaded plugin whose range contains
// addr.
func (m *Manager) ContainingPlugin(addr uintptr) (api.PluginInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r := m.find(addr); r != nil {
		return r.info(), true
	}
	return api.PluginInfo{}, false
}

// PluginAddresses returns the start and end of the loaded plugin containing
// addr, or zeros when no plugin does.
func (m *Manager) PluginAddresses(addr uintptr) (start, end uintptr) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r := m.find(addr); r != nil {
		rng := r.addrRange()
		return rng.Base, rng.End()
	}
	return 0, 0
}

func (m *Manager) find(addr uintptr) *record {
	for _, r := range m.records {
		if r.loaded() && r.addrRange().Contains(addr) {
			return r
		}
	}
	return nil
}
