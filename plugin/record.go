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
	"github.com/srediag/plugin-loader/pkg/lifecycle"
	"github.com/srediag/plugin-loader/pkg/shm"
)

// record is the catalog entry for one accepted plugin. The image buffer
// lives as long as the record; the working buffer exists once loading
// starts.
type record struct {
	path        string
	image       *shm.Buffer
	imageSize   uint64
	digest      api.Digest
	workingSize uint64
	working     *shm.Buffer
	handle      api.ModuleHandle
	state       lifecycle.State
}

func (r *record) loaded() bool {
	return r.state >= lifecycle.Loaded
}

// addrRange is the module's address range, valid once loaded. The extent is
// the image size, not the handle size, so lookups match what was read from
// disk.
func (r *record) addrRange() Range {
	return Range{Base: r.handle.Base, Size: r.imageSize}
}

func (r *record) info() api.PluginInfo {
	info := api.PluginInfo{
		Path:        r.path,
		Digest:      r.digest,
		ImageSize:   r.imageSize,
		WorkingSize: r.workingSize,
		State:       r.state,
	}
	if r.loaded() {
		info.Base = r.handle.Base
	}
	return info
}
