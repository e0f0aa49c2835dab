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
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/srediag/plugin-loader/pkg/shm"
)

const (
	defaultPluginDir   = "skyline/plugins"
	defaultEntrySymbol = "main"
	defaultHashWorkers = 4
	minPageSize        = 0x1000
)

// Config is used to configure a Manager.
type Config struct {
	// Mount is the filesystem plugins are discovered on.
	Mount fs.FS
	// PluginDir is the slash separated directory walked under Mount.
	PluginDir string
	// EntrySymbol is looked up in every loaded module and invoked once.
	EntrySymbol string
	// ProgramID is stamped into the allow-list descriptor. Zero means the
	// identity of the current process.
	ProgramID uint64
	// HashWorkers bounds concurrent reads and digests during discovery.
	HashWorkers int
	// PageSize aligns every image, working and descriptor buffer.
	PageSize int
}

// DefaultConfig is used to return a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mount:       os.DirFS("."),
		PluginDir:   defaultPluginDir,
		EntrySymbol: defaultEntrySymbol,
		HashWorkers: defaultHashWorkers,
		PageSize:    max(shm.PageSize(), minPageSize),
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("config is nil")
	}
	if config.Mount == nil {
		return errors.New("Mount must not be nil")
	}
	if !fs.ValidPath(config.PluginDir) {
		return fmt.Errorf("PluginDir %q is not a valid slash separated path", config.PluginDir)
	}
	if config.EntrySymbol == "" {
		return errors.New("EntrySymbol must not be empty")
	}
	if config.HashWorkers < 1 {
		return fmt.Errorf("HashWorkers must be at least 1, got %d", config.HashWorkers)
	}
	if config.PageSize < minPageSize || config.PageSize&(config.PageSize-1) != 0 {
		return fmt.Errorf("PageSize must be a power of two no smaller than %#x, got %#x",
			minPageSize, config.PageSize)
	}
	return nil
}
