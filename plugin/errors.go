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
)

// Reasons a candidate or a loaded plugin is dropped. Errors returned by the
// Manager wrap one of these and can be classified with errors.Is.
var (
	ErrOpen           = errors.New("plugin: open failed")
	ErrSize           = errors.New("plugin: size query failed")
	ErrRead           = errors.New("plugin: read failed")
	ErrNotModuleImage = errors.New("plugin: not a module image")
	ErrDuplicate      = errors.New("plugin: duplicate image")
	ErrAlloc          = errors.New("plugin: buffer allocation failed")
	ErrRevoke         = errors.New("plugin: revoke allow-list failed")
	ErrRegister       = errors.New("plugin: register allow-list failed")
	ErrOutOfMemory    = errors.New("plugin: not enough memory for working buffer")
	ErrLoad           = errors.New("plugin: load failed")
	ErrEntryPoint     = errors.New("plugin: entry point failed")
)

// PluginError ties a failure to the plugin path that caused it.
type PluginError struct {
	Path string
	Err  error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

func pluginErr(path string, kind error, cause error) error {
	if cause == nil {
		return &PluginError{Path: path, Err: kind}
	}
	return &PluginError{Path: path, Err: fmt.Errorf("%w: %w", kind, cause)}
}

// reason maps an error onto the metric label for it.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrOpen):
		return "open"
	case errors.Is(err, ErrSize):
		return "size"
	case errors.Is(err, ErrRead):
		return "read"
	case errors.Is(err, ErrNotModuleImage):
		return "not_module"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrAlloc):
		return "alloc"
	case errors.Is(err, ErrRevoke):
		return "revoke"
	case errors.Is(err, ErrRegister):
		return "register"
	case errors.Is(err, ErrOutOfMemory):
		return "out_of_memory"
	case errors.Is(err, ErrLoad):
		return "load"
	case errors.Is(err, ErrEntryPoint):
		return "entry"
	}
	return "other"
}
