/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
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
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

const logLevelEnv = "PLUGIN_LOG_LEVEL"

var internalLogger = newLogger(os.Stderr, defaultLevel())

// defaultLevel reads PLUGIN_LOG_LEVEL, either a level name ("debug") or the
// numeric zerolog level. The default is warn.
func defaultLevel() zerolog.Level {
	v := os.Getenv(logLevelEnv)
	if v == "" {
		return zerolog.WarnLevel
	}
	if l, err := zerolog.ParseLevel(v); err == nil {
		return l
	}
	if n, err := strconv.Atoi(v); err == nil && n >= int(zerolog.TraceLevel) && n <= int(zerolog.Disabled) {
		return zerolog.Level(n)
	}
	return zerolog.WarnLevel
}

func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	w := zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.999999"}
	return zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
}

// SetLogLevel changes the package logger's level. The default level is warn
// and can also be set with the PLUGIN_LOG_LEVEL environment variable.
// Managers constructed before the call keep their level.
func SetLogLevel(l zerolog.Level) {
	internalLogger = internalLogger.Level(l)
}

// DebugCatalogDetail prints one line per plugin held by m.
func DebugCatalogDetail(w io.Writer, m *Manager) {
	plugins := m.Plugins()
	fmt.Fprintf(w, "plugins:%d registered:%t\n", len(plugins), m.Registered())
	for _, p := range plugins {
		fmt.Fprintf(w, "path:%s state:%s digest:%s size:%#x working:%#x base:%#x\n",
			p.Path, p.State, p.Digest, p.ImageSize, p.WorkingSize, p.Base)
	}
}
