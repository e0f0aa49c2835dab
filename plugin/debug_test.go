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
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

type DebugTestSuite struct {
	suite.Suite
}

func (s *DebugTestSuite) TestLogLevel() {
	prev := internalLogger
	defer func() { internalLogger = prev }()

	SetLogLevel(zerolog.TraceLevel)
	s.Equal(zerolog.TraceLevel, internalLogger.GetLevel())
	SetLogLevel(zerolog.ErrorLevel)
	s.Equal(zerolog.ErrorLevel, internalLogger.GetLevel())
}

func (s *DebugTestSuite) TestDefaultLevel() {
	s.T().Setenv(logLevelEnv, "")
	s.Equal(zerolog.WarnLevel, defaultLevel())
	s.T().Setenv(logLevelEnv, "debug")
	s.Equal(zerolog.DebugLevel, defaultLevel())
	s.T().Setenv(logLevelEnv, "3")
	s.Equal(zerolog.ErrorLevel, defaultLevel())
	s.T().Setenv(logLevelEnv, "loud")
	s.Equal(zerolog.WarnLevel, defaultLevel())
}

func (s *DebugTestSuite) TestLoggerOutput() {
	var buf bytes.Buffer
	l := newLogger(&buf, zerolog.InfoLevel)
	l.Debug().Msg("hidden")
	l.Info().Str("path", "a.nro").Msg("shown")
	s.NotContains(buf.String(), "hidden")
	s.Contains(buf.String(), "shown")
	s.Contains(buf.String(), "a.nro")
}

func TestDebugTestSuite(t *testing.T) {
	suite.Run(t, new(DebugTestSuite))
}
