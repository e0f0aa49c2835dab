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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.discovered.Add(3)
	m.rejected.WithLabelValues("duplicate").Inc()
	m.catalogSize.Set(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}
	require.Contains(t, byName, "plugin_loader_discovered_total")
	assert.Equal(t, dto.MetricType_COUNTER, byName["plugin_loader_discovered_total"].GetType())
	assert.Equal(t, 3.0, counterValue(m.discovered))

	rejected := byName["plugin_loader_rejected_total"].GetMetric()
	require.Len(t, rejected, 1)
	assert.Equal(t, "reason", rejected[0].GetLabel()[0].GetName())
	assert.Equal(t, "duplicate", rejected[0].GetLabel()[0].GetValue())
	assert.Equal(t, 2.0, byName["plugin_loader_catalog_size"].GetMetric()[0].GetGauge().GetValue())
}

func TestMetricsUnregistered(t *testing.T) {
	m := NewMetrics(nil)
	m.accepted.Inc()
	assert.Equal(t, 1.0, counterValue(m.accepted))
	// a second set must not collide with the first
	assert.NotPanics(t, func() { NewMetrics(nil) })
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}
