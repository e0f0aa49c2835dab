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
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"testing/fstest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"pgregory.net/rapid"

	"github.com/srediag/plugin-loader/adapter"
	"github.com/srediag/plugin-loader/api"
	"github.com/srediag/plugin-loader/pkg/audit"
	"github.com/srediag/plugin-loader/pkg/image"
	"github.com/srediag/plugin-loader/pkg/lifecycle"
	"github.com/srediag/plugin-loader/pkg/security"
	"github.com/srediag/plugin-loader/pkg/shm"
)

const (
	testProgramID = 0x01006a800016e000
	testPageSize  = 0x1000
	testDir       = "skyline/plugins"
)

func testImage(tag string) []byte {
	return image.Build([]byte("text:"+tag), []byte("rodata"), []byte("data"), 0x1800, testPageSize)
}

func testConfig(fsys fstest.MapFS) *Config {
	cfg := DefaultConfig()
	cfg.Mount = fsys
	cfg.ProgramID = testProgramID
	cfg.PageSize = testPageSize
	return cfg
}

type ManagerTestSuite struct {
	suite.Suite
	ctx     context.Context
	fsys    fstest.MapFS
	loader  *adapter.MemoryLoader
	metrics *Metrics
	alloc   *shm.Allocator
	calls   map[string]int
	trail   *audit.Trail
}

func (s *ManagerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.fsys = fstest.MapFS{}
	s.loader = adapter.NewMemoryLoader(testProgramID)
	s.metrics = NewMetrics(prometheus.NewRegistry())
	alloc, err := shm.NewAllocator(shm.Config{})
	s.Require().NoError(err)
	s.alloc = alloc
	s.calls = make(map[string]int)
	s.trail = audit.NewTrail(64)
}

func (s *ManagerTestSuite) newManager() *Manager {
	m, err := New(testConfig(s.fsys), s.loader,
		WithLogger(zerolog.Nop()),
		WithMetrics(s.metrics),
		WithAllocator(s.alloc),
		WithAudit(s.trail))
	s.Require().NoError(err)
	return m
}

// addPlugin places an image under the plugin directory. With entry set, the
// image exports an entry point that counts its calls.
func (s *ManagerTestSuite) addPlugin(name, tag string, entry bool) []byte {
	img := testImage(tag)
	s.fsys[testDir+"/"+name] = &fstest.MapFile{Data: img}
	if entry {
		s.loader.Export(img, defaultEntrySymbol, func() { s.calls[name]++ })
	}
	return img
}

func (s *ManagerTestSuite) paths(m *Manager) []string {
	var out []string
	for _, p := range m.Plugins() {
		out = append(out, p.Path)
	}
	return out
}

func (s *ManagerTestSuite) TestLoadPluginsRunsEntryPoints() {
	s.addPlugin("a.nro", "a", true)
	s.addPlugin("b.nro", "b", true)
	m := s.newManager()

	s.Require().NoError(m.LoadPlugins(s.ctx))
	s.Equal(map[string]int{"a.nro": 1, "b.nro": 1}, s.calls)
	s.Equal([]string{testDir + "/a.nro", testDir + "/b.nro"}, s.paths(m))
	for _, p := range m.Plugins() {
		s.Equal(lifecycle.Running, p.State)
		s.NotZero(p.Base)
		s.Equal(uint64(testPageSize), p.ImageSize)
		s.Equal(uint64(0x2000), p.WorkingSize)
	}
	s.True(m.Registered())
	s.Equal(1, s.loader.Stats().Registrations)
	s.NoError(m.LivenessCheck())
	s.NoError(m.ReadinessCheck())
	s.Equal(2.0, testutil.ToFloat64(s.metrics.running))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.accepted))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.catalogSize))
}

func (s *ManagerTestSuite) TestLoadPendingIsIdempotent() {
	s.addPlugin("a.nro", "a", true)
	m := s.newManager()
	s.Require().NoError(m.LoadPlugins(s.ctx))

	s.Require().NoError(m.LoadPluginModules(s.ctx))
	s.Require().NoError(m.LoadPluginModules(s.ctx))
	s.Equal(1, s.calls["a.nro"])
	s.Equal(1, s.loader.Stats().Loads)
	s.Equal(1, s.loader.Stats().Registrations)
}

func (s *ManagerTestSuite) TestDuplicateFirstSeenWins() {
	img := s.addPlugin("a.nro", "same", true)
	s.fsys[testDir+"/b.nro"] = &fstest.MapFile{Data: img}
	m := s.newManager()

	s.Require().NoError(m.LoadPlugins(s.ctx))
	s.Equal([]string{testDir + "/a.nro"}, s.paths(m))
	s.Equal(1, s.calls["a.nro"])
	s.Equal(1.0, testutil.ToFloat64(s.metrics.rejected.WithLabelValues("duplicate")))
	s.NoError(m.LivenessCheck())
}

func (s *ManagerTestSuite) TestRejectsNonModuleImages() {
	s.addPlugin("a.nro", "a", true)
	s.fsys[testDir+"/readme.txt"] = &fstest.MapFile{Data: []byte("not a module")}
	s.fsys[testDir+"/empty"] = &fstest.MapFile{}
	m := s.newManager()

	s.Require().NoError(m.LoadPlugins(s.ctx))
	s.Equal([]string{testDir + "/a.nro"}, s.paths(m))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.rejected.WithLabelValues("not_module")))
	s.Equal(3.0, testutil.ToFloat64(s.metrics.discovered))
	// image and working buffers of a.nro plus the descriptor
	s.Equal(3, s.alloc.Stats().Buffers)
}

func (s *ManagerTestSuite) TestWalksSubdirectories() {
	s.addPlugin("nested/deep/c.nro", "c", true)
	s.addPlugin("a.nro", "a", true)
	s.fsys["skyline/other.nro"] = &fstest.MapFile{Data: testImage("outside")}
	m := s.newManager()

	s.Require().NoError(m.LoadPlugins(s.ctx))
	s.Equal([]string{testDir + "/a.nro", testDir + "/nested/deep/c.nro"}, s.paths(m))
	s.Equal(1, s.calls["nested/deep/c.nro"])
}

func (s *ManagerTestSuite) TestMissingPluginDirectory() {
	m := s.newManager()
	s.Require().NoError(m.LoadPlugins(s.ctx))
	s.Zero(m.Len())
	s.False(m.Registered())
	s.Zero(s.loader.Stats().Registrations)
}

func (s *ManagerTestSuite) TestAddPluginIncremental() {
	s.addPlugin("a.nro", "a", true)
	m := s.newManager()
	s.Require().NoError(m.LoadPlugins(s.ctx))

	s.addPlugin("late.nro", "late", true)
	s.Require().NoError(m.AddPlugin(s.ctx, testDir+"/late.nro"))
	s.Error(m.ReadinessCheck())
	s.Equal(lifecycle.Validated, m.Plugins()[1].State)

	s.Require().NoError(m.LoadPluginModules(s.ctx))
	s.NoError(m.ReadinessCheck())
	s.Equal(map[string]int{"a.nro": 1, "late.nro": 1}, s.calls)

	st := s.loader.Stats()
	s.Equal(2, st.Registrations)
	s.Equal(1, st.Revocations)
	s.Equal(2, st.Loads)

	registered := s.loader.RegisteredDigests()
	s.Len(registered, 2)
	s.True(slices.IsSortedFunc(registered, api.Digest.Compare))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.registrations.WithLabelValues("revoked")))
}

func (s *ManagerTestSuite) TestLoadPluginsLoadsLateAdditions() {
	s.addPlugin("a.nro", "a", true)
	m := s.newManager()
	s.Require().NoError(m.LoadPlugins(s.ctx))

	s.addPlugin("late.nro", "late", true)
	s.Require().NoError(m.AddPlugin(s.ctx, testDir+"/late.nro"))

	// rediscovery only finds images already in the catalog
	s.Require().NoError(m.LoadPlugins(s.ctx))
	s.Equal(map[string]int{"a.nro": 1, "late.nro": 1}, s.calls)
	s.NoError(m.ReadinessCheck())
	s.Equal(lifecycle.Running, m.Plugins()[1].State)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.rejected.WithLabelValues("duplicate")))
}

func (s *ManagerTestSuite) TestLoadPluginsWithEmptyDirectoryLoadsAdded() {
	img := testImage("extra")
	s.fsys["extra/x.nro"] = &fstest.MapFile{Data: img}
	s.loader.Export(img, defaultEntrySymbol, func() { s.calls["x.nro"]++ })
	m := s.newManager()

	s.Require().NoError(m.AddPlugin(s.ctx, "extra/x.nro"))
	s.Require().NoError(m.LoadPlugins(s.ctx))
	s.Equal(1, s.calls["x.nro"])
	s.True(m.Registered())
	s.NoError(m.ReadinessCheck())
}

func (s *ManagerTestSuite) TestAddPluginRejections() {
	img := s.addPlugin("a.nro", "a", true)
	m := s.newManager()
	s.Require().NoError(m.LoadPlugins(s.ctx))

	s.fsys["copy.nro"] = &fstest.MapFile{Data: img}
	err := m.AddPlugin(s.ctx, "copy.nro")
	s.ErrorIs(err, ErrDuplicate)
	var perr *PluginError
	s.Require().ErrorAs(err, &perr)
	s.Equal("copy.nro", perr.Path)

	s.ErrorIs(m.AddPlugin(s.ctx, "missing.nro"), ErrOpen)

	s.fsys["bad.nro"] = &fstest.MapFile{Data: []byte("garbage")}
	err = m.AddPlugin(s.ctx, "bad.nro")
	s.ErrorIs(err, ErrNotModuleImage)
	s.ErrorIs(err, api.ErrNotModuleImage)
	s.Equal(1, m.Len())
}

func (s *ManagerTestSuite) TestRegistrationFailureDropsBatch() {
	s.addPlugin("a.nro", "a", true)
	s.addPlugin("b.nro", "b", true)
	boom := errors.New("register rejected")
	s.loader.InjectFault(adapter.OpRegister, boom)
	m := s.newManager()

	err := m.LoadPlugins(s.ctx)
	s.ErrorIs(err, ErrRegister)
	s.ErrorIs(err, boom)
	s.Zero(m.Len())
	s.Empty(s.calls)
	s.False(m.Registered())
	s.NoError(m.LivenessCheck())
	s.Zero(s.alloc.Stats().Buffers)

	// the digests were released, so the same files are accepted again
	s.Require().NoError(m.LoadPlugins(s.ctx))
	s.Equal(map[string]int{"a.nro": 1, "b.nro": 1}, s.calls)
}

func (s *ManagerTestSuite) TestRevokeFailureKeepsRunningPlugins() {
	s.addPlugin("a.nro", "a", true)
	m := s.newManager()
	s.Require().NoError(m.LoadPlugins(s.ctx))

	s.addPlugin("b.nro", "b", true)
	s.Require().NoError(m.AddPlugin(s.ctx, testDir+"/b.nro"))
	s.loader.InjectFault(adapter.OpRevoke, errors.New("revoke rejected"))

	s.ErrorIs(m.LoadPluginModules(s.ctx), ErrRevoke)
	s.Equal([]string{testDir + "/a.nro"}, s.paths(m))
	s.Equal(lifecycle.Running, m.Plugins()[0].State)
	s.Zero(s.calls["b.nro"])
	s.True(m.Registered())
	s.NoError(m.ReadinessCheck())
}

func (s *ManagerTestSuite) TestLoadFailureDropsOnlyThatPlugin() {
	s.addPlugin("a.nro", "a", true)
	s.addPlugin("b.nro", "b", true)
	s.loader.InjectFault(adapter.OpLoad, errors.New("bind failed"))
	m := s.newManager()

	err := m.LoadPlugins(s.ctx)
	s.ErrorIs(err, ErrLoad)
	s.Equal([]string{testDir + "/b.nro"}, s.paths(m))
	s.Equal(map[string]int{"b.nro": 1}, s.calls)
	s.NoError(m.LivenessCheck())

	s.Require().NoError(m.AddPlugin(s.ctx, testDir+"/a.nro"))
	s.Require().NoError(m.LoadPluginModules(s.ctx))
	s.Equal(map[string]int{"a.nro": 1, "b.nro": 1}, s.calls)
}

func (s *ManagerTestSuite) TestMissingEntryPointDoesNotBlockOthers() {
	s.addPlugin("a.nro", "a", false)
	s.addPlugin("b.nro", "b", true)
	m := s.newManager()

	err := m.LoadPlugins(s.ctx)
	s.ErrorIs(err, ErrEntryPoint)
	s.ErrorIs(err, api.ErrSymbolNotFound)
	s.Equal(1, s.calls["b.nro"])

	plugins := m.Plugins()
	s.Require().Len(plugins, 2)
	s.Equal(lifecycle.Loaded, plugins[0].State)
	s.Equal(lifecycle.Running, plugins[1].State)

	// the boundary moved past both, so nothing runs again
	s.NoError(m.LoadPluginModules(s.ctx))
	s.Equal(1, s.calls["b.nro"])
}

func (s *ManagerTestSuite) TestEntryPanicIsRecovered() {
	img := s.addPlugin("a.nro", "a", false)
	s.loader.Export(img, defaultEntrySymbol, func() { panic("plugin crashed") })
	s.addPlugin("b.nro", "b", true)
	m := s.newManager()

	err := m.LoadPlugins(s.ctx)
	s.ErrorIs(err, ErrEntryPoint)
	s.ErrorContains(err, "plugin crashed")
	s.Equal(1, s.calls["b.nro"])
	s.Equal(1.0, testutil.ToFloat64(s.metrics.entries.WithLabelValues("panic")))
}

func (s *ManagerTestSuite) TestContainingPlugin() {
	s.addPlugin("a.nro", "a", true)
	s.addPlugin("b.nro", "b", true)
	m := s.newManager()

	_, ok := m.ContainingPlugin(adapter.DefaultBaseAddress + 1)
	s.False(ok, "nothing is loaded yet")

	s.Require().NoError(m.LoadPlugins(s.ctx))
	b := m.Plugins()[1]

	got, ok := m.ContainingPlugin(b.Base + 0x10)
	s.Require().True(ok)
	s.Equal(b.Path, got.Path)

	_, ok = m.ContainingPlugin(b.Base)
	s.False(ok)
	_, ok = m.ContainingPlugin(b.End())
	s.False(ok)

	start, end := m.PluginAddresses(b.Base + 1)
	s.Equal(b.Base, start)
	s.Equal(b.End(), end)

	start, end = m.PluginAddresses(1)
	s.Zero(start)
	s.Zero(end)
}

func (s *ManagerTestSuite) TestAuditTrail() {
	s.addPlugin("a.nro", "a", true)
	s.fsys[testDir+"/b.txt"] = &fstest.MapFile{Data: []byte("text")}
	m := s.newManager()
	s.Require().NoError(m.LoadPlugins(s.ctx))

	var kinds []audit.Kind
	for _, e := range s.trail.Events() {
		kinds = append(kinds, e.Kind)
	}
	s.Equal([]audit.Kind{audit.Accepted, audit.Rejected, audit.Registered, audit.Loaded, audit.Started}, kinds)
	s.ErrorIs(s.trail.Events()[1].Err, ErrNotModuleImage)
}

func (s *ManagerTestSuite) TestCloseRevokesRegistration() {
	s.addPlugin("a.nro", "a", true)
	m := s.newManager()
	s.Require().NoError(m.LoadPlugins(s.ctx))
	s.Require().NoError(m.Close(s.ctx))
	s.False(s.loader.Stats().Registered)
	s.False(m.Registered())
}

func (s *ManagerTestSuite) TestDebugCatalogDetail() {
	s.addPlugin("a.nro", "a", true)
	m := s.newManager()
	s.Require().NoError(m.LoadPlugins(s.ctx))

	var buf bytes.Buffer
	DebugCatalogDetail(&buf, m)
	s.Contains(buf.String(), "plugins:1 registered:true")
	s.Contains(buf.String(), "path:"+testDir+"/a.nro state:running")
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func TestRangeContains(t *testing.T) {
	r := Range{Base: 0x1000, Size: 0x500}
	assert.True(t, r.Contains(0x1200))
	assert.True(t, r.Contains(0x1001))
	assert.True(t, r.Contains(0x14ff))
	assert.False(t, r.Contains(0x1500), "end is exclusive")
	assert.False(t, r.Contains(0x1000), "start is exclusive")
	assert.False(t, r.Contains(0))
	assert.Equal(t, uintptr(0x1500), r.End())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	loader := adapter.NewMemoryLoader(testProgramID)
	cfg := testConfig(fstest.MapFS{})
	cfg.HashWorkers = 0
	_, err := New(cfg, loader)
	assert.Error(t, err)

	_, err = New(testConfig(fstest.MapFS{}), nil)
	assert.Error(t, err)
}

func TestVerifyConfig(t *testing.T) {
	assert.NoError(t, VerifyConfig(DefaultConfig()))
	assert.Error(t, VerifyConfig(nil))

	for name, mutate := range map[string]func(*Config){
		"nil mount":       func(c *Config) { c.Mount = nil },
		"absolute dir":    func(c *Config) { c.PluginDir = "/skyline/plugins" },
		"empty entry":     func(c *Config) { c.EntrySymbol = "" },
		"no workers":      func(c *Config) { c.HashWorkers = 0 },
		"odd page size":   func(c *Config) { c.PageSize = 0x1800 },
		"small page size": func(c *Config) { c.PageSize = 0x200 },
	} {
		cfg := DefaultConfig()
		mutate(cfg)
		assert.Error(t, VerifyConfig(cfg), name)
	}
}

// Every accepted plugin has distinct content, the first path carrying each
// content is the one kept, and the registered allow-list holds exactly the
// accepted digests.
func TestDedupProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tags := rapid.SliceOfN(rapid.IntRange(0, 4), 1, 12).Draw(t, "tags")

		fsys := fstest.MapFS{}
		firstPath := map[int]string{}
		for i, tag := range tags {
			path := fmt.Sprintf("%s/p%02d.nro", testDir, i)
			fsys[path] = &fstest.MapFile{Data: testImage(fmt.Sprint(tag))}
			if _, ok := firstPath[tag]; !ok {
				firstPath[tag] = path
			}
		}

		loader := adapter.NewMemoryLoader(testProgramID, adapter.WithPermissiveExports(func() {}))
		m, err := New(testConfig(fsys), loader, WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		require.NoError(t, m.LoadPlugins(context.Background()))

		var kept []string
		var digests []api.Digest
		for _, p := range m.Plugins() {
			kept = append(kept, p.Path)
			digests = append(digests, p.Digest)
		}
		var want []string
		for _, p := range firstPath {
			want = append(want, p)
		}
		slices.Sort(want)
		require.Equal(t, want, kept)

		slices.SortFunc(digests, api.Digest.Compare)
		require.Equal(t, digests, loader.RegisteredDigests())
		for _, p := range m.Plugins() {
			require.Equal(t, security.SHA256Hasher{}.Sum(fsys[p.Path].Data), p.Digest)
		}
	})
}
