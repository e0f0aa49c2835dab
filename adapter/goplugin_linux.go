//go:build linux && cgo

package adapter

import (
	"bufio"
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/srediag/plugin-loader/api"
	"github.com/srediag/plugin-loader/pkg/security"
)

// ErrEntryType is returned when a looked up symbol is not a func().
var ErrEntryType = errors.New("symbol is not a func()")

type goModule struct {
	p    *plugin.Plugin
	path string
}

// GoPluginLoader loads Go plugins (ELF shared objects built with
// -buildmode=plugin) through the runtime's plugin package. The runtime
// always binds immediately and places the module's bss itself, so the
// working buffer is only reserved.
type GoPluginLoader struct {
	mu        sync.Mutex
	gate      gate
	dir       string
	hasher    api.Hasher
	modules   map[uint64]*goModule
	loaded    map[api.Digest]bool
	nextToken uint64
}

// NewGoPluginLoader stages images under dir, which is created if missing.
func NewGoPluginLoader(programID uint64, dir string) (*GoPluginLoader, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("goplugin: staging dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("goplugin: staging dir: %w", err)
	}
	return &GoPluginLoader{
		gate:    gate{programID: programID},
		dir:     dir,
		hasher:  security.SHA256Hasher{},
		modules: make(map[uint64]*goModule),
		loaded:  make(map[api.Digest]bool),
	}, nil
}

// RequiredWorkingSize sums the NOBITS sections of a shared object.
func (l *GoPluginLoader) RequiredWorkingSize(img []byte) (uint64, error) {
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", api.ErrNotModuleImage, err)
	}
	defer f.Close() // nolint:errcheck
	if f.Type != elf.ET_DYN {
		return 0, fmt.Errorf("%w: ELF type %s", api.ErrNotModuleImage, f.Type)
	}
	var bss uint64
	for _, s := range f.Sections {
		if s.Type == elf.SHT_NOBITS && s.Flags&elf.SHF_ALLOC != 0 {
			bss += s.Size
		}
	}
	page := uint64(unix.Getpagesize())
	return (bss + page - 1) &^ (page - 1), nil
}

// LoadAndBind stages img on disk and opens it as a Go plugin.
func (l *GoPluginLoader) LoadAndBind(img []byte, working []byte, policy api.BindPolicy) (api.ModuleHandle, error) {
	need, err := l.RequiredWorkingSize(img)
	if err != nil {
		return api.ModuleHandle{}, err
	}
	if uint64(len(working)) < need {
		return api.ModuleHandle{}, fmt.Errorf("%w: have %#x, need %#x", api.ErrWorkingTooSmall, len(working), need)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.hasher.Sum(img)
	if err := l.gate.admit(d); err != nil {
		return api.ModuleHandle{}, err
	}
	if l.loaded[d] {
		return api.ModuleHandle{}, api.ErrAlreadyLoaded
	}

	path := filepath.Join(l.dir, d.String()+".so")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, img, 0o500); err != nil {
			return api.ModuleHandle{}, fmt.Errorf("goplugin: stage image: %w", err)
		}
	}
	p, err := plugin.Open(path)
	if err != nil {
		return api.ModuleHandle{}, fmt.Errorf("goplugin: open: %w", err)
	}
	base, size, err := mappedRange("/proc/self/maps", path)
	if err != nil {
		return api.ModuleHandle{}, err
	}

	l.nextToken++
	h := api.ModuleHandle{Base: base, Size: size, Token: l.nextToken}
	l.modules[h.Token] = &goModule{p: p, path: path}
	l.loaded[d] = true
	return h, nil
}

// LookupSymbol returns name if it is an exported func().
func (l *GoPluginLoader) LookupSymbol(h api.ModuleHandle, name string) (api.EntryFunc, error) {
	l.mu.Lock()
	mod, ok := l.modules[h.Token]
	l.mu.Unlock()
	if !ok {
		return nil, api.ErrUnknownModule
	}
	sym, err := mod.p.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSymbolNotFound, err)
	}
	fn, ok := sym.(func())
	if !ok {
		return nil, fmt.Errorf("%w: %q is %T", ErrEntryType, name, sym)
	}
	return fn, nil
}

// RegisterAllowList accepts descriptor when no other registration is active.
func (l *GoPluginLoader) RegisterAllowList(descriptor []byte) (api.RegistrationToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gate.register(descriptor)
}

// RevokeAllowList drops the active registration.
func (l *GoPluginLoader) RevokeAllowList(tok api.RegistrationToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gate.revoke(tok)
}

// mappedRange returns the lowest start and the span of all mappings of path.
// Format: address           perms offset  dev   inode   pathname
func mappedRange(mapsPath, path string) (uintptr, uint64, error) {
	f, err := os.Open(mapsPath)
	if err != nil {
		return 0, 0, fmt.Errorf("goplugin: read maps: %w", err)
	}
	defer f.Close() // nolint:errcheck

	var lo, hi uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 || fields[len(fields)-1] != path {
			continue
		}
		start, end, ok := strings.Cut(fields[0], "-")
		if !ok {
			continue
		}
		s, err1 := strconv.ParseUint(start, 16, 64)
		e, err2 := strconv.ParseUint(end, 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if lo == 0 || s < lo {
			lo = s
		}
		if e > hi {
			hi = e
		}
	}
	if err := sc.Err(); err != nil {
		return 0, 0, fmt.Errorf("goplugin: scan maps: %w", err)
	}
	if lo == 0 {
		return 0, 0, fmt.Errorf("goplugin: no mapping for %s", path)
	}
	return uintptr(lo), hi - lo, nil
}
