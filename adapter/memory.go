package adapter

import (
	"fmt"
	"sync"

	"github.com/srediag/plugin-loader/api"
	"github.com/srediag/plugin-loader/pkg/image"
	"github.com/srediag/plugin-loader/pkg/security"
)

// Op names a MemoryLoader operation for fault injection.
type Op int

const (
	OpRequiredWorkingSize Op = iota
	OpLoad
	OpLookup
	OpRegister
	OpRevoke
)

// DefaultBaseAddress is where MemoryLoader places its first module.
const DefaultBaseAddress uintptr = 0x80000000

type memModule struct {
	digest api.Digest
	handle api.ModuleHandle
}

// MemoryLoader is an in-process host loader. It performs the same
// admission checks as a real loader (single registration, program id,
// allow-list membership, working size) and hands out address ranges
// from a private window, without executing image bytes. Entry points are
// attached per image with Export.
type MemoryLoader struct {
	mu         sync.Mutex
	gate       gate
	pageSize   int
	nextBase   uintptr
	hasher     api.Hasher
	exports    map[api.Digest]map[string]api.EntryFunc
	permissive api.EntryFunc
	modules    map[uint64]*memModule
	loaded     map[api.Digest]bool
	nextToken  uint64
	faults     map[Op]error
	loads      int
}

// MemoryOption configures a MemoryLoader.
type MemoryOption func(*MemoryLoader)

// WithBaseAddress sets the address of the first loaded module.
func WithBaseAddress(base uintptr) MemoryOption {
	return func(l *MemoryLoader) { l.nextBase = base }
}

// WithPageSize overrides the page size used for address assignment and
// working sizes.
func WithPageSize(size int) MemoryOption {
	return func(l *MemoryLoader) { l.pageSize = size }
}

// WithPermissiveExports makes every loaded module export every name,
// resolving to fn. Useful for dry runs that validate images only.
func WithPermissiveExports(fn api.EntryFunc) MemoryOption {
	return func(l *MemoryLoader) { l.permissive = fn }
}

// NewMemoryLoader returns a loader owned by programID.
func NewMemoryLoader(programID uint64, opts ...MemoryOption) *MemoryLoader {
	l := &MemoryLoader{
		gate:     gate{programID: programID},
		pageSize: 0x1000,
		nextBase: DefaultBaseAddress,
		hasher:   security.SHA256Hasher{},
		exports:  make(map[api.Digest]map[string]api.EntryFunc),
		modules:  make(map[uint64]*memModule),
		loaded:   make(map[api.Digest]bool),
		faults:   make(map[Op]error),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Export attaches fn as symbol name of the module built from img.
func (l *MemoryLoader) Export(img []byte, name string, fn api.EntryFunc) {
	d := l.hasher.Sum(img)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exports[d] == nil {
		l.exports[d] = make(map[string]api.EntryFunc)
	}
	l.exports[d][name] = fn
}

// InjectFault makes the next call of op fail with err.
func (l *MemoryLoader) InjectFault(op Op, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = err
}

func (l *MemoryLoader) fault(op Op) error {
	err, ok := l.faults[op]
	if !ok {
		return nil
	}
	delete(l.faults, op)
	return err
}

// RequiredWorkingSize returns the page-rounded bss size from the header.
func (l *MemoryLoader) RequiredWorkingSize(img []byte) (uint64, error) {
	l.mu.Lock()
	err := l.fault(OpRequiredWorkingSize)
	l.mu.Unlock()
	if err != nil {
		return 0, err
	}
	h, err := image.ParseHeader(img)
	if err != nil {
		return 0, err
	}
	return h.WorkingSize(l.pageSize), nil
}

// LoadAndBind admits img against the registered allow-list and assigns it
// an address range.
func (l *MemoryLoader) LoadAndBind(img []byte, working []byte, policy api.BindPolicy) (api.ModuleHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fault(OpLoad); err != nil {
		return api.ModuleHandle{}, err
	}
	h, err := image.ParseHeader(img)
	if err != nil {
		return api.ModuleHandle{}, err
	}
	d := l.hasher.Sum(img)
	if err := l.gate.admit(d); err != nil {
		return api.ModuleHandle{}, err
	}
	if l.loaded[d] {
		return api.ModuleHandle{}, api.ErrAlreadyLoaded
	}
	if need := h.WorkingSize(l.pageSize); uint64(len(working)) < need {
		return api.ModuleHandle{}, fmt.Errorf("%w: have %#x, need %#x", api.ErrWorkingTooSmall, len(working), need)
	}

	l.nextToken++
	mod := &memModule{
		digest: d,
		handle: api.ModuleHandle{Base: l.nextBase, Size: uint64(h.Size), Token: l.nextToken},
	}
	// leave an unmapped guard page between modules
	span := (uintptr(h.Size) + uintptr(l.pageSize) - 1) &^ (uintptr(l.pageSize) - 1)
	l.nextBase += span + uintptr(l.pageSize)

	l.modules[mod.handle.Token] = mod
	l.loaded[d] = true
	l.loads++
	return mod.handle, nil
}

// LookupSymbol resolves name among the exports attached to the module.
func (l *MemoryLoader) LookupSymbol(h api.ModuleHandle, name string) (api.EntryFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fault(OpLookup); err != nil {
		return nil, err
	}
	mod, ok := l.modules[h.Token]
	if !ok {
		return nil, api.ErrUnknownModule
	}
	if fn, ok := l.exports[mod.digest][name]; ok {
		return fn, nil
	}
	if l.permissive != nil {
		return l.permissive, nil
	}
	return nil, fmt.Errorf("%w: %q", api.ErrSymbolNotFound, name)
}

// RegisterAllowList accepts descriptor when no other registration is active.
func (l *MemoryLoader) RegisterAllowList(descriptor []byte) (api.RegistrationToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fault(OpRegister); err != nil {
		return api.RegistrationToken{}, err
	}
	return l.gate.register(descriptor)
}

// RevokeAllowList drops the active registration.
func (l *MemoryLoader) RevokeAllowList(tok api.RegistrationToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fault(OpRevoke); err != nil {
		return err
	}
	return l.gate.revoke(tok)
}

// MemoryStats counts calls that reached the loader's bookkeeping.
type MemoryStats struct {
	Registrations int
	Revocations   int
	Loads         int
	Registered    bool
}

// Stats returns call counters.
func (l *MemoryLoader) Stats() MemoryStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return MemoryStats{
		Registrations: l.gate.registrations,
		Revocations:   l.gate.revocations,
		Loads:         l.loads,
		Registered:    l.gate.active != nil,
	}
}

// RegisteredDigests returns the digests of the active registration.
func (l *MemoryLoader) RegisteredDigests() []api.Digest {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gate.active == nil {
		return nil
	}
	return l.gate.active.Digests()
}
