package symtab

import (
	"cmp"
	"io"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Role is what a section holds.
type Role int

const (
	RoleCode Role = iota
	RoleZeroData
	RoleData
	RoleReadOnly
)

var roleNames = [...]string{"code", "zero-data", "data", "read-only"}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return "unknown"
	}
	return roleNames[r]
}

var sectionRoles = map[string]Role{
	".text":   RoleCode,
	".bss":    RoleZeroData,
	".data":   RoleData,
	".rodata": RoleReadOnly,
}

// RoleOf returns the role of a section by its name.
func RoleOf(section string) (Role, bool) {
	r, ok := sectionRoles[section]
	return r, ok
}

// SectionBases holds the absolute load address of each section role.
type SectionBases struct {
	Text     uintptr
	ZeroData uintptr
	Data     uintptr
	ReadOnly uintptr
}

// Base returns the address for r.
func (b SectionBases) Base(r Role) uintptr {
	switch r {
	case RoleCode:
		return b.Text
	case RoleZeroData:
		return b.ZeroData
	case RoleData:
		return b.Data
	case RoleReadOnly:
		return b.ReadOnly
	}
	return 0
}

// Symbol is a resolved name at an absolute address.
type Symbol struct {
	Addr uintptr
	Name string
}

// Stats counts what parsing kept and skipped.
type Stats struct {
	Symbols   int
	Unmatched int
	Malformed int
	Rejected  int
	Filtered  int
}

// Table maps symbol names to absolute addresses and back. It is safe for
// concurrent use.
type Table struct {
	mu      sync.RWMutex
	bases   SectionBases
	exclude []string
	logger  zerolog.Logger

	byName map[string]uintptr
	byAddr []Symbol
	sorted bool
	stats  Stats
}

// Option configures a Table.
type Option func(*Table)

// WithExclude drops symbols whose name contains any of frags.
func WithExclude(frags ...string) Option {
	return func(t *Table) { t.exclude = append(t.exclude, frags...) }
}

// WithLogger sets the logger for parse diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// New returns an empty table resolving against bases.
func New(bases SectionBases, opts ...Option) *Table {
	t := &Table{
		bases:  bases,
		logger: zerolog.Nop(),
		byName: make(map[string]uintptr),
		sorted: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Parse reads a textual listing and adds every symbol whose section maps to
// a known role. It only fails on read errors.
func (t *Table) Parse(r io.Reader) error {
	l, err := ReadListing(r, t.logger)
	if err != nil {
		return err
	}

	roles := make(map[uint64]Role, len(l.Sections))
	for id, s := range l.Sections {
		if role, ok := RoleOf(s.Name); ok {
			roles[id] = role
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Malformed += l.Malformed
	t.stats.Rejected += l.Rejected
	for _, e := range l.Entries {
		role, ok := roles[e.Section]
		if !ok {
			t.stats.Unmatched++
			continue
		}
		t.addLocked(e.Name, t.bases.Base(role)+uintptr(e.Offset))
	}
	return nil
}

// Add inserts one symbol. A later symbol with the same name replaces the
// earlier address.
func (t *Table) Add(name string, addr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(name, addr)
}

func (t *Table) addLocked(name string, addr uintptr) {
	if excluded(name, t.exclude) {
		t.stats.Filtered++
		return
	}
	t.byName[name] = addr
	t.byAddr = append(t.byAddr, Symbol{Addr: addr, Name: name})
	t.sorted = false
	t.stats.Symbols++
}

// NameToAddress returns the address of name, or 0 when unknown.
func (t *Table) NameToAddress(name string) uintptr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byName[name]
}

// AddressToName returns the name of the first symbol whose address is
// strictly greater than addr, or "" when there is none. This is the
// following symbol, not the enclosing one.
func (t *Table) AddressToName(addr uintptr) string {
	t.ensureSorted()
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := sort.Search(len(t.byAddr), func(i int) bool { return t.byAddr[i].Addr > addr })
	if i == len(t.byAddr) {
		return ""
	}
	return t.byAddr[i].Name
}

func (t *Table) ensureSorted() {
	t.mu.RLock()
	sorted := t.sorted
	t.mu.RUnlock()
	if sorted {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sorted {
		slices.SortStableFunc(t.byAddr, func(a, b Symbol) int { return cmp.Compare(a.Addr, b.Addr) })
		t.sorted = true
	}
}

// Symbols returns every inserted symbol ordered by address.
func (t *Table) Symbols() []Symbol {
	t.ensureSorted()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.byAddr)
}

// Len returns the number of distinct names.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byName)
}

// Stats returns the parse counters accumulated so far.
func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Bases returns the section bases the table resolves against.
func (t *Table) Bases() SectionBases {
	return t.bases
}
