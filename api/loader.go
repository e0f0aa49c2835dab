// Package api defines public API contracts for plugin-loader.
package api

import "errors"

// BindPolicy selects when the host loader resolves a module's imports.
type BindPolicy int

const (
	// BindLazy defers symbol resolution to first use.
	BindLazy BindPolicy = iota
	// BindNow resolves every import while loading.
	BindNow
)

func (b BindPolicy) String() string {
	if b == BindNow {
		return "now"
	}
	return "lazy"
}

// ModuleHandle is returned by a successful load. Base and Size describe the
// module's text+data range in the process address space.
type ModuleHandle struct {
	Base  uintptr
	Size  uint64
	Token uint64
}

// RegistrationToken identifies an active allow-list registration.
type RegistrationToken struct {
	ID uint64
}

// EntryFunc is a module's entry point.
type EntryFunc func()

// HostLoader is the module loader owned by the host process.
type HostLoader interface {
	// RequiredWorkingSize returns the writable working memory the image
	// needs. It fails when image is not a module image.
	RequiredWorkingSize(image []byte) (uint64, error)
	// LoadAndBind maps image into the process using working as its
	// writable region.
	LoadAndBind(image []byte, working []byte, policy BindPolicy) (ModuleHandle, error)
	// LookupSymbol resolves an exported entry point of a loaded module.
	LookupSymbol(h ModuleHandle, name string) (EntryFunc, error)
	// RegisterAllowList submits an allow-list descriptor. Only one
	// registration may be active at a time.
	RegisterAllowList(descriptor []byte) (RegistrationToken, error)
	// RevokeAllowList removes a registration made by RegisterAllowList.
	RevokeAllowList(tok RegistrationToken) error
}

// Errors reported by HostLoader implementations.
var (
	ErrNotModuleImage      = errors.New("not a module image")
	ErrNotRegistered       = errors.New("no allow-list registered")
	ErrAlreadyRegistered   = errors.New("allow-list already registered")
	ErrUnknownRegistration = errors.New("unknown allow-list registration")
	ErrNotAllowed          = errors.New("image digest not in allow-list")
	ErrAlreadyLoaded       = errors.New("image already loaded")
	ErrWorkingTooSmall     = errors.New("working memory smaller than required")
	ErrUnknownModule       = errors.New("unknown module handle")
	ErrSymbolNotFound      = errors.New("symbol not found")
)
