// Package api defines public API contracts for plugin-loader.
package api

import (
	"github.com/srediag/plugin-loader/pkg/lifecycle"
)

// PluginInfo is a read-only view of one accepted plugin.
type PluginInfo struct {
	Path        string
	Digest      Digest
	ImageSize   uint64
	WorkingSize uint64
	State       lifecycle.State
	// Base is zero until the host loader has loaded the module.
	Base uintptr
}

// Loaded reports whether the module has a load handle.
func (p PluginInfo) Loaded() bool {
	return p.State >= lifecycle.Loaded
}

// End returns the first address past the module image.
func (p PluginInfo) End() uintptr {
	return p.Base + uintptr(p.ImageSize)
}
