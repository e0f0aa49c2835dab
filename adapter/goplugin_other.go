//go:build !linux || !cgo

package adapter

import (
	"errors"

	"github.com/srediag/plugin-loader/api"
)

// ErrUnsupported is returned where the Go plugin runtime is unavailable.
var ErrUnsupported = errors.New("goplugin: requires linux and cgo")

// GoPluginLoader is unavailable on this platform.
type GoPluginLoader struct{}

// NewGoPluginLoader always fails on this platform.
func NewGoPluginLoader(programID uint64, dir string) (*GoPluginLoader, error) {
	return nil, ErrUnsupported
}

func (*GoPluginLoader) RequiredWorkingSize([]byte) (uint64, error) { return 0, ErrUnsupported }

func (*GoPluginLoader) LoadAndBind([]byte, []byte, api.BindPolicy) (api.ModuleHandle, error) {
	return api.ModuleHandle{}, ErrUnsupported
}

func (*GoPluginLoader) LookupSymbol(api.ModuleHandle, string) (api.EntryFunc, error) {
	return nil, ErrUnsupported
}

func (*GoPluginLoader) RegisterAllowList([]byte) (api.RegistrationToken, error) {
	return api.RegistrationToken{}, ErrUnsupported
}

func (*GoPluginLoader) RevokeAllowList(api.RegistrationToken) error { return ErrUnsupported }
