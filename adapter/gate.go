// Package adapter provides host loader implementations that plug into the
// plugin-loader pipeline.
package adapter

import (
	"fmt"

	"github.com/srediag/plugin-loader/api"
	"github.com/srediag/plugin-loader/pkg/allowlist"
)

// gate holds the single allow-list registration a host loader accepts
// for its process.
type gate struct {
	programID     uint64
	active        *allowlist.View
	token         uint64
	nextToken     uint64
	registrations int
	revocations   int
}

func (g *gate) register(descriptor []byte) (api.RegistrationToken, error) {
	if g.active != nil {
		return api.RegistrationToken{}, api.ErrAlreadyRegistered
	}
	v, err := allowlist.Parse(descriptor)
	if err != nil {
		return api.RegistrationToken{}, err
	}
	if v.ProgramID != g.programID {
		return api.RegistrationToken{}, fmt.Errorf("allow-list for program %#x, host is %#x", v.ProgramID, g.programID)
	}
	g.nextToken++
	g.active = v
	g.token = g.nextToken
	g.registrations++
	return api.RegistrationToken{ID: g.token}, nil
}

func (g *gate) revoke(tok api.RegistrationToken) error {
	if g.active == nil || tok.ID != g.token {
		return api.ErrUnknownRegistration
	}
	g.active = nil
	g.token = 0
	g.revocations++
	return nil
}

func (g *gate) admit(d api.Digest) error {
	if g.active == nil {
		return api.ErrNotRegistered
	}
	if !g.active.Contains(d) {
		return fmt.Errorf("%w: %s", api.ErrNotAllowed, d)
	}
	return nil
}
