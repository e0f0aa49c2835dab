// Package security provides content digests and digest bookkeeping for plugin admission.
package security

import (
	"crypto/sha256"
	"slices"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/plugin-loader/api"
)

// SHA256Hasher is the content hasher required by the allow-list format.
type SHA256Hasher struct{}

// Sum returns the SHA-256 digest of data.
func (SHA256Hasher) Sum(data []byte) api.Digest {
	return sha256.Sum256(data)
}

type entry struct {
	digest api.Digest
	owner  string
}

// DigestSet tracks accepted digests and the path that first claimed each one.
type DigestSet struct {
	m cmap.ConcurrentMap[string, entry]
}

// NewDigestSet returns an empty set.
func NewDigestSet() *DigestSet {
	return &DigestSet{m: cmap.New[entry]()}
}

// Insert claims d for owner. When d is already present it returns the
// existing owner and false.
func (s *DigestSet) Insert(d api.Digest, owner string) (string, bool) {
	key := d.String()
	if s.m.SetIfAbsent(key, entry{digest: d, owner: owner}) {
		return owner, true
	}
	prev, _ := s.m.Get(key)
	return prev.owner, false
}

// Contains reports whether d has been claimed.
func (s *DigestSet) Contains(d api.Digest) bool {
	return s.m.Has(d.String())
}

// Owner returns the path that claimed d.
func (s *DigestSet) Owner(d api.Digest) (string, bool) {
	e, ok := s.m.Get(d.String())
	return e.owner, ok
}

// Remove releases d so a later candidate may claim it.
func (s *DigestSet) Remove(d api.Digest) {
	s.m.Remove(d.String())
}

// Len returns the number of claimed digests.
func (s *DigestSet) Len() int {
	return s.m.Count()
}

// Sorted returns all digests in ascending byte order.
func (s *DigestSet) Sorted() []api.Digest {
	out := make([]api.Digest, 0, s.m.Count())
	for _, e := range s.m.Items() {
		out = append(out, e.digest)
	}
	slices.SortFunc(out, api.Digest.Compare)
	return out
}
