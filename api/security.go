// Package api defines public API contracts for plugin-loader.
package api

import (
	"bytes"
	"encoding/hex"
)

// DigestSize is the width of a content digest in bytes.
const DigestSize = 32

// Digest is a SHA-256 content digest of a module image.
type Digest [DigestSize]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Compare orders digests bytewise, as the allow-list requires.
func (d Digest) Compare(o Digest) int {
	return bytes.Compare(d[:], o[:])
}

// Hasher computes content digests.
type Hasher interface {
	Sum(data []byte) Digest
}
