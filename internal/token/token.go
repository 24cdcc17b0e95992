// Package token implements the process-wide token manager: the one
// contract the core uses to verify non-local clients during the
// handshake. Its token set is guarded by a mutex, so tokens can be
// added or revoked at runtime while connections are being checked.
package token

import (
	"crypto/subtle"
	"sync"
)

// Manager holds the set of accepted tokens and answers CheckToken once
// per non-local connection during handshake. Tokens are opaque byte
// strings; comparison is constant-time to avoid leaking acceptance
// through timing.
type Manager struct {
	mu     sync.Mutex
	tokens map[string][]byte
}

// New creates a token manager seeded with the given accepted tokens.
func New(seed ...[]byte) *Manager {
	m := &Manager{tokens: make(map[string][]byte, len(seed))}
	for _, t := range seed {
		m.Add(t)
	}
	return m
}

// Add registers an additional accepted token.
func (m *Manager) Add(token []byte) {
	if len(token) == 0 {
		return
	}
	cp := append([]byte(nil), token...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[string(cp)] = cp
}

// Remove revokes a previously accepted token.
func (m *Manager) Remove(token []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, string(token))
}

// CheckToken reports whether token matches one of the accepted tokens.
// Every candidate is compared in constant time; which one is being
// compared is not secret, only whether any of them match.
func (m *Manager) CheckToken(candidate []byte) bool {
	m.mu.Lock()
	tokens := make([][]byte, 0, len(m.tokens))
	for _, t := range m.tokens {
		tokens = append(tokens, t)
	}
	m.mu.Unlock()

	ok := false
	for _, t := range tokens {
		if len(t) != len(candidate) {
			continue
		}
		if subtle.ConstantTimeCompare(t, candidate) == 1 {
			ok = true
		}
	}
	return ok
}
