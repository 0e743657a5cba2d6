// Package dedup guards binary uploads with a content-addressed manifest.
//
// Two exported files with identical bytes (same sha256 digest) must not be
// uploaded twice in one run: the second resolves to the identifier the first
// upload produced. Digest collisions across distinct payloads are treated as
// cryptographically negligible.
package dedup

import (
	"fmt"
	"sync"
)

// claim tracks one digest's upload. ready is closed when the upload settles;
// done is set only on success.
type claim struct {
	ready chan struct{}
	id    int64
	done  bool
}

// Manifest maps content digests to the target identifier already assigned to
// an uploaded payload with that digest. Scoped to one migration run.
type Manifest struct {
	mu       sync.Mutex
	byDigest map[string]*claim
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{byDigest: make(map[string]*claim)}
}

// ResolveOrClaim returns the target id for digest. On a manifest hit the
// upload procedure is not invoked and uploaded is false. On a miss, upload
// runs exactly once, its result is registered under digest, and uploaded is
// true. Concurrent claims for the same digest wait for the in-flight upload
// rather than starting their own. An upload error leaves the manifest
// unchanged so a later record with the same digest can retry.
func (m *Manifest) ResolveOrClaim(digest string, upload func() (int64, error)) (targetID int64, uploaded bool, err error) {
	if digest == "" {
		return 0, false, fmt.Errorf("dedup: empty digest")
	}

	for {
		m.mu.Lock()
		if c, ok := m.byDigest[digest]; ok {
			if c.done {
				m.mu.Unlock()
				return c.id, false, nil
			}
			// An upload for this digest is in flight; wait for it to settle
			// and re-check. A failed upload removes the claim, so the next
			// iteration takes over.
			m.mu.Unlock()
			<-c.ready
			continue
		}
		c := &claim{ready: make(chan struct{})}
		m.byDigest[digest] = c
		m.mu.Unlock()

		id, err := upload()

		m.mu.Lock()
		if err != nil {
			delete(m.byDigest, digest)
			m.mu.Unlock()
			close(c.ready)
			return 0, false, err
		}
		c.id = id
		c.done = true
		m.mu.Unlock()
		close(c.ready)
		return id, true, nil
	}
}

// Lookup reports the target id registered for digest, if any. In-flight
// claims are not visible.
func (m *Manifest) Lookup(digest string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byDigest[digest]
	if !ok || !c.done {
		return 0, false
	}
	return c.id, true
}

// Len returns the number of distinct digests uploaded so far.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.byDigest {
		if c.done {
			n++
		}
	}
	return n
}
