package dht

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"
)

// tokenSecretLen is the width of the CSPRNG-generated HMAC key backing
// issued tokens.
const tokenSecretLen = 32

// TokenAuthority issues and validates the short-lived, IP-bound bearer
// tokens a store() call must present (spec.md §4.6, §9). It rotates its
// HMAC secret every TokenSecretRefreshInterval and keeps the previous
// generation valid so tokens issued just before a rotation still work.
type TokenAuthority struct {
	clock Clock

	mu          sync.Mutex
	secret      [tokenSecretLen]byte
	prevSecret  [tokenSecretLen]byte
	havePrev    bool
	rotatedAt   time.Time
}

// NewTokenAuthority creates a TokenAuthority with a freshly generated secret.
func NewTokenAuthority(clock Clock) (*TokenAuthority, error) {
	ta := &TokenAuthority{clock: clock, rotatedAt: clock.Now()}
	if _, err := rand.Read(ta.secret[:]); err != nil {
		return nil, err
	}
	return ta, nil
}

// maybeRotate rotates the secret if TokenSecretRefreshInterval has elapsed
// since the last rotation. Caller must hold ta.mu.
func (ta *TokenAuthority) maybeRotate() {
	now := ta.clock.Now()
	if now.Sub(ta.rotatedAt) < TokenSecretRefreshInterval {
		return
	}
	ta.prevSecret = ta.secret
	ta.havePrev = true
	rand.Read(ta.secret[:]) //nolint:errcheck // entropy failure is unrecoverable anyway
	ta.rotatedAt = now
}

// Issue returns a token bound to requesterIP under the current secret
// generation.
func (ta *TokenAuthority) Issue(requesterIP [4]byte) []byte {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	ta.maybeRotate()
	return mac(ta.secret[:], requesterIP)
}

// Validate reports whether token is a currently- or previously-valid token
// for requesterIP, tolerating the rotation boundary by checking both
// generations (spec.md §4.6: "two generations of the secret are kept
// valid").
func (ta *TokenAuthority) Validate(requesterIP [4]byte, token []byte) bool {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	ta.maybeRotate()

	if hmac.Equal(mac(ta.secret[:], requesterIP), token) {
		return true
	}
	if ta.havePrev && hmac.Equal(mac(ta.prevSecret[:], requesterIP), token) {
		return true
	}
	return false
}

func mac(secret []byte, requesterIP [4]byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(requesterIP[:])
	return h.Sum(nil)
}

// constantTimeEqual compares two tokens in constant time. Nothing in this
// package calls it; Validate compares with hmac.Equal.
func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
