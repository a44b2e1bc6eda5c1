package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenValidatesForIssuingIP(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	ta, err := NewTokenAuthority(clock)
	require.NoError(t, err)

	ip := [4]byte{1, 2, 3, 4}
	tok := ta.Issue(ip)
	assert.True(t, ta.Validate(ip, tok))
}

func TestTokenRejectsWrongIP(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	ta, err := NewTokenAuthority(clock)
	require.NoError(t, err)

	tok := ta.Issue([4]byte{1, 2, 3, 4})
	assert.False(t, ta.Validate([4]byte{5, 6, 7, 8}, tok))
}

// TestTokenToleratesOneRotation matches spec.md §4.6: a token issued just
// before a secret rotation remains valid for one further rotation.
func TestTokenToleratesOneRotation(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	ta, err := NewTokenAuthority(clock)
	require.NoError(t, err)

	ip := [4]byte{1, 2, 3, 4}
	tok := ta.Issue(ip)

	clock.Advance(TokenSecretRefreshInterval + time.Second)
	assert.True(t, ta.Validate(ip, tok), "token from the previous generation should still validate")

	clock.Advance(TokenSecretRefreshInterval + time.Second)
	assert.False(t, ta.Validate(ip, tok), "token from two generations ago should no longer validate")
}
