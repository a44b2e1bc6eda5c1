package dht

import (
	"math/big"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIDFromBytesLength(t *testing.T) {
	_, err := NodeIDFromBytes(make([]byte, HashLength-1))
	assert.ErrorIs(t, err, ErrValidation)

	id, err := NodeIDFromBytes(make([]byte, HashLength))
	require.NoError(t, err)
	assert.True(t, id.IsZero())
}

func TestDistanceIsXOR(t *testing.T) {
	var a, b NodeID
	a[0] = 0xff
	b[0] = 0x0f
	d := Distance(a, b)
	assert.Equal(t, byte(0xf0), d[0])
	assert.Equal(t, Distance(a, b), Distance(b, a))
}

func TestDistanceZeroIffEqual(t *testing.T) {
	f := func(a, b [HashLength]byte) bool {
		d := Distance(NodeID(a), NodeID(b))
		return (d == NodeID{}) == (a == b)
	}
	require.NoError(t, quick.Check(f, nil))
}

// TestLessMatchesBigIntComparison checks the claim in Less's doc comment:
// lexicographic byte comparison of a big-endian fixed-width value agrees
// with numeric comparison via math/big.
func TestLessMatchesBigIntComparison(t *testing.T) {
	f := func(a, b [HashLength]byte) bool {
		x, y := NodeID(a), NodeID(b)
		want := x.Int().Cmp(y.Int()) < 0
		return Less(x, y) == want
	}
	require.NoError(t, quick.Check(f, &quick.Config{MaxCount: 500}))
}

func TestIsCloser(t *testing.T) {
	key := NodeID{}
	near := NodeID{}
	near[HashLength-1] = 1
	far := NodeID{}
	far[0] = 1
	assert.True(t, IsCloser(near, far, key))
	assert.False(t, IsCloser(far, near, key))
}

func TestNodeIDFromIntRoundTrip(t *testing.T) {
	v := new(big.Int).SetBytes([]byte{1, 2, 3})
	id := NodeIDFromInt(v)
	assert.Equal(t, v, id.Int())
}

func TestNodeIDFromIntPanicsOnOverflow(t *testing.T) {
	assert.Panics(t, func() {
		v := new(big.Int).Lsh(big.NewInt(1), HashLength*8+1)
		NodeIDFromInt(v)
	})
}
