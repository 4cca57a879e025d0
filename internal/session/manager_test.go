package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"veilchat/internal/utils/log"
)

func TestMain(m *testing.M) {
	log.ReplaceWith(zap.NewNop())
	os.Exit(m.Run())
}

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestFirstLeaseStartsAtIndexZero(t *testing.T) {
	m := NewManager()
	lease, err := m.GetOrRotate("conv-1", "dev-1", secret)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), lease.Index)
	assert.False(t, lease.Rotated)
	assert.Len(t, lease.Key, 32)
}

func TestRotationFiresExactlyAtThreshold(t *testing.T) {
	m := NewManager()

	var firstKey []byte
	for i := 1; i <= RotationThreshold; i++ {
		lease, err := m.GetOrRotate("conv-1", "dev-1", secret)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), lease.Index, "message %d", i)
		assert.False(t, lease.Rotated, "message %d must not rotate", i)
		firstKey = lease.Key
	}

	// message 21 carries the rotation
	lease, err := m.GetOrRotate("conv-1", "dev-1", secret)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), lease.Index)
	assert.True(t, lease.Rotated)
	assert.NotEqual(t, firstKey, lease.Key)

	// and message 22 is on the new epoch without rotating again
	lease, err = m.GetOrRotate("conv-1", "dev-1", secret)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), lease.Index)
	assert.False(t, lease.Rotated)
	assert.Equal(t, uint32(1), m.CurrentIndex("conv-1", "dev-1"))
}

func TestKeyAtRederivesEpochKey(t *testing.T) {
	m := NewManager()

	var leases []Lease
	for i := 0; i <= RotationThreshold; i++ {
		lease, err := m.GetOrRotate("conv-1", "dev-1", secret)
		require.NoError(t, err)
		leases = append(leases, lease)
	}

	k0, err := m.KeyAt("conv-1", secret, 0)
	require.NoError(t, err)
	assert.Equal(t, leases[0].Key, k0)

	k1, err := m.KeyAt("conv-1", secret, 1)
	require.NoError(t, err)
	assert.Equal(t, leases[RotationThreshold].Key, k1)
}

func TestKeysBoundToConversationAndEpoch(t *testing.T) {
	m := NewManager()

	a, err := m.GetOrRotate("conv-a", "dev-1", secret)
	require.NoError(t, err)
	b, err := m.GetOrRotate("conv-b", "dev-1", secret)
	require.NoError(t, err)
	assert.NotEqual(t, a.Key, b.Key, "same secret, different conversation")

	k0, err := m.KeyAt("conv-a", secret, 0)
	require.NoError(t, err)
	k1, err := m.KeyAt("conv-a", secret, 1)
	require.NoError(t, err)
	assert.NotEqual(t, k0, k1, "same conversation, different epoch")
}

func TestCountersIndependentPerDevice(t *testing.T) {
	m := NewManager()

	for i := 0; i < RotationThreshold; i++ {
		_, err := m.GetOrRotate("conv-1", "dev-1", secret)
		require.NoError(t, err)
	}

	// dev-2's counter is untouched by dev-1's traffic
	lease, err := m.GetOrRotate("conv-1", "dev-2", secret)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), lease.Index)
	assert.False(t, lease.Rotated)
}

func TestLeaseKeyIsACopy(t *testing.T) {
	m := NewManager()
	lease, err := m.GetOrRotate("conv-1", "dev-1", secret)
	require.NoError(t, err)
	lease.Key[0] ^= 0xff

	again, err := m.GetOrRotate("conv-1", "dev-1", secret)
	require.NoError(t, err)
	k0, err := m.KeyAt("conv-1", secret, 0)
	require.NoError(t, err)
	assert.Equal(t, k0, again.Key, "mutating a lease must not corrupt the stored key")
}
