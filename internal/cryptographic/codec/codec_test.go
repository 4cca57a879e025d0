package codec

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilchat/internal/model"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := randomKey(t)
	aad := []byte(`{"ts":1,"type":"text"}`)
	plaintext := []byte("the quick brown fox")

	ct, nonce, err := Seal(key, plaintext, aad)
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)

	got, err := Open(key, ct, nonce, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestOpenRejectsTampering(t *testing.T) {
	key := randomKey(t)
	aad := []byte("ad")
	ct, nonce, err := Seal(key, []byte("secret"), aad)
	require.NoError(t, err)

	t.Run("altered aad", func(t *testing.T) {
		_, err := Open(key, ct, nonce, []byte("da"))
		require.Error(t, err)
		assert.True(t, model.IsKind(err, model.KindIntegrityFailure))
	})

	t.Run("altered key", func(t *testing.T) {
		other := randomKey(t)
		_, err := Open(other, ct, nonce, aad)
		require.Error(t, err)
		assert.True(t, model.IsKind(err, model.KindIntegrityFailure))
	})

	t.Run("altered nonce", func(t *testing.T) {
		bad := append([]byte(nil), nonce...)
		bad[0] ^= 0xff
		_, err := Open(key, ct, bad, aad)
		require.Error(t, err)
		assert.True(t, model.IsKind(err, model.KindIntegrityFailure))
	})

	t.Run("altered ciphertext", func(t *testing.T) {
		bad := append([]byte(nil), ct...)
		bad[len(bad)-1] ^= 0x01
		_, err := Open(key, bad, nonce, aad)
		require.Error(t, err)
		assert.True(t, model.IsKind(err, model.KindIntegrityFailure))
	})
}

func TestSealGeneratesFreshNonces(t *testing.T) {
	key := randomKey(t)
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		_, nonce, err := Seal(key, []byte("p"), nil)
		require.NoError(t, err)
		require.False(t, seen[string(nonce)], "nonce repeated")
		seen[string(nonce)] = true
	}
}

func TestCanonicalizeFieldOrder(t *testing.T) {
	a, err := Canonicalize(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	b, err := Canonicalize(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":1,"b":2}`, string(a))
}

func TestCanonicalizeNFC(t *testing.T) {
	// U+00E9 composed vs e + U+0301 combining acute: same visible string.
	composed := "café"
	decomposed := "café"

	a, err := Canonicalize(map[string]any{"v": composed})
	require.NoError(t, err)
	b, err := Canonicalize(map[string]any{"v": decomposed})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, Hash(a), Hash(b))
}

func TestCanonicalizeNested(t *testing.T) {
	a, err := Canonicalize(map[string]any{
		"outer": map[string]any{"z": []any{1, 2}, "a": "x"},
		"n":     nil,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"n":null,"outer":{"a":"x","z":[1,2]}}`, string(a))
}

func TestNonceGuardDetectsReuse(t *testing.T) {
	g := NewNonceGuard()
	key := randomKey(t)
	nonce := make([]byte, NonceSize)

	require.NoError(t, g.Observe(key, nonce))
	err := g.Observe(key, nonce)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindIntegrityFailure))

	// a different key may carry the same nonce
	require.NoError(t, g.Observe(randomKey(t), nonce))

	// retiring the key forgets its nonces
	g.Retire(key)
	require.NoError(t, g.Observe(key, nonce))
}

func TestNonceGuardForgetSingleNonce(t *testing.T) {
	g := NewNonceGuard()
	key := randomKey(t)
	first := make([]byte, NonceSize)
	second := make([]byte, NonceSize)
	second[0] = 1

	require.NoError(t, g.Observe(key, first))
	require.NoError(t, g.Observe(key, second))

	// only the forgotten nonce becomes fresh again
	g.Forget(key, first)
	require.NoError(t, g.Observe(key, first))
	require.Error(t, g.Observe(key, second))
}
