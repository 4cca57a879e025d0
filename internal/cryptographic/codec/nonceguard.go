package codec

import (
	"encoding/hex"
	"sync"

	"veilchat/internal/model"
)

type (
	// NonceGuard remembers every nonce observed under each live key. A
	// repeated (key, nonce) pair breaks the AEAD's security entirely, so a
	// hit is a fatal integrity violation: the caller must abort the
	// connection, not continue.
	NonceGuard struct {
		mu   sync.Mutex
		seen map[string]map[string]struct{}
	}
)

func NewNonceGuard() *NonceGuard {
	return &NonceGuard{
		seen: make(map[string]map[string]struct{}),
	}
}

// Observe records nonce under key. Returns an integrity failure on reuse.
func (g *NonceGuard) Observe(key, nonce []byte) error {
	kid := keyID(key)
	nid := hex.EncodeToString(nonce)

	g.mu.Lock()
	defer g.mu.Unlock()

	nonces, ok := g.seen[kid]
	if !ok {
		nonces = make(map[string]struct{})
		g.seen[kid] = nonces
	}
	if _, dup := nonces[nid]; dup {
		return model.NewError(model.KindIntegrityFailure, "nonce reuse under live key")
	}
	nonces[nid] = struct{}{}
	return nil
}

// Forget drops a single recorded nonce. Used when the message carrying it
// was never stored, so the sender's retransmission is not misread as reuse.
func (g *NonceGuard) Forget(key, nonce []byte) {
	kid := keyID(key)
	nid := hex.EncodeToString(nonce)
	g.mu.Lock()
	if nonces, ok := g.seen[kid]; ok {
		delete(nonces, nid)
	}
	g.mu.Unlock()
}

// Retire drops all state for a key once it leaves service, as on rotation.
func (g *NonceGuard) Retire(key []byte) {
	kid := keyID(key)
	g.mu.Lock()
	delete(g.seen, kid)
	g.mu.Unlock()
}

func keyID(key []byte) string {
	sum := Hash(key)
	return hex.EncodeToString(sum[:8])
}
