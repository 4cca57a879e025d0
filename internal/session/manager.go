package session

import (
	"sync"

	"go.uber.org/zap"

	"veilchat/internal/cryptographic/kdf"
	"veilchat/internal/utils/log"
)

// RotationThreshold is the number of accepted messages after which the
// session key for a (conversation, device) pair rotates to the next epoch.
const RotationThreshold = 20

type (
	// Lease is the key material handed out for one outgoing message.
	// Rotated is true exactly when this lease is the first at a new index;
	// the sender must then attach fresh public key material so the peer can
	// re-derive the same key.
	Lease struct {
		Key     []byte
		Index   uint32
		Rotated bool
	}

	sessionState struct {
		mu          sync.Mutex
		key         []byte
		index       uint32
		counter     uint32
		initialized bool
	}

	// Manager tracks one symmetric session per (conversation, device) pair
	// and rotates it on a fixed message-count threshold.
	Manager struct {
		mu       sync.Mutex
		sessions map[string]*sessionState
	}
)

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*sessionState),
	}
}

func sessionID(conversationID, deviceID string) string {
	return conversationID + "/" + deviceID
}

func (m *Manager) state(conversationID, deviceID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := sessionID(conversationID, deviceID)
	st, ok := m.sessions[id]
	if !ok {
		st = &sessionState{}
		m.sessions[id] = st
	}
	return st
}

// GetOrRotate returns the key for the next accepted message and advances the
// per-pair counter. When the counter reaches the threshold this derives the
// key at index+1, resets the counter, and flags the lease as rotated.
// Concurrent sends from one device serialize on the pair's mutex, so the
// rotation fires exactly once.
func (m *Manager) GetOrRotate(conversationID, deviceID string, sharedSecret []byte) (Lease, error) {
	st := m.state(conversationID, deviceID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.initialized {
		key, err := kdf.DeriveSessionKey(sharedSecret, conversationID, 0)
		if err != nil {
			return Lease{}, err
		}
		st.key = key
		st.index = 0
		st.counter = 0
		st.initialized = true
	}

	rotated := false
	if st.counter >= RotationThreshold {
		key, err := kdf.DeriveSessionKey(sharedSecret, conversationID, st.index+1)
		if err != nil {
			return Lease{}, err
		}
		st.key = key
		st.index++
		st.counter = 0
		rotated = true
		log.Info("session key rotated",
			zap.String("conv_id", conversationID),
			zap.String("device_id", deviceID),
			zap.Uint32("key_index", st.index))
	}

	st.counter++

	leaseKey := make([]byte, len(st.key))
	copy(leaseKey, st.key)
	return Lease{Key: leaseKey, Index: st.index, Rotated: rotated}, nil
}

// KeyAt re-derives the session key for an arbitrary epoch. Receivers use it
// when a message arrives carrying an index other than their current one: a
// lost rotation signal is recovered by re-deriving at the carried index
// instead of silently decrypting with a stale key.
func (m *Manager) KeyAt(conversationID string, sharedSecret []byte, index uint32) ([]byte, error) {
	return kdf.DeriveSessionKey(sharedSecret, conversationID, index)
}

// CurrentIndex reports the active epoch for a pair, zero if none exists.
func (m *Manager) CurrentIndex(conversationID, deviceID string) uint32 {
	st := m.state(conversationID, deviceID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.index
}
