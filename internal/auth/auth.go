package auth

import (
	"context"
	"sync"

	"veilchat/internal/model"
)

type (
	// Principal is the identity bound to a verified bearer credential.
	Principal struct {
		DeviceID string
		UserID   string
	}

	// CredentialVerifier validates bearer credentials issued by the
	// external registration service.
	CredentialVerifier interface {
		Verify(ctx context.Context, token string) (*Principal, error)
	}

	// Membership answers room membership questions; backed externally.
	Membership interface {
		IsMember(ctx context.Context, userID, roomID string) (bool, error)
	}

	// StaticVerifier validates against a fixed token table. Production
	// deployments plug in the real credential service instead.
	StaticVerifier struct {
		mu     sync.RWMutex
		tokens map[string]Principal
	}
)

func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{
		tokens: make(map[string]Principal),
	}
}

func (v *StaticVerifier) Issue(token string, p Principal) {
	v.mu.Lock()
	v.tokens[token] = p
	v.mu.Unlock()
}

func (v *StaticVerifier) Revoke(token string) {
	v.mu.Lock()
	delete(v.tokens, token)
	v.mu.Unlock()
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	v.mu.RLock()
	p, ok := v.tokens[token]
	v.mu.RUnlock()
	if !ok {
		return nil, model.NewError(model.KindAuthFailure, "invalid bearer credential")
	}
	return &p, nil
}

// StaticMembership is a fixed user->rooms table, the test and single-node
// counterpart of the external membership service.
type StaticMembership struct {
	mu    sync.RWMutex
	rooms map[string]map[string]bool
}

func NewStaticMembership() *StaticMembership {
	return &StaticMembership{
		rooms: make(map[string]map[string]bool),
	}
}

func (m *StaticMembership) Add(userID, roomID string) {
	m.mu.Lock()
	if m.rooms[roomID] == nil {
		m.rooms[roomID] = make(map[string]bool)
	}
	m.rooms[roomID][userID] = true
	m.mu.Unlock()
}

func (m *StaticMembership) IsMember(_ context.Context, userID, roomID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID][userID], nil
}
