package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/amoylab/unla-edge/internal/common/config"
)

// MemoryStore serves credentials declared in the configuration file
type MemoryStore struct {
	mu       sync.RWMutex
	byDigest map[string]*Credential
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(tokens []config.StaticToken) *MemoryStore {
	s := &MemoryStore{byDigest: make(map[string]*Credential, len(tokens))}
	for _, tok := range tokens {
		digest := strings.ToLower(tok.Digest)
		if digest == "" {
			digest = Digest(tok.Token)
		}
		s.byDigest[digest] = &Credential{
			ID:        tok.ID,
			Name:      tok.Name,
			Digest:    digest,
			ExpiresAt: tok.ExpiresAt,
		}
	}
	return s
}

func (s *MemoryStore) Lookup(_ context.Context, token string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.byDigest[Digest(token)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	c := *cred
	return &c, nil
}

// Revoke marks the credential with id as revoked
func (s *MemoryStore) Revoke(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cred := range s.byDigest {
		if cred.ID == id {
			cred.Revoked = true
			return true
		}
	}
	return false
}
