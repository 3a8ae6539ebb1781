package external

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryContentStore is an in-process ContentStore, used when the upstream
// content service is not wired (dev mode) and by tests.
type MemoryContentStore struct {
	mu     sync.RWMutex
	pieces map[string]*ContentPiece
	states map[string]string
}

func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{
		pieces: make(map[string]*ContentPiece),
		states: make(map[string]string),
	}
}

func (s *MemoryContentStore) Put(piece *ContentPiece) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pieces[piece.ID] = piece
}

func (s *MemoryContentStore) GetContent(_ context.Context, id string) (*ContentPiece, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	piece, ok := s.pieces[id]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	cp := *piece
	return &cp, nil
}

func (s *MemoryContentStore) MarkContentPublished(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = "published"
	return nil
}

func (s *MemoryContentStore) MarkContentFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = "failed"
	return nil
}

// State returns the last recorded publish outcome for a content piece.
func (s *MemoryContentStore) State(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[id]
}

// MemoryAccountStore is an in-process AccountStore.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*SocialAccount
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*SocialAccount)}
}

func (s *MemoryAccountStore) Put(account *SocialAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

func (s *MemoryAccountStore) GetAccount(_ context.Context, id string) (*SocialAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	a := *account
	return &a, nil
}

func (s *MemoryAccountStore) ListExpiring(_ context.Context, before time.Time) ([]*SocialAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*SocialAccount
	for _, account := range s.accounts {
		if account.ExpiresAt != nil && account.ExpiresAt.Before(before) {
			a := *account
			out = append(out, &a)
		}
	}
	return out, nil
}

// MemoryCredentialStore is an in-process CredentialStore. Refresh swaps
// the stored bundle atomically under the store lock, mirroring the
// single-row atomicity the real credential store provides.
type MemoryCredentialStore struct {
	mu      sync.Mutex
	bundles map[string]*Credentials
	ttl     time.Duration
}

func NewMemoryCredentialStore(ttl time.Duration) *MemoryCredentialStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryCredentialStore{bundles: make(map[string]*Credentials), ttl: ttl}
}

func (s *MemoryCredentialStore) Put(ref string, creds *Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[ref] = creds
}

func (s *MemoryCredentialStore) GetCredentials(_ context.Context, ref string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, ok := s.bundles[ref]
	if !ok {
		return nil, fmt.Errorf("credentials %s: %w", ref, ErrNotFound)
	}
	c := *creds
	return &c, nil
}

func (s *MemoryCredentialStore) RefreshCredentials(_ context.Context, ref string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, ok := s.bundles[ref]
	if !ok {
		return nil, fmt.Errorf("credentials %s: %w", ref, ErrNotFound)
	}
	refreshed := &Credentials{
		AccessToken:  creds.AccessToken + "+",
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    time.Now().Add(s.ttl),
	}
	s.bundles[ref] = refreshed
	c := *refreshed
	return &c, nil
}
