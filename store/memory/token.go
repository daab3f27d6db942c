package memory

import (
	"context"
	"sync"
	"time"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
)

// TokenStore is an in-memory implementation of stellarconnect.TokenStore.
// Each (domain, account) pair owns at most one token. Expired tokens are
// dropped lazily on read.
type TokenStore struct {
	tokens map[string]stellarconnect.AuthToken
	mu     sync.RWMutex
	now    func() time.Time
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]stellarconnect.AuthToken),
		now:    time.Now,
	}
}

func tokenKey(domain, account string) string {
	return domain + "|" + account
}

// Get returns the stored token for (domain, account), or nil if there is none
// or it has expired.
func (s *TokenStore) Get(ctx context.Context, domain, account string) (*stellarconnect.AuthToken, error) {
	key := tokenKey(domain, account)

	s.mu.RLock()
	token, exists := s.tokens[key]
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	if !token.Valid(s.now()) {
		s.mu.Lock()
		if current, ok := s.tokens[key]; ok && current.JWT == token.JWT {
			delete(s.tokens, key)
		}
		s.mu.Unlock()
		return nil, nil
	}

	return &token, nil
}

// Put stores a token, replacing any previous token for its (domain, account).
func (s *TokenStore) Put(ctx context.Context, token *stellarconnect.AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[tokenKey(token.HomeDomain, token.Account)] = *token
	return nil
}

// Delete drops the token for (domain, account).
func (s *TokenStore) Delete(ctx context.Context, domain, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, tokenKey(domain, account))
	return nil
}

// Verify that TokenStore implements stellarconnect.TokenStore
var _ stellarconnect.TokenStore = (*TokenStore)(nil)
