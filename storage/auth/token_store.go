package auth

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Token binds a bearer token to a marketplace account.
type Token struct {
	Token     string    `json:"token"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Source    string    `json:"source,omitempty"` // e.g. "seed", "registration"
	CreatedAt time.Time `json:"created_at"`
}

// TokenValidator defines the minimal interface required by auth middleware.
type TokenValidator interface {
	Get(token string) (Token, bool)
}

// TokenIssuer allows creating new tokens.
type TokenIssuer interface {
	Issue(accountID, email, source string) (Token, error)
}

// TokenStore provides in-memory token validation/issuance.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewTokenStore constructs an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]Token)}
}

// Seed adds a pre-existing token (e.g., from env).
func (s *TokenStore) Seed(token, accountID, email string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = Token{Token: token, AccountID: accountID, Email: email, Source: "seed", CreatedAt: time.Now()}
}

// Get returns the stored record for a token, if present.
func (s *TokenStore) Get(token string) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tokens[token]
	return rec, ok
}

// Issue creates and stores a new token for an account.
func (s *TokenStore) Issue(accountID, email, source string) (Token, error) {
	token, err := generateToken()
	if err != nil {
		return Token{}, err
	}
	rec := Token{Token: token, AccountID: accountID, Email: email, Source: source, CreatedAt: time.Now()}
	s.mu.Lock()
	s.tokens[token] = rec
	s.mu.Unlock()
	return rec, nil
}

// Revoke removes a token, e.g. when its account is deleted.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

func generateToken() (string, error) {
	b := make([]byte, 32) // 256-bit token
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
