package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGTokenStore persists bearer tokens in Postgres so sessions survive
// restarts when the marketplace runs against the postgres driver.
type PGTokenStore struct {
	pool *pgxpool.Pool
}

// NewPGTokenStore connects and initializes schema.
func NewPGTokenStore(ctx context.Context, dsn string) (*PGTokenStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGTokenStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGTokenStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS marketplace_tokens (
  token TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  email TEXT NOT NULL,
  source TEXT,
  created_at TIMESTAMPTZ DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_marketplace_tokens_account ON marketplace_tokens(account_id);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the pool.
func (s *PGTokenStore) Close() { s.pool.Close() }

// Get returns the stored record for a token, if present.
func (s *PGTokenStore) Get(token string) (Token, bool) {
	if token == "" {
		return Token{}, false
	}
	var rec Token
	err := s.pool.QueryRow(context.Background(), `
SELECT token, account_id, email, COALESCE(source, ''), created_at FROM marketplace_tokens WHERE token=$1
`, token).Scan(&rec.Token, &rec.AccountID, &rec.Email, &rec.Source, &rec.CreatedAt)
	if err != nil {
		return Token{}, false
	}
	return rec, true
}

// Issue creates and stores a new token for an account.
func (s *PGTokenStore) Issue(accountID, email, source string) (Token, error) {
	token, err := generateToken()
	if err != nil {
		return Token{}, err
	}
	rec := Token{Token: token, AccountID: accountID, Email: email, Source: source, CreatedAt: time.Now()}
	_, err = s.pool.Exec(context.Background(), `
INSERT INTO marketplace_tokens (token, account_id, email, source, created_at) VALUES ($1,$2,$3,$4,$5)
`, rec.Token, rec.AccountID, rec.Email, rec.Source, rec.CreatedAt)
	if err != nil {
		return Token{}, err
	}
	return rec, nil
}

// Revoke removes a token.
func (s *PGTokenStore) Revoke(token string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	_, _ = s.pool.Exec(context.Background(), `DELETE FROM marketplace_tokens WHERE token=$1`, token)
}

// Seed inserts a provided token if not empty.
func (s *PGTokenStore) Seed(token, accountID, email string) {
	if token == "" {
		return
	}
	_, _ = s.pool.Exec(context.Background(), `
INSERT INTO marketplace_tokens (token, account_id, email, source, created_at) VALUES ($1,$2,$3,'seed',$4)
ON CONFLICT DO NOTHING
`, token, accountID, email, time.Now())
}
