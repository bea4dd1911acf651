package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
)

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Only the sha256 of a key is ever stored; the plaintext exists once, at
// minting time.
const selectAPIKeyQuery = `SELECT key_id, tenant_id, disabled
 FROM api_keys
 WHERE key_sha256 = $1`

// APIKeyAuthenticator resolves a bearer API key to its owning tenant through
// the api_keys table.
type APIKeyAuthenticator struct {
	db QueryRower
}

func NewAPIKeyAuthenticator(db QueryRower) (*APIKeyAuthenticator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &APIKeyAuthenticator{db: db}, nil
}

func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	raw := credentialFromRequest(r)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}

	var (
		keyID    string
		tenantID string
		disabled bool
	)
	err := a.db.QueryRowContext(ctx, selectAPIKeyQuery, HashKey(raw)).Scan(&keyID, &tenantID, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrUnauthenticated
	}
	if err != nil {
		return Identity{}, fmt.Errorf("api key lookup: %w", err)
	}
	if disabled {
		return Identity{}, ErrUnauthenticated
	}

	return Identity{
		TenantID: tenantID,
		Subject:  "apikey:" + keyID,
		KeyID:    keyID,
	}, nil
}

func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
