package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExpired  = errors.New("credential has expired")
	ErrCredentialRevoked  = errors.New("credential has been revoked")
)

// Store resolves a presented bearer token to a credential
type Store interface {
	Lookup(ctx context.Context, token string) (*Credential, error)
}

// Credential is a validated client identity. Only ID travels with a session.
type Credential struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Digest    string    `json:"digest"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Revoked   bool      `json:"revoked"`
}

// Check reports whether the credential may be used at now
func (c *Credential) Check(now time.Time) error {
	if c.Revoked {
		return ErrCredentialRevoked
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return ErrCredentialExpired
	}
	return nil
}

// Digest returns the hex BLAKE2b-256 hash of token. Stores index
// credentials by digest so raw tokens are never persisted.
func Digest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Fingerprint is a shortened digest for logs and limiter keys
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	return Digest(token)[:16]
}
