package storage

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptySecretKey = errors.New("secret key cannot be empty")
	ErrWeakSecretKey  = errors.New("secret key must be at least 32 characters")
)

// Claims carried by gateway tokens. The subject is the credential ID.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTStore validates self-contained HS256 tokens instead of looking them up
type JWTStore struct {
	secret []byte
	issuer string
}

var _ Store = (*JWTStore)(nil)

func NewJWTStore(secretKey, issuer string) (*JWTStore, error) {
	if secretKey == "" {
		return nil, ErrEmptySecretKey
	}
	if len(secretKey) < 32 {
		return nil, ErrWeakSecretKey
	}
	return &JWTStore{secret: []byte(secretKey), issuer: issuer}, nil
}

func (s *JWTStore) Lookup(_ context.Context, token string) (*Credential, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrCredentialExpired
		}
		return nil, ErrCredentialNotFound
	}
	if claims.Subject == "" {
		return nil, ErrCredentialNotFound
	}

	cred := &Credential{ID: claims.Subject, Name: claims.Name, Digest: Digest(token)}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	return cred, nil
}

// Issue signs a token for id valid for ttl (no expiry when ttl <= 0)
func (s *JWTStore) Issue(id, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
