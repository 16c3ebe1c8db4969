package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDigestAndFingerprint(t *testing.T) {
	d := Digest("secret-token")
	assert.Len(t, d, 64)
	assert.Equal(t, d, Digest("secret-token"))
	assert.NotEqual(t, d, Digest("other"))
	assert.NotContains(t, d, "secret")

	assert.Equal(t, d[:16], Fingerprint("secret-token"))
	assert.Empty(t, Fingerprint(""))
}

func TestCredentialCheck(t *testing.T) {
	now := time.Now()
	assert.NoError(t, (&Credential{}).Check(now))
	assert.NoError(t, (&Credential{ExpiresAt: now.Add(time.Minute)}).Check(now))
	assert.ErrorIs(t, (&Credential{ExpiresAt: now}).Check(now), ErrCredentialExpired)
	assert.ErrorIs(t, (&Credential{Revoked: true}).Check(now), ErrCredentialRevoked)
}
