package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTIssuerRoundTrip(t *testing.T) {
	j := NewJWTIssuer("secret", "cvneat")
	raw, err := j.Sign("driver-7", "delivery", time.Minute)
	require.NoError(t, err)

	tok, err := j.VerifyIDToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "driver-7", tok.UID)
	assert.Equal(t, "delivery", tok.Role())
}

func TestJWTIssuerRejects(t *testing.T) {
	j := NewJWTIssuer("secret", "cvneat")

	other, err := NewJWTIssuer("other", "cvneat").Sign("u1", "admin", time.Minute)
	require.NoError(t, err)
	_, err = j.VerifyIDToken(context.Background(), other)
	assert.Error(t, err, "wrong secret")

	wrongIssuer, err := NewJWTIssuer("secret", "someone-else").Sign("u1", "admin", time.Minute)
	require.NoError(t, err)
	_, err = j.VerifyIDToken(context.Background(), wrongIssuer)
	assert.Error(t, err, "wrong issuer")

	expired, err := j.Sign("u1", "admin", -time.Minute)
	require.NoError(t, err)
	_, err = j.VerifyIDToken(context.Background(), expired)
	assert.Error(t, err, "expired")

	_, err = j.VerifyIDToken(context.Background(), "not-a-token")
	assert.Error(t, err)
}

func TestAuthTokenRole(t *testing.T) {
	var nilToken *AuthToken
	assert.Equal(t, "", nilToken.Role())
	assert.Equal(t, "", (&AuthToken{Claims: map[string]interface{}{"role": 3}}).Role())
	assert.Equal(t, "restaurant", (&AuthToken{Claims: map[string]interface{}{"role": "restaurant"}}).Role())
}
