package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("s3cret", "fieldsync")

	token, err := svc.GenerateAccessToken("agent-42", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-42", claims.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("s3cret", "fieldsync")

	expired, err := svc.GenerateAccessToken("agent-42", -time.Minute)
	require.NoError(t, err)
	otherKey, err := NewJWTService("other", "fieldsync").GenerateAccessToken("agent-42", time.Hour)
	require.NoError(t, err)
	otherIssuer, err := NewJWTService("s3cret", "someone-else").GenerateAccessToken("agent-42", time.Hour)
	require.NoError(t, err)
	noSubject, err := svc.GenerateAccessToken("", time.Hour)
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "agent-42"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
		"unsigned":     unsigned,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.Error(t, err)
		})
	}
}

func TestGenerateWithoutSecret(t *testing.T) {
	_, err := NewJWTService("", "").GenerateAccessToken("a", time.Hour)
	assert.Error(t, err)
}
