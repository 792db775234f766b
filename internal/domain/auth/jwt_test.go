package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("test-secret"))

	token, expiresAt, err := svc.GenerateAccessToken(
		"actor-1", "registrar@school.test",
		[]string{"registrar", "viewer"},
		"sess-42", false,
	)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	actor, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "actor-1", actor.ActorID)
	assert.Equal(t, "registrar@school.test", actor.Email)
	assert.Equal(t, []string{"registrar", "viewer"}, actor.Roles)
	assert.Equal(t, "sess-42", actor.SessionID)
	assert.False(t, actor.IsAdmin)
	assert.WithinDuration(t, time.Now(), actor.LastAuthAt, 5*time.Second)
	assert.Empty(t, actor.Origin)
}

func TestJWTService_ValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTService(DefaultJWTConfig("secret-a"))
	verifier := NewJWTService(DefaultJWTConfig("secret-b"))

	token, _, err := issuer.GenerateAccessToken("actor-1", "", []string{"admin"}, "", true)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTService_ValidateRejectsExpired(t *testing.T) {
	cfg := DefaultJWTConfig("test-secret")
	cfg.AccessTokenTTL = -time.Minute
	svc := NewJWTService(cfg)

	token, _, err := svc.GenerateAccessToken("actor-1", "", []string{"admin"}, "", true)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTService_ValidateRejectsGarbage(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("test-secret"))

	_, err := svc.ValidateToken("not-a-token")
	assert.Error(t, err)
}
