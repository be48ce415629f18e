package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		JWTSecret:      "test-secret",
		AccessTokenTTL: 15 * time.Minute,
	}
}

func TestAccessTokenRoundtrip(t *testing.T) {
	cfg := testConfig()
	user := &User{UserID: "user-1", Role: "organizer"}
	now := time.Now().UTC()

	token, expiresAt, err := issueAccessToken(cfg, user, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(cfg.AccessTokenTTL), expiresAt, time.Second)

	claims, err := parseAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "organizer", claims.Role)
	assert.Equal(t, "ecostreak", claims.Issuer)
}

func TestAccessTokenWrongSecretRejected(t *testing.T) {
	cfg := testConfig()
	token, _, err := issueAccessToken(cfg, &User{UserID: "user-1", Role: "user"}, time.Now().UTC())
	require.NoError(t, err)

	other := cfg
	other.JWTSecret = "different-secret"
	_, err = parseAccessToken(other, token)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestAccessTokenExpiredRejected(t *testing.T) {
	cfg := testConfig()
	past := time.Now().UTC().Add(-time.Hour)
	token, _, err := issueAccessToken(cfg, &User{UserID: "user-1", Role: "user"}, past)
	require.NoError(t, err)

	_, err = parseAccessToken(cfg, token)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestPasswordHashRoundtrip(t *testing.T) {
	hash, err := hashPassword("correct horse battery")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery", hash)

	assert.True(t, verifyPassword(hash, "correct horse battery"))
	assert.False(t, verifyPassword(hash, "wrong password"))
}

func TestRefreshTokenHashIsStable(t *testing.T) {
	token, err := randomToken(32)
	require.NoError(t, err)

	assert.Equal(t, hashRefreshToken(token), hashRefreshToken(token))
	assert.NotEqual(t, hashRefreshToken(token), hashRefreshToken(token+"x"))
	assert.Len(t, hashRefreshToken(token), 64)
}

func TestNormalizeRole(t *testing.T) {
	assert.Equal(t, "admin", normalizeRole("Admin"))
	assert.Equal(t, "organizer", normalizeRole("organizer"))
	assert.Equal(t, "user", normalizeRole("user"))
	assert.Equal(t, "user", normalizeRole("superuser"))
	assert.Equal(t, "user", normalizeRole(""))
}
