package token

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseJWT(t *testing.T) {
	tok, err := GenerateJWT("profile-1", "alice", "chat_service")
	require.NoError(t, err)

	claims, err := ParseJWT(tok)
	require.NoError(t, err)
	assert.Equal(t, "profile-1", claims.ProfileID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "chat_service", claims.Issuer)
}

func TestParseJWTWrongSecret(t *testing.T) {
	old := jwtSecret
	defer func() { jwtSecret = old }()

	tok, err := GenerateJWT("profile-1", "alice", "chat_service")
	require.NoError(t, err)

	SetSecret("another-secret")
	_, err = ParseJWT(tok)
	assert.Error(t, err)
}

func TestParseJWTRejectsNoneAlg(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ProfileID: "p"})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseJWT(s)
	assert.Error(t, err)
}

func TestSetSecretEmptyKeepsKey(t *testing.T) {
	old := jwtSecret
	defer func() { jwtSecret = old }()

	SetSecret("")
	assert.Equal(t, old, jwtSecret)
}
