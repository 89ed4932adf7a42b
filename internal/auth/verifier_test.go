package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/relay/internal/domain"
)

const secret = "test-secret"

func TestVerifyIssuedToken(t *testing.T) {
	tok, err := NewIssuer(secret).Issue("64b0c0ffee", "ada", time.Hour)
	require.NoError(t, err)

	user, err := NewJWTVerifier(secret).Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("64b0c0ffee"), user.ID)
	assert.Equal(t, "ada", user.Name)
}

func TestVerifyRejects(t *testing.T) {
	v := NewJWTVerifier(secret)

	expired, err := NewIssuer(secret).Issue("u1", "", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewIssuer("other-secret").Issue("u1", "", time.Hour)
	require.NoError(t, err)
	noID, err := NewIssuer(secret).Issue("", "nobody", time.Hour)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{ID: "u1"}).SignedString([]byte(secret))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		ID:               "u1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	for name, tok := range map[string]string{
		"malformed": "not.a.jwt",
		"expired":   expired,
		"foreign":   foreign,
		"no id":     noID,
		"no exp":    noExp,
		"alg none":  unsigned,
		"truncated": expired[:len(expired)/2],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
