package gateway

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "jwt_test_secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTVerifier_Verify(t *testing.T) {
	v := NewJWTVerifier(testJWTSecret, "turfgrid")

	token := signToken(t, testJWTSecret, jwt.MapClaims{
		"sub": "customer_42",
		"iss": "turfgrid",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	subject, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "customer_42", subject)
}

func TestJWTVerifier_RejectsWrongSecret(t *testing.T) {
	v := NewJWTVerifier(testJWTSecret, "")

	token := signToken(t, "some_other_secret", jwt.MapClaims{"sub": "customer_42"})
	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestJWTVerifier_RejectsWrongIssuer(t *testing.T) {
	v := NewJWTVerifier(testJWTSecret, "turfgrid")

	token := signToken(t, testJWTSecret, jwt.MapClaims{
		"sub": "customer_42",
		"iss": "someone_else",
	})
	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestJWTVerifier_RejectsExpiredToken(t *testing.T) {
	v := NewJWTVerifier(testJWTSecret, "")

	token := signToken(t, testJWTSecret, jwt.MapClaims{
		"sub": "customer_42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestJWTVerifier_RejectsMissingSubject(t *testing.T) {
	v := NewJWTVerifier(testJWTSecret, "")

	token := signToken(t, testJWTSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err := v.Verify(token)
	assert.ErrorContains(t, err, "no subject")
}

func TestJWTVerifier_RejectsUnsignedToken(t *testing.T) {
	v := NewJWTVerifier(testJWTSecret, "")

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "customer_42"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.Error(t, err)
}
