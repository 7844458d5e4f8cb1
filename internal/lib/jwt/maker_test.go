package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secretKey = "test_secret_key_1234567890"

func TestJWTMaker_GenerateAndParseToken(t *testing.T) {
	tokenTTL := 15 * time.Minute
	maker := NewJWTMaker(secretKey, tokenTTL)

	tests := []struct {
		name       string
		employerID string
		role       string
	}{
		{name: "employer admin", employerID: "0b5e7d7c-9a4e-4a8f-9f1c-2f3a9c1d7e11", role: "employer"},
		{name: "employer without role", employerID: "emp-42", role: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := maker.GenerateToken(tt.employerID, tt.role)
			require.NoError(t, err)
			assert.NotEmpty(t, token)

			claims, err := maker.ParseToken(token)
			require.NoError(t, err)

			assert.Equal(t, tt.employerID, claims.EmployerID)
			assert.Equal(t, tt.role, claims.Role)
			assert.WithinDuration(t, time.Now().Add(tokenTTL), claims.ExpiresAt.Time, time.Second)
		})
	}
}

func TestJWTMaker_ParseToken_Invalid(t *testing.T) {
	maker := NewJWTMaker(secretKey, time.Minute)

	expired, err := NewJWTMaker(secretKey, -time.Minute).GenerateToken("emp-1", "employer")
	require.NoError(t, err)

	otherKey, err := NewJWTMaker("another_secret", time.Minute).GenerateToken("emp-1", "employer")
	require.NoError(t, err)

	noEmployer, err := maker.GenerateToken("", "employer")
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, CustomClaims{
		EmployerID: "emp-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(secretKey))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		is    error
	}{
		{name: "garbage", token: "not.a.token"},
		{name: "empty", token: ""},
		{name: "expired", token: expired, is: jwt.ErrTokenExpired},
		{name: "wrong key", token: otherKey, is: jwt.ErrTokenSignatureInvalid},
		{name: "unexpected algorithm", token: hs512},
		{name: "no employer claim", token: noEmployer, is: ErrNoEmployer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := maker.ParseToken(tt.token)
			require.Error(t, err)
			assert.Nil(t, claims)
			assert.Contains(t, err.Error(), "jwt.ParseToken")
			if tt.is != nil {
				assert.True(t, errors.Is(err, tt.is), "got %v", err)
			}
		})
	}
}
