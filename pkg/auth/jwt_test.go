package auth

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func TestGenerateAndValidate(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	token, exp, err := GenerateToken(account, testSecret, "oft_service", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := ValidateToken(token, testSecret, "oft_service")
	require.NoError(t, err)
	got, err := claims.Account()
	require.NoError(t, err)
	assert.Equal(t, account, got)
}

func TestValidateToken_Rejects(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := GenerateToken(account, testSecret, "oft_service", time.Hour)
		require.NoError(t, err)
		_, err = ValidateToken(token, "another-secret-entirely-different", "oft_service")
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, _, err := GenerateToken(account, testSecret, "oft_service", -time.Minute)
		require.NoError(t, err)
		_, err = ValidateToken(token, testSecret, "oft_service")
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, _, err := GenerateToken(account, testSecret, "someone_else", time.Hour)
		require.NoError(t, err)
		_, err = ValidateToken(token, testSecret, "oft_service")
		assert.Error(t, err)
	})

	t.Run("subject is not an address", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = ValidateToken(token, testSecret, "")
		assert.ErrorIs(t, err, ErrInvalidAccount)
	})
}
