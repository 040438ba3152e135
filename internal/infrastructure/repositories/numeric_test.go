package repositories

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericConversion(t *testing.T) {
	t.Run("max uint256 survives", func(t *testing.T) {
		all := new(uint256.Int).SetAllOne()
		got, err := fromNumeric(toNumeric(all))
		require.NoError(t, err)
		assert.True(t, all.Eq(got))
	})

	t.Run("nil is zero", func(t *testing.T) {
		assert.True(t, toNumeric(nil).IsZero())
	})

	t.Run("rejects negative", func(t *testing.T) {
		_, err := fromNumeric(decimal.NewFromInt(-1))
		assert.Error(t, err)
	})

	t.Run("rejects fractions", func(t *testing.T) {
		_, err := fromNumeric(decimal.RequireFromString("1.5"))
		assert.Error(t, err)
	})

	t.Run("rejects overflow", func(t *testing.T) {
		over := toNumeric(new(uint256.Int).SetAllOne()).Add(decimal.NewFromInt(1))
		_, err := fromNumeric(over)
		assert.Error(t, err)
	})

	t.Run("null stays nil", func(t *testing.T) {
		got, err := fromNullNumeric(nullNumeric(nil))
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = fromNullNumeric(nullNumeric(uint256.NewInt(42)))
		require.NoError(t, err)
		assert.Equal(t, uint64(42), got.Uint64())
	})
}
