package oft

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
)

func TestNewDecimals(t *testing.T) {
	d, err := NewDecimals(18)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1_000_000_000_000), d.ConversionRate())

	d, err = NewDecimals(6)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1), d.ConversionRate())

	_, err = NewDecimals(5)
	assert.ErrorIs(t, err, entities.ErrInvalidLocalDecimals)
}

func TestDecimals_RemoveDust(t *testing.T) {
	d, err := NewDecimals(18)
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"999999999999", "0"},
		{"1000000000000", "1000000000000"},
		{"1234567891234567891", "1234567000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := d.RemoveDust(uint256.MustFromDecimal(tt.in))
			assert.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestDecimals_SharedConversion(t *testing.T) {
	d, err := NewDecimals(18)
	require.NoError(t, err)

	sd, err := d.ToSD(uint256.MustFromDecimal("2500000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500_000), sd)
	assert.Equal(t, "2500000000000000000", d.ToLD(sd).Dec())

	tooLarge := new(uint256.Int).Mul(uint256.NewInt(^uint64(0)), d.ConversionRate())
	tooLarge.Add(tooLarge, d.ConversionRate())
	_, err = d.ToSD(tooLarge)
	assert.ErrorIs(t, err, entities.ErrAmountSDOverflow)
}

func TestDecimals_DebitView(t *testing.T) {
	d, err := NewDecimals(18)
	require.NoError(t, err)
	amount := uint256.MustFromDecimal("1000000000000000123")

	sent, received, err := d.DebitView(amount, nil)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", sent.Dec())
	assert.Equal(t, sent, received)

	_, _, err = d.DebitView(amount, amount)
	assert.ErrorIs(t, err, entities.ErrSlippageExceeded)

	_, _, err = d.DebitView(amount, uint256.MustFromDecimal("1000000000000000000"))
	assert.NoError(t, err)
}
