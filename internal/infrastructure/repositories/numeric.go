package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// NUMERIC(78,0) columns hold the full uint256 range

func toNumeric(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), 0)
}

func fromNumeric(d decimal.Decimal) (*uint256.Int, error) {
	if d.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", d.String())
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("fractional amount %s", d.String())
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %s overflows uint256", d.String())
	}
	return v, nil
}

func fromNullNumeric(d decimal.NullDecimal) (*uint256.Int, error) {
	if !d.Valid {
		return nil, nil
	}
	return fromNumeric(d.Decimal)
}

func nullNumeric(v *uint256.Int) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: toNumeric(v), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func addressKey(a common.Address) string {
	return a.Hex()
}

func hashKey(h common.Hash) string {
	return h.Hex()
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
