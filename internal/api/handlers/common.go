package handlers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/mbtc-bridge/oft_service/internal/api/middleware"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

var (
	errInvalidAddress = errors.New("invalid address")
	errInvalidAmount  = errors.New("invalid amount")
)

type base struct {
	logger *logger.Logger
	clock  func() time.Time
}

func (b *base) now() time.Time {
	if b.clock != nil {
		return b.clock()
	}
	return time.Now()
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("recipient", validRecipient)
		v.RegisterValidation("hexbytes", validHexBytes)
		v.RegisterValidation("amount", validAmount)
	}
}

// recipient accepts a 20-byte address or a 32-byte peer encoding
func validRecipient(fl validator.FieldLevel) bool {
	_, err := parseRecipient(fl.Field().String())
	return err == nil
}

func validHexBytes(fl validator.FieldLevel) bool {
	_, err := parseHex(fl.Field().String())
	return err == nil
}

func validAmount(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	d, err := decimal.NewFromString(s)
	return err == nil && d.Sign() >= 0
}

// getAccount returns the authenticated caller
func getAccount(c *gin.Context) (common.Address, bool) {
	s := c.GetString(middleware.AccountKey)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	return c.GetString("request_id")
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", errInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// parseRecipient left-pads 20-byte addresses into the bytes32 encoding
func parseRecipient(s string) (common.Hash, error) {
	b, err := parseHex(s)
	if err != nil {
		return common.Hash{}, err
	}
	switch len(b) {
	case common.AddressLength:
		return common.BytesToHash(b), nil
	case common.HashLength:
		return common.BytesToHash(b), nil
	default:
		return common.Hash{}, fmt.Errorf("%w: %q", errInvalidAddress, s)
	}
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func parseEid(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid eid %q", s)
	}
	return uint32(v), nil
}

// toLocalUnits converts a human amount such as "1.5" to local decimals.
// Precision beyond the token's decimals is rejected, not rounded.
func toLocalUnits(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil || d.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", errInvalidAmount, s, decimals)
	}
	v, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %q overflows", errInvalidAmount, s)
	}
	return v, nil
}

// formatUnits renders local units as a human amount
func formatUnits(v *uint256.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).String()
}

// parseRawAmount accepts an integer amount in the smallest unit
func parseRawAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	return v, nil
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
