package oft

import (
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
)

// SharedDecimals is the precision amounts travel with between chains
const SharedDecimals uint8 = 6

// Decimals converts between local and shared precision
type Decimals struct {
	local uint8
	rate  *uint256.Int
}

// NewDecimals fails when the local token is less precise than the wire format
func NewDecimals(localDecimals uint8) (*Decimals, error) {
	if localDecimals < SharedDecimals {
		return nil, entities.ErrInvalidLocalDecimals
	}
	rate := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(localDecimals-SharedDecimals)))
	return &Decimals{local: localDecimals, rate: rate}, nil
}

// Local returns the local token decimals
func (d *Decimals) Local() uint8 { return d.local }

// ConversionRate is 10^(local - shared)
func (d *Decimals) ConversionRate() *uint256.Int { return d.rate.Clone() }

// RemoveDust truncates amountLD to what shared decimals can represent
func (d *Decimals) RemoveDust(amountLD *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Div(amountLD, d.rate)
	return out.Mul(out, d.rate)
}

// ToSD converts a dust-free local amount to shared decimals
func (d *Decimals) ToSD(amountLD *uint256.Int) (uint64, error) {
	sd := new(uint256.Int).Div(amountLD, d.rate)
	if !sd.IsUint64() {
		return 0, entities.ErrAmountSDOverflow
	}
	return sd.Uint64(), nil
}

// ToLD converts a shared-decimals amount back to local decimals
func (d *Decimals) ToLD(amountSD uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(amountSD), d.rate)
}

// DebitView returns what leaves the sender and what reaches the recipient.
// Both are the dust-free amount; the dust stays with the sender.
func (d *Decimals) DebitView(amountLD, minAmountLD *uint256.Int) (sent, received *uint256.Int, err error) {
	sent = d.RemoveDust(amountLD)
	received = sent.Clone()
	if minAmountLD != nil && received.Lt(minAmountLD) {
		return nil, nil, entities.ErrSlippageExceeded
	}
	return sent, received, nil
}
