package oft

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
)

// Type-3 options: a 2-byte type header followed by worker options, each
// encoded as workerId [1] | size [2] | optionType [1] | option [size-1].
const (
	OptionsType3 uint16 = 3

	WorkerExecutor uint8 = 1

	OptionLzReceive  uint8 = 1
	OptionNativeDrop uint8 = 2
	OptionLzCompose  uint8 = 3
	OptionOrdered    uint8 = 4
)

// ExecutorOption is one decoded executor option
type ExecutorOption struct {
	Type  uint8
	Index uint16
	Gas   uint64
	Value uint64
	// NativeDrop only
	Receiver common.Hash
}

// OptionsBuilder assembles type-3 executor options
type OptionsBuilder struct {
	buf []byte
}

// NewOptions starts an empty type-3 options blob
func NewOptions() *OptionsBuilder {
	return &OptionsBuilder{buf: binary.BigEndian.AppendUint16(nil, OptionsType3)}
}

// AddExecutorLzReceiveOption sets gas and msg.value for the receive call
func (b *OptionsBuilder) AddExecutorLzReceiveOption(gas, value uint64) *OptionsBuilder {
	opt := appendUint128(nil, gas)
	if value != 0 {
		opt = appendUint128(opt, value)
	}
	return b.addExecutorOption(OptionLzReceive, opt)
}

// AddExecutorNativeDropOption airdrops native gas to receiver
func (b *OptionsBuilder) AddExecutorNativeDropOption(amount uint64, receiver common.Hash) *OptionsBuilder {
	opt := appendUint128(nil, amount)
	opt = append(opt, receiver.Bytes()...)
	return b.addExecutorOption(OptionNativeDrop, opt)
}

// AddExecutorComposeOption sets gas and value for compose call index
func (b *OptionsBuilder) AddExecutorComposeOption(index uint16, gas, value uint64) *OptionsBuilder {
	opt := binary.BigEndian.AppendUint16(nil, index)
	opt = appendUint128(opt, gas)
	if value != 0 {
		opt = appendUint128(opt, value)
	}
	return b.addExecutorOption(OptionLzCompose, opt)
}

// AddExecutorOrderedExecutionOption requests ordered delivery
func (b *OptionsBuilder) AddExecutorOrderedExecutionOption() *OptionsBuilder {
	return b.addExecutorOption(OptionOrdered, nil)
}

func (b *OptionsBuilder) addExecutorOption(optionType uint8, option []byte) *OptionsBuilder {
	b.buf = append(b.buf, WorkerExecutor)
	b.buf = binary.BigEndian.AppendUint16(b.buf, uint16(len(option)+1))
	b.buf = append(b.buf, optionType)
	b.buf = append(b.buf, option...)
	return b
}

// Bytes returns the encoded options
func (b *OptionsBuilder) Bytes() []byte {
	return append([]byte(nil), b.buf...)
}

// DecodeOptions parses type-3 options. Non-executor worker options are
// skipped after their length is checked.
func DecodeOptions(options []byte) ([]ExecutorOption, error) {
	if len(options) == 0 {
		return nil, nil
	}
	if len(options) < 2 || binary.BigEndian.Uint16(options[:2]) != OptionsType3 {
		return nil, fmt.Errorf("%w: unsupported options type", entities.ErrInvalidOptions)
	}

	var out []ExecutorOption
	for cursor := 2; cursor < len(options); {
		if len(options)-cursor < 4 {
			return nil, fmt.Errorf("%w: truncated worker option", entities.ErrInvalidOptions)
		}
		worker := options[cursor]
		size := int(binary.BigEndian.Uint16(options[cursor+1 : cursor+3]))
		if size == 0 || cursor+3+size > len(options) {
			return nil, fmt.Errorf("%w: bad option size", entities.ErrInvalidOptions)
		}
		optionType := options[cursor+3]
		body := options[cursor+4 : cursor+3+size]
		cursor += 3 + size

		if worker != WorkerExecutor {
			continue
		}
		opt, err := decodeExecutorOption(optionType, body)
		if err != nil {
			return nil, err
		}
		out = append(out, opt)
	}
	return out, nil
}

func decodeExecutorOption(optionType uint8, body []byte) (ExecutorOption, error) {
	opt := ExecutorOption{Type: optionType}
	var err error
	switch optionType {
	case OptionLzReceive:
		if len(body) != 16 && len(body) != 32 {
			return opt, fmt.Errorf("%w: lzReceive option length %d", entities.ErrInvalidOptions, len(body))
		}
		if opt.Gas, err = readUint128(body[:16]); err != nil {
			return opt, err
		}
		if len(body) == 32 {
			opt.Value, err = readUint128(body[16:])
		}
	case OptionNativeDrop:
		if len(body) != 48 {
			return opt, fmt.Errorf("%w: nativeDrop option length %d", entities.ErrInvalidOptions, len(body))
		}
		if opt.Value, err = readUint128(body[:16]); err != nil {
			return opt, err
		}
		opt.Receiver = common.BytesToHash(body[16:])
	case OptionLzCompose:
		if len(body) != 18 && len(body) != 34 {
			return opt, fmt.Errorf("%w: lzCompose option length %d", entities.ErrInvalidOptions, len(body))
		}
		opt.Index = binary.BigEndian.Uint16(body[:2])
		if opt.Gas, err = readUint128(body[2:18]); err != nil {
			return opt, err
		}
		if len(body) == 34 {
			opt.Value, err = readUint128(body[18:])
		}
	case OptionOrdered:
		if len(body) != 0 {
			return opt, fmt.Errorf("%w: ordered option carries no data", entities.ErrInvalidOptions)
		}
	default:
		return opt, fmt.Errorf("%w: unknown executor option %d", entities.ErrInvalidOptions, optionType)
	}
	return opt, err
}

// ValidateOptions checks that options decode cleanly
func ValidateOptions(options []byte) error {
	_, err := DecodeOptions(options)
	return err
}

// CombineOptions appends caller options to the enforced ones. Both must be
// type-3; the caller's type header is dropped.
func CombineOptions(enforced, extra []byte) ([]byte, error) {
	if len(enforced) == 0 {
		if err := ValidateOptions(extra); err != nil {
			return nil, err
		}
		return append([]byte(nil), extra...), nil
	}
	if len(extra) <= 2 {
		return append([]byte(nil), enforced...), nil
	}
	if err := ValidateOptions(extra); err != nil {
		return nil, err
	}
	combined := make([]byte, 0, len(enforced)+len(extra)-2)
	combined = append(combined, enforced...)
	return append(combined, extra[2:]...), nil
}

// TotalGas sums lzReceive and lzCompose gas across options
func TotalGas(options []byte) (uint64, error) {
	opts, err := DecodeOptions(options)
	if err != nil {
		return 0, err
	}
	var gas uint64
	for _, o := range opts {
		if o.Type == OptionLzReceive || o.Type == OptionLzCompose {
			gas += o.Gas
		}
	}
	return gas, nil
}

// SetEnforcedOptions stores minimum options per destination and message type. Admin only.
func (s *Service) SetEnforcedOptions(ctx context.Context, caller common.Address, opts []entities.EnforcedOption) error {
	if err := s.access.RequireRole(ctx, caller, entities.RoleAdmin); err != nil {
		return err
	}
	for _, o := range opts {
		if o.MsgType != entities.MsgTypeSend && o.MsgType != entities.MsgTypeSendAndCall {
			return fmt.Errorf("%w: msg type %d", entities.ErrInvalidOptions, o.MsgType)
		}
		if len(o.Options) == 0 {
			continue
		}
		if err := ValidateOptions(o.Options); err != nil {
			return fmt.Errorf("eid %d msg type %d: %w", o.Eid, o.MsgType, err)
		}
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for i := range opts {
			if err := s.options.Set(ctx, &opts[i]); err != nil {
				return fmt.Errorf("failed to store enforced options: %w", err)
			}
			s.logger.Info("Enforced options set",
				"eid", opts[i].Eid,
				"msg_type", opts[i].MsgType,
				"options", common.Bytes2Hex(opts[i].Options),
				"by", caller.Hex())
		}
		return nil
	})
}

// EnforcedOptions returns the stored options for eid and msgType, or nil
func (s *Service) EnforcedOptions(ctx context.Context, eid uint32, msgType uint16) ([]byte, error) {
	o, err := s.options.Get(ctx, eid, msgType)
	if err != nil {
		return nil, fmt.Errorf("failed to load enforced options: %w", err)
	}
	if o == nil {
		return nil, nil
	}
	return o.Options, nil
}

func (s *Service) combineOptions(ctx context.Context, eid uint32, msgType uint16, extra []byte) ([]byte, error) {
	enforced, err := s.EnforcedOptions(ctx, eid, msgType)
	if err != nil {
		return nil, err
	}
	return CombineOptions(enforced, extra)
}

func appendUint128(buf []byte, v uint64) []byte {
	buf = binary.BigEndian.AppendUint64(buf, 0)
	return binary.BigEndian.AppendUint64(buf, v)
}

func readUint128(b []byte) (uint64, error) {
	if binary.BigEndian.Uint64(b[:8]) != 0 {
		return 0, fmt.Errorf("%w: value exceeds uint64", entities.ErrInvalidOptions)
	}
	return binary.BigEndian.Uint64(b[8:16]), nil
}
