package entities

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// TransferStatus represents the stage an OFT transfer reached
type TransferStatus string

const (
	TransferStatusQuoted           TransferStatus = "quoted"
	TransferStatusRateLimitChecked TransferStatus = "rate_limit_checked"
	TransferStatusDebited          TransferStatus = "debited"
	TransferStatusMessageSent      TransferStatus = "message_sent"
	// the channel may have accepted the message; the debit is kept until resolved
	TransferStatusDispatchUnknown  TransferStatus = "dispatch_unknown"
	TransferStatusSucceeded        TransferStatus = "succeeded"
	TransferStatusFailed           TransferStatus = "failed"
)

// TransferDirection distinguishes sends from inbound credits
type TransferDirection string

const (
	TransferDirectionOutbound TransferDirection = "outbound"
	TransferDirectionInbound  TransferDirection = "inbound"
)

// Message types used to look up enforced options
const (
	MsgTypeSend        uint16 = 1
	MsgTypeSendAndCall uint16 = 2
)

// SendParam describes an outbound transfer request
type SendParam struct {
	DstEid       uint32       `json:"dst_eid"`
	To           common.Hash  `json:"to"`
	AmountLD     *uint256.Int `json:"amount_ld"`
	MinAmountLD  *uint256.Int `json:"min_amount_ld"`
	ExtraOptions []byte       `json:"extra_options,omitempty"`
	ComposeMsg   []byte       `json:"compose_msg,omitempty"`
	OFTCmd       []byte       `json:"oft_cmd,omitempty"`
}

// Validate checks the request shape. Peer and pause checks belong to the services.
func (p *SendParam) Validate() error {
	if p.AmountLD == nil || p.AmountLD.IsZero() {
		return ErrZeroAmount
	}
	if p.MinAmountLD != nil && p.MinAmountLD.Gt(p.AmountLD) {
		return ErrInvalidMinAmount
	}
	return nil
}

// MsgType returns the enforced-option message type for this request
func (p *SendParam) MsgType() uint16 {
	if len(p.ComposeMsg) > 0 {
		return MsgTypeSendAndCall
	}
	return MsgTypeSend
}

// MessagingFee is the channel fee for a single send
type MessagingFee struct {
	NativeFee   *uint256.Int `json:"native_fee"`
	AltTokenFee *uint256.Int `json:"alt_token_fee"`
}

// Covers reports whether a supplied fee pays for the quoted one
func (f MessagingFee) Covers(quoted MessagingFee) bool {
	return !amountOrZero(f.NativeFee).Lt(amountOrZero(quoted.NativeFee)) &&
		!amountOrZero(f.AltTokenFee).Lt(amountOrZero(quoted.AltTokenFee))
}

// MessagingReceipt is returned by the channel when a message is accepted
type MessagingReceipt struct {
	GUID  common.Hash  `json:"guid"`
	Nonce uint64       `json:"nonce"`
	Fee   MessagingFee `json:"fee"`
}

// OFTReceipt reports amounts debited locally and credited remotely
type OFTReceipt struct {
	AmountSentLD     *uint256.Int `json:"amount_sent_ld"`
	AmountReceivedLD *uint256.Int `json:"amount_received_ld"`
}

// OFTLimit is the range of amounts accepted for a destination
type OFTLimit struct {
	MinAmountLD *uint256.Int `json:"min_amount_ld"`
	MaxAmountLD *uint256.Int `json:"max_amount_ld"`
}

// OFTFeeDetail describes a fee component applied to a transfer
type OFTFeeDetail struct {
	FeeAmountLD *uint256.Int `json:"fee_amount_ld"`
	Description string       `json:"description"`
}

// OFTQuote is the full pre-flight view of a transfer
type OFTQuote struct {
	Limit      OFTLimit       `json:"limit"`
	FeeDetails []OFTFeeDetail `json:"fee_details"`
	Receipt    OFTReceipt     `json:"receipt"`
}

// SendResult is returned by a successful send
type SendResult struct {
	TransferID uuid.UUID        `json:"transfer_id"`
	Messaging  MessagingReceipt `json:"messaging"`
	OFT        OFTReceipt       `json:"oft"`
}

// Origin identifies where an inbound message came from
type Origin struct {
	SrcEid uint32      `json:"src_eid"`
	Sender common.Hash `json:"sender"`
	Nonce  uint64      `json:"nonce"`
}

// InboundMessage is an opaque payload delivered by the channel
type InboundMessage struct {
	Origin   Origin      `json:"origin"`
	DstEid   uint32      `json:"dst_eid"`
	Receiver common.Hash `json:"receiver"`
	GUID     common.Hash `json:"guid"`
	Payload  []byte      `json:"payload"`
}

// ProcessedMessage is the replay ledger entry for an inbound GUID
type ProcessedMessage struct {
	GUID        common.Hash `json:"guid" db:"guid"`
	SrcEid      uint32      `json:"src_eid" db:"src_eid"`
	Sender      common.Hash `json:"sender" db:"sender"`
	Nonce       uint64      `json:"nonce" db:"nonce"`
	ProcessedAt time.Time   `json:"processed_at" db:"processed_at"`
}

// Transfer is the persisted record of a send or an inbound credit
type Transfer struct {
	ID               uuid.UUID         `json:"id"`
	GUID             common.Hash       `json:"guid"`
	Direction        TransferDirection `json:"direction"`
	SrcEid           uint32            `json:"src_eid"`
	DstEid           uint32            `json:"dst_eid"`
	Nonce            uint64            `json:"nonce"`
	From             common.Hash       `json:"from"`
	To               common.Hash       `json:"to"`
	AmountSentLD     *uint256.Int      `json:"amount_sent_ld"`
	AmountReceivedLD *uint256.Int      `json:"amount_received_ld"`
	NativeFee        *uint256.Int      `json:"native_fee"`
	AltTokenFee      *uint256.Int      `json:"alt_token_fee"`
	Composed         bool              `json:"composed"`
	Status           TransferStatus    `json:"status"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Advance moves the record to the next stage
func (t *Transfer) Advance(status TransferStatus, now time.Time) {
	t.Status = status
	t.UpdatedAt = now
}

// Fail marks the record failed, keeping the stage it reached in the reason
func (t *Transfer) Fail(err error, now time.Time) {
	t.FailureReason = string(t.Status) + ": " + err.Error()
	t.Status = TransferStatusFailed
	t.UpdatedAt = now
}

// AddressToBytes32 left-pads a local address into the peer encoding
func AddressToBytes32(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// Bytes32ToAddress takes the low 20 bytes of a bytes32 recipient
func Bytes32ToAddress(b common.Hash) common.Address {
	return common.BytesToAddress(b.Bytes())
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
