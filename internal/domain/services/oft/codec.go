package oft

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"golang.org/x/crypto/sha3"
)

// Transfer message layout:
//
//	to [32] | amountSD uint64 BE [8] | composeFrom [32] | composeMsg [...]
//
// The last two fields are present only for send-and-call transfers.
const (
	sendToOffset      = 32
	amountSDOffset    = 40
	composeFromOffset = 72
)

// Message is a decoded transfer payload
type Message struct {
	To          common.Hash
	AmountSD    uint64
	ComposeFrom common.Hash
	ComposeMsg  []byte
}

// IsComposed reports whether the message carries a compose payload
func (m *Message) IsComposed() bool { return len(m.ComposeMsg) > 0 }

// EncodeMessage packs a transfer payload
func EncodeMessage(to common.Hash, amountSD uint64, composeFrom common.Hash, composeMsg []byte) []byte {
	size := amountSDOffset
	if len(composeMsg) > 0 {
		size = composeFromOffset + len(composeMsg)
	}
	buf := make([]byte, size)
	copy(buf[:sendToOffset], to.Bytes())
	binary.BigEndian.PutUint64(buf[sendToOffset:amountSDOffset], amountSD)
	if len(composeMsg) > 0 {
		copy(buf[amountSDOffset:composeFromOffset], composeFrom.Bytes())
		copy(buf[composeFromOffset:], composeMsg)
	}
	return buf
}

// DecodeMessage unpacks a transfer payload
func DecodeMessage(payload []byte) (*Message, error) {
	if len(payload) < amountSDOffset {
		return nil, entities.ErrInvalidPayload
	}
	m := &Message{
		To:       common.BytesToHash(payload[:sendToOffset]),
		AmountSD: binary.BigEndian.Uint64(payload[sendToOffset:amountSDOffset]),
	}
	if len(payload) > amountSDOffset {
		if len(payload) <= composeFromOffset {
			return nil, entities.ErrInvalidPayload
		}
		m.ComposeFrom = common.BytesToHash(payload[amountSDOffset:composeFromOffset])
		m.ComposeMsg = append([]byte(nil), payload[composeFromOffset:]...)
	}
	return m, nil
}

// Compose payload layout handed to the composer on the destination:
//
//	nonce uint64 [8] | srcEid uint32 [4] | amountLD uint256 [32] | composeFrom [32] | composeMsg [...]
const (
	composeNonceOffset  = 8
	composeSrcEidOffset = 12
	composeAmountOffset = 44
	composeHeaderSize   = composeAmountOffset + 32
)

// ComposeMessage is a decoded compose payload
type ComposeMessage struct {
	Nonce       uint64
	SrcEid      uint32
	AmountLD    *uint256.Int
	ComposeFrom common.Hash
	ComposeMsg  []byte
}

// EncodeCompose builds the payload passed to a composer
func EncodeCompose(nonce uint64, srcEid uint32, amountLD *uint256.Int, composeFrom common.Hash, composeMsg []byte) []byte {
	buf := make([]byte, composeHeaderSize+len(composeMsg))
	binary.BigEndian.PutUint64(buf[:composeNonceOffset], nonce)
	binary.BigEndian.PutUint32(buf[composeNonceOffset:composeSrcEidOffset], srcEid)
	amount := amountLD.Bytes32()
	copy(buf[composeSrcEidOffset:composeAmountOffset], amount[:])
	copy(buf[composeAmountOffset:composeHeaderSize], composeFrom.Bytes())
	copy(buf[composeHeaderSize:], composeMsg)
	return buf
}

// DecodeCompose unpacks a compose payload
func DecodeCompose(payload []byte) (*ComposeMessage, error) {
	if len(payload) < composeHeaderSize {
		return nil, entities.ErrInvalidPayload
	}
	return &ComposeMessage{
		Nonce:       binary.BigEndian.Uint64(payload[:composeNonceOffset]),
		SrcEid:      binary.BigEndian.Uint32(payload[composeNonceOffset:composeSrcEidOffset]),
		AmountLD:    new(uint256.Int).SetBytes(payload[composeSrcEidOffset:composeAmountOffset]),
		ComposeFrom: common.BytesToHash(payload[composeAmountOffset:composeHeaderSize]),
		ComposeMsg:  append([]byte(nil), payload[composeHeaderSize:]...),
	}, nil
}

// ComputeGUID derives the message id an endpoint assigns to a packet
func ComputeGUID(nonce uint64, srcEid uint32, sender common.Hash, dstEid uint32, receiver common.Hash) common.Hash {
	buf := make([]byte, 0, 8+4+32+4+32)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	buf = binary.BigEndian.AppendUint32(buf, srcEid)
	buf = append(buf, sender.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, dstEid)
	buf = append(buf, receiver.Bytes()...)

	h := sha3.NewLegacyKeccak256()
	h.Write(buf)
	return common.BytesToHash(h.Sum(nil))
}
