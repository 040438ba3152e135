package oft

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
)

// Packet is an outbound message handed to the channel
type Packet struct {
	// ID is the client id of the send, stable across lookups
	ID       uuid.UUID
	SrcEid   uint32
	Sender   common.Hash
	DstEid   uint32
	Receiver common.Hash
	Payload  []byte
	Options  []byte
	Fee      entities.MessagingFee
	Refund   common.Address
}

// MessageChannel carries opaque payloads between endpoints
type MessageChannel interface {
	EstimateFee(ctx context.Context, dstEid uint32, payloadSize int, options []byte, payInAlt bool) (entities.MessagingFee, error)
	// Send accepts the packet or fails with an error wrapping
	// entities.ErrChannelRejected, or entities.ErrDispatchUnknown when the
	// packet may have been accepted anyway
	Send(ctx context.Context, packet Packet) (entities.MessagingReceipt, error)
}

// DispatchResolver is implemented by channels that can look up a packet by
// the id it was sent with. A nil receipt means the channel never took it.
type DispatchResolver interface {
	LookupPacket(ctx context.Context, id uuid.UUID) (*entities.MessagingReceipt, error)
}

// Composer receives compose payloads after an inbound credit
type Composer interface {
	Compose(ctx context.Context, to common.Address, guid common.Hash, index uint16, payload []byte) error
}

// Locker serializes sends per key
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// AccessController is the subset of access control used by transfers
type AccessController interface {
	RequireRole(ctx context.Context, account common.Address, role entities.Role) error
	RequireNotPaused(ctx context.Context, class entities.PauseClass) error
}

// RateLimiter is the subset of the rate limit service used by transfers
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, dstEid uint32, amount *uint256.Int, now time.Time) error
	GetAmountCanBeSent(ctx context.Context, dstEid uint32, now time.Time) (*entities.RateLimitStatus, error)
}

// PeerResolver returns the configured counterpart for an endpoint or entities.ErrNoPeer
type PeerResolver interface {
	Peer(ctx context.Context, eid uint32) (common.Hash, error)
}
