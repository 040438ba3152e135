// Package channel implements an in-process message channel between
// bridge endpoints. Sends are queued and delivered at least once when the
// network is drained, which lets tests and local deployments exercise the
// full send/receive path and redelivery.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/oft"
)

// ErrUnknownEndpoint is returned for destinations not attached to the network
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Receiver handles packets delivered to a registered address
type Receiver interface {
	Receive(ctx context.Context, msg entities.InboundMessage) (*entities.Transfer, error)
}

// FeeModel prices a packet. Fees are in the native token's smallest unit.
type FeeModel struct {
	BaseFee    uint64
	PerByteFee uint64
	GasPrice   uint64
}

// DefaultFeeModel is used when an endpoint is attached without one
var DefaultFeeModel = FeeModel{BaseFee: 100_000, PerByteFee: 100, GasPrice: 1}

type pathKey struct {
	sender   common.Hash
	dstEid   uint32
	receiver common.Hash
}

// Network connects loopback endpoints
type Network struct {
	mu        sync.Mutex
	endpoints map[uint32]*Endpoint
	queue     []entities.InboundMessage
	delivered map[common.Hash]entities.InboundMessage
	logger    *zap.Logger
}

func NewNetwork(logger *zap.Logger) *Network {
	return &Network{
		endpoints: make(map[uint32]*Endpoint),
		delivered: make(map[common.Hash]entities.InboundMessage),
		logger:    logger,
	}
}

// Endpoint attaches an endpoint for eid, creating it on first use
func (n *Network) Endpoint(eid uint32, fees FeeModel) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.endpoints[eid]; ok {
		return ep
	}
	ep := &Endpoint{
		eid:       eid,
		network:   n,
		fees:      fees,
		nonces:    make(map[pathKey]uint64),
		receivers: make(map[common.Hash]Receiver),
	}
	n.endpoints[eid] = ep
	return ep
}

// Pending returns the number of queued packets
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Deliver drains the queue once. Packets whose delivery fails with a
// retryable error are queued again; replays and unauthorized senders are
// dropped. The returned error joins every delivery failure.
func (n *Network) Deliver(ctx context.Context) (int, error) {
	n.mu.Lock()
	batch := n.queue
	n.queue = nil
	n.mu.Unlock()

	var (
		delivered int
		errs      []error
		retry     []entities.InboundMessage
	)
	for _, msg := range batch {
		err := n.deliver(ctx, msg)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, entities.ErrDuplicateMessage), errors.Is(err, entities.ErrUnauthorizedPeer),
			errors.Is(err, entities.ErrInvalidPayload), errors.Is(err, ErrUnknownEndpoint):
			errs = append(errs, err)
		default:
			errs = append(errs, err)
			retry = append(retry, msg)
		}
	}

	if len(retry) > 0 {
		n.mu.Lock()
		n.queue = append(retry, n.queue...)
		n.mu.Unlock()
	}
	return delivered, errors.Join(errs...)
}

func (n *Network) deliver(ctx context.Context, msg entities.InboundMessage) error {
	n.mu.Lock()
	ep, ok := n.endpoints[msg.DstEid]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEndpoint, msg.DstEid)
	}

	r, ok := ep.receiver(msg.Receiver)
	if !ok {
		return fmt.Errorf("%w: no receiver %s on eid %d", ErrUnknownEndpoint, msg.Receiver.Hex(), msg.DstEid)
	}

	n.mu.Lock()
	n.delivered[msg.GUID] = msg
	n.mu.Unlock()

	if _, err := r.Receive(ctx, msg); err != nil {
		n.logger.Debug("Delivery failed",
			zap.String("guid", msg.GUID.Hex()),
			zap.Uint32("dst_eid", msg.DstEid),
			zap.Error(err))
		return err
	}
	return nil
}

// Redeliver queues a previously delivered packet again
func (n *Network) Redeliver(guid common.Hash) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	msg, ok := n.delivered[guid]
	if !ok {
		return false
	}
	n.queue = append(n.queue, msg)
	return true
}

// Endpoint is one chain's view of the network. It implements oft.MessageChannel.
type Endpoint struct {
	eid     uint32
	network *Network
	fees    FeeModel

	mu        sync.Mutex
	nonces    map[pathKey]uint64
	receivers map[common.Hash]Receiver
	rejectFn  func(oft.Packet) error
}

// Eid returns the endpoint id
func (e *Endpoint) Eid() uint32 { return e.eid }

// Register routes packets addressed to addr on this endpoint to r
func (e *Endpoint) Register(addr common.Address, r Receiver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.receivers[entities.AddressToBytes32(addr)] = r
}

// RejectWith installs a hook consulted before every send. A non-nil
// error from fn rejects the packet.
func (e *Endpoint) RejectWith(fn func(oft.Packet) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejectFn = fn
}

func (e *Endpoint) receiver(addr common.Hash) (Receiver, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.receivers[addr]
	return r, ok
}

// EstimateFee prices a packet of payloadSize bytes with the given options.
// Paying in the alternate token moves the messaging part of the fee off
// the native token; executor gas is always paid natively.
func (e *Endpoint) EstimateFee(_ context.Context, dstEid uint32, payloadSize int, options []byte, payInAlt bool) (entities.MessagingFee, error) {
	e.network.mu.Lock()
	_, ok := e.network.endpoints[dstEid]
	e.network.mu.Unlock()
	if !ok {
		return entities.MessagingFee{}, fmt.Errorf("%w: %d", ErrUnknownEndpoint, dstEid)
	}

	gas, err := oft.TotalGas(options)
	if err != nil {
		return entities.MessagingFee{}, err
	}

	messaging := uint256.NewInt(e.fees.BaseFee)
	messaging.Add(messaging, new(uint256.Int).Mul(uint256.NewInt(e.fees.PerByteFee), uint256.NewInt(uint64(payloadSize))))
	execution := new(uint256.Int).Mul(uint256.NewInt(e.fees.GasPrice), uint256.NewInt(gas))

	if payInAlt {
		return entities.MessagingFee{NativeFee: execution, AltTokenFee: messaging}, nil
	}
	return entities.MessagingFee{
		NativeFee:   new(uint256.Int).Add(messaging, execution),
		AltTokenFee: new(uint256.Int),
	}, nil
}

// Send queues packet for delivery and returns its receipt
func (e *Endpoint) Send(ctx context.Context, packet oft.Packet) (entities.MessagingReceipt, error) {
	e.mu.Lock()
	reject := e.rejectFn
	e.mu.Unlock()
	if reject != nil {
		if err := reject(packet); err != nil {
			return entities.MessagingReceipt{}, fmt.Errorf("%w: %v", entities.ErrChannelRejected, err)
		}
	}

	payInAlt := packet.Fee.AltTokenFee != nil && !packet.Fee.AltTokenFee.IsZero()
	quoted, err := e.EstimateFee(ctx, packet.DstEid, len(packet.Payload), packet.Options, payInAlt)
	if err != nil {
		return entities.MessagingReceipt{}, fmt.Errorf("%w: %v", entities.ErrChannelRejected, err)
	}
	if !packet.Fee.Covers(quoted) {
		return entities.MessagingReceipt{}, fmt.Errorf("%w: %w", entities.ErrChannelRejected, entities.ErrInsufficientFee)
	}

	path := pathKey{sender: packet.Sender, dstEid: packet.DstEid, receiver: packet.Receiver}
	e.mu.Lock()
	e.nonces[path]++
	nonce := e.nonces[path]
	e.mu.Unlock()

	guid := oft.ComputeGUID(nonce, e.eid, packet.Sender, packet.DstEid, packet.Receiver)

	e.network.mu.Lock()
	e.network.queue = append(e.network.queue, entities.InboundMessage{
		Origin:   entities.Origin{SrcEid: e.eid, Sender: packet.Sender, Nonce: nonce},
		DstEid:   packet.DstEid,
		Receiver: packet.Receiver,
		GUID:     guid,
		Payload:  append([]byte(nil), packet.Payload...),
	})
	e.network.mu.Unlock()

	e.network.logger.Debug("Packet queued",
		zap.String("guid", guid.Hex()),
		zap.Uint32("src_eid", e.eid),
		zap.Uint32("dst_eid", packet.DstEid),
		zap.Uint64("nonce", nonce))

	return entities.MessagingReceipt{GUID: guid, Nonce: nonce, Fee: quoted}, nil
}

var _ oft.MessageChannel = (*Endpoint)(nil)
