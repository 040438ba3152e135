package oft_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/repositories"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/access"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/ledger"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/oft"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/peers"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/ratelimit"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/adapters/channel"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/adapters/erc20"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/locks"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/memstore"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

const (
	eidA uint32 = 40101
	eidB uint32 = 40102
)

var (
	admin = common.HexToAddress("0x0000000000000000000000000000000000000ad1")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	bridgeA   = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	bridgeB   = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	extTokenA = common.HexToAddress("0x000000000000000000000000000000000000e20a")

	clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// tokens returns n whole tokens in 18 local decimals
func tokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18)))
}

type bridge struct {
	eid      uint32
	addr     common.Address
	store    *memstore.Store
	access   *access.Service
	limiter  *ratelimit.Service
	peers    *peers.Service
	ledger   *ledger.Service
	ext      *erc20.Token
	composer *channel.ComposeQueue
	endpoint *channel.Endpoint
	svc      *oft.Service
}

type harness struct {
	net *channel.Network
	a   *bridge
	b   *bridge
}

func newBridge(t *testing.T, net *channel.Network, eid uint32, addr common.Address, adapter bool) *bridge {
	t.Helper()
	ctx := context.Background()
	zapLog, _ := zap.NewDevelopment()
	log := logger.NewLogger(zapLog)

	br := &bridge{eid: eid, addr: addr, store: memstore.New()}
	br.access = access.NewService(br.store.Roles(), br.store.Pauses(), br.store, log)
	require.NoError(t, br.access.Initialize(ctx, admin))
	require.NoError(t, br.access.GrantRole(ctx, admin, entities.RoleMinter, admin))
	require.NoError(t, br.access.GrantRole(ctx, admin, entities.RolePauser, admin))

	br.limiter = ratelimit.NewService(br.store.RateLimits(), br.store, br.access, log)
	br.peers = peers.NewService(br.store.Peers(), br.access, log)
	br.ledger = ledger.NewService(br.store.Balances(), br.access, br.store, log)
	br.composer = channel.NewComposeQueue(zapLog)
	br.endpoint = net.Endpoint(eid, channel.DefaultFeeModel)

	var token oft.Token = oft.NewNativeToken(br.store.Balances(), 18)
	if adapter {
		br.ext = erc20.New(extTokenA, "Wrapped", "WRP", 18)
		token = oft.NewAdapterBinding(br.ext, addr, log)
	}

	svc, err := oft.NewService(oft.Config{LocalEid: eid, Address: addr}, oft.Deps{
		Token:     token,
		Channel:   br.endpoint,
		Access:    br.access,
		Limiter:   br.limiter,
		Peers:     br.peers,
		Locker:    locks.NewLocalLocker(),
		Composer:  br.composer,
		Tx:        br.store,
		Options:   br.store.EnforcedOptions(),
		Processed: br.store.ProcessedMessages(),
		Transfers: br.store.Transfers(),
	}, log)
	require.NoError(t, err)
	svc.SetClock(func() time.Time { return clock })
	br.svc = svc
	br.endpoint.Register(addr, svc)
	return br
}

func newHarness(t *testing.T, adapterA bool) *harness {
	t.Helper()
	ctx := context.Background()
	net := channel.NewNetwork(zap.NewNop())
	h := &harness{
		net: net,
		a:   newBridge(t, net, eidA, bridgeA, adapterA),
		b:   newBridge(t, net, eidB, bridgeB, false),
	}
	require.NoError(t, h.a.peers.SetPeer(ctx, admin, eidB, entities.AddressToBytes32(bridgeB)))
	require.NoError(t, h.b.peers.SetPeer(ctx, admin, eidA, entities.AddressToBytes32(bridgeA)))
	require.NoError(t, h.a.limiter.SetRateLimits(ctx, admin, []entities.RateLimitConfig{
		{DstEid: eidB, Limit: tokens(10000), Window: 10 * time.Second},
	}, clock))
	require.NoError(t, h.b.limiter.SetRateLimits(ctx, admin, []entities.RateLimitConfig{
		{DstEid: eidA, Limit: tokens(10000), Window: 10 * time.Second},
	}, clock))
	return h
}

func param(dst uint32, to common.Address, amount *uint256.Int) entities.SendParam {
	return entities.SendParam{
		DstEid:       dst,
		To:           entities.AddressToBytes32(to),
		AmountLD:     amount,
		MinAmountLD:  amount,
		ExtraOptions: oft.NewOptions().AddExecutorLzReceiveOption(200_000, 0).Bytes(),
	}
}

func quoteAndSend(t *testing.T, br *bridge, sender common.Address, p entities.SendParam) (*entities.SendResult, error) {
	t.Helper()
	fee, err := br.svc.QuoteSend(context.Background(), p, false)
	require.NoError(t, err)
	return br.svc.Send(context.Background(), sender, p, fee, sender)
}

func balance(t *testing.T, br *bridge, account common.Address) *uint256.Int {
	t.Helper()
	b, err := br.ledger.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return b
}

func extBalance(t *testing.T, br *bridge, account common.Address) *uint256.Int {
	t.Helper()
	b, err := br.ext.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return b
}

func allowance(t *testing.T, br *bridge, owner common.Address) *uint256.Int {
	t.Helper()
	a, err := br.ext.Allowance(context.Background(), owner, br.addr)
	require.NoError(t, err)
	return a
}

func inFlight(t *testing.T, br *bridge, dst uint32) *uint256.Int {
	t.Helper()
	st, err := br.limiter.GetAmountCanBeSent(context.Background(), dst, clock)
	require.NoError(t, err)
	return st.AmountInFlight
}

func failedTransfers(t *testing.T, br *bridge) []*entities.Transfer {
	t.Helper()
	status := entities.TransferStatusFailed
	out, err := br.store.Transfers().List(context.Background(), repositories.TransferFilter{Status: &status})
	require.NoError(t, err)
	return out
}

func TestSend_NativeToNative(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(100)))

	res, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(1)))
	require.NoError(t, err)
	assert.Equal(t, tokens(1), res.OFT.AmountSentLD)
	assert.Equal(t, tokens(1), res.OFT.AmountReceivedLD)
	assert.Equal(t, uint64(1), res.Messaging.Nonce)
	assert.Equal(t, tokens(99), balance(t, h.a, alice))
	assert.Equal(t, 1, h.net.Pending())

	delivered, err := h.net.Deliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, tokens(1), balance(t, h.b, bob))

	supplyA, err := h.a.ledger.TotalSupply(ctx)
	require.NoError(t, err)
	supplyB, err := h.b.ledger.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, tokens(100), new(uint256.Int).Add(supplyA, supplyB))

	sent, err := h.a.store.Transfers().GetByID(ctx, res.TransferID)
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, entities.TransferStatusSucceeded, sent.Status)
	assert.Equal(t, res.Messaging.GUID, sent.GUID)

	received, err := h.b.store.Transfers().GetByGUID(ctx, res.Messaging.GUID)
	require.NoError(t, err)
	require.NotNil(t, received)
	assert.Equal(t, entities.TransferDirectionInbound, received.Direction)
	assert.Equal(t, eidA, received.SrcEid)
}

func TestSend_SequentialSendsAreAdditive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(100)))

	for i := 0; i < 3; i++ {
		_, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(2)))
		require.NoError(t, err)
	}
	assert.Equal(t, tokens(94), balance(t, h.a, alice))
	assert.Equal(t, tokens(6), inFlight(t, h.a, eidB))

	_, err := h.net.Deliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, tokens(6), balance(t, h.b, bob))
}

func TestSend_RateLimitRejectionLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(20000)))

	_, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(3000)))
	require.NoError(t, err)

	st, err := h.a.limiter.GetAmountCanBeSent(ctx, eidB, clock)
	require.NoError(t, err)
	assert.Equal(t, tokens(7000), st.Available)

	_, err = quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(8000)))
	require.ErrorIs(t, err, entities.ErrRateLimitExceeded)
	var exceeded *entities.RateLimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, tokens(7000), exceeded.Available)

	assert.Equal(t, tokens(17000), balance(t, h.a, alice))
	assert.Equal(t, tokens(3000), inFlight(t, h.a, eidB))
	assert.Equal(t, 1, h.net.Pending())

	failed := failedTransfers(t, h.a)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].FailureReason, "rate limit exceeded")
}

func TestSend_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(1)))

	_, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(2)))
	require.ErrorIs(t, err, entities.ErrInsufficientBalance)
	assert.True(t, inFlight(t, h.a, eidB).IsZero(), "rate limit consumption must roll back with the debit")
}

func TestSend_ChannelRejectionRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(100)))
	h.a.endpoint.RejectWith(func(oft.Packet) error { return errors.New("executor offline") })

	_, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(5)))
	require.ErrorIs(t, err, entities.ErrChannelRejected)

	assert.Equal(t, tokens(100), balance(t, h.a, alice))
	assert.True(t, inFlight(t, h.a, eidB).IsZero())
	assert.Zero(t, h.net.Pending())

	failed := failedTransfers(t, h.a)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].FailureReason, string(entities.TransferStatusDebited))
}

func TestSend_UnderpaidFeeIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(10)))

	zero := entities.MessagingFee{NativeFee: new(uint256.Int), AltTokenFee: new(uint256.Int)}
	_, err := h.a.svc.Send(ctx, alice, param(eidB, bob, tokens(1)), zero, alice)
	require.ErrorIs(t, err, entities.ErrChannelRejected)
	assert.ErrorIs(t, err, entities.ErrInsufficientFee)
	assert.Equal(t, tokens(10), balance(t, h.a, alice))
}

func TestSend_Adapter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, h.a.ext.Mint(ctx, alice, tokens(100)))

	t.Run("zero allowance fails without moving custody", func(t *testing.T) {
		_, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(1)))
		require.ErrorIs(t, err, entities.ErrInsufficientAllowance)

		assert.Equal(t, tokens(100), extBalance(t, h.a, alice))
		assert.True(t, extBalance(t, h.a, bridgeA).IsZero())
		assert.True(t, inFlight(t, h.a, eidB).IsZero())
	})

	t.Run("approved send locks and mints remotely", func(t *testing.T) {
		require.NoError(t, h.a.ext.Approve(ctx, alice, bridgeA, tokens(1)))

		_, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(1)))
		require.NoError(t, err)
		assert.Equal(t, tokens(99), extBalance(t, h.a, alice))
		assert.Equal(t, tokens(1), extBalance(t, h.a, bridgeA))

		_, err = h.net.Deliver(ctx)
		require.NoError(t, err)
		assert.Equal(t, tokens(1), balance(t, h.b, bob))
	})

	t.Run("return trip unlocks custody", func(t *testing.T) {
		_, err := quoteAndSend(t, h.b, bob, param(eidA, alice, tokens(1)))
		require.NoError(t, err)
		assert.True(t, balance(t, h.b, bob).IsZero())

		_, err = h.net.Deliver(ctx)
		require.NoError(t, err)
		assert.Equal(t, tokens(100), extBalance(t, h.a, alice))
		assert.True(t, extBalance(t, h.a, bridgeA).IsZero())
	})

	t.Run("channel rejection leaves balance and allowance untouched", func(t *testing.T) {
		require.NoError(t, h.a.ext.Approve(ctx, alice, bridgeA, tokens(5)))
		h.a.endpoint.RejectWith(func(oft.Packet) error { return errors.New("rejected") })

		_, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(5)))
		require.ErrorIs(t, err, entities.ErrChannelRejected)
		assert.Equal(t, tokens(100), extBalance(t, h.a, alice))
		assert.True(t, extBalance(t, h.a, bridgeA).IsZero())
		assert.Equal(t, tokens(5), allowance(t, h.a, alice))
		assert.True(t, inFlight(t, h.a, eidB).Eq(tokens(1)))

		h.a.endpoint.RejectWith(nil)
		_, err = quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(5)))
		require.NoError(t, err)
		assert.Equal(t, tokens(95), extBalance(t, h.a, alice))
		assert.Equal(t, tokens(5), extBalance(t, h.a, bridgeA))
		assert.True(t, allowance(t, h.a, alice).IsZero())
	})
}

func TestReceive_AdapterWithoutCustodyStaysRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	from := entities.AddressToBytes32(bridgeB)
	to := entities.AddressToBytes32(bridgeA)
	msg := entities.InboundMessage{
		Origin:  entities.Origin{SrcEid: eidB, Sender: from, Nonce: 1},
		DstEid:  eidA,
		GUID:    oft.ComputeGUID(1, eidB, from, eidA, to),
		Payload: oft.EncodeMessage(entities.AddressToBytes32(alice), 1_000_000, common.Hash{}, nil),
	}

	_, err := h.a.svc.Receive(ctx, msg)
	require.ErrorIs(t, err, entities.ErrInsufficientCustody)
	processed, err := h.a.svc.IsProcessed(ctx, msg.GUID)
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, h.a.ext.Mint(ctx, bridgeA, tokens(1)))
	_, err = h.a.svc.Receive(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, tokens(1), extBalance(t, h.a, alice))
	assert.True(t, extBalance(t, h.a, bridgeA).IsZero())

	_, err = h.a.svc.Receive(ctx, msg)
	assert.ErrorIs(t, err, entities.ErrDuplicateMessage)
	assert.Equal(t, tokens(1), extBalance(t, h.a, alice))
}

func TestReceive_DuplicateIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(10)))

	res, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(1)))
	require.NoError(t, err)
	_, err = h.net.Deliver(ctx)
	require.NoError(t, err)

	require.True(t, h.net.Redeliver(res.Messaging.GUID))
	delivered, err := h.net.Deliver(ctx)
	assert.Zero(t, delivered)
	assert.ErrorIs(t, err, entities.ErrDuplicateMessage)
	assert.Equal(t, tokens(1), balance(t, h.b, bob))
	assert.Zero(t, h.net.Pending())
}

func TestReceive_PausedDeliveryIsRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(10)))
	require.NoError(t, h.b.access.Pause(ctx, admin, entities.PauseClassMint))

	res, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(1)))
	require.NoError(t, err)

	_, err = h.net.Deliver(ctx)
	require.ErrorIs(t, err, entities.ErrPaused)
	assert.Equal(t, 1, h.net.Pending())

	processed, err := h.b.svc.IsProcessed(ctx, res.Messaging.GUID)
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, h.b.access.Unpause(ctx, admin, entities.PauseClassMint))
	delivered, err := h.net.Deliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, tokens(1), balance(t, h.b, bob))
}

func TestReceive_UnauthorizedPeer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	impostor := entities.AddressToBytes32(common.HexToAddress("0x000000000000000000000000000000000000dead"))
	payload := oft.EncodeMessage(entities.AddressToBytes32(bob), 1_000_000, common.Hash{}, nil)
	_, err := h.b.svc.Receive(ctx, entities.InboundMessage{
		Origin:  entities.Origin{SrcEid: eidA, Sender: impostor, Nonce: 1},
		DstEid:  eidB,
		GUID:    oft.ComputeGUID(1, eidA, impostor, eidB, entities.AddressToBytes32(bridgeB)),
		Payload: payload,
	})
	require.ErrorIs(t, err, entities.ErrUnauthorizedPeer)
	assert.True(t, balance(t, h.b, bob).IsZero())

	_, err = h.b.svc.Receive(ctx, entities.InboundMessage{
		Origin:  entities.Origin{SrcEid: 999, Sender: impostor, Nonce: 1},
		Payload: payload,
	})
	assert.ErrorIs(t, err, entities.ErrUnauthorizedPeer)
}

func TestSend_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(10)))
	anyFee := entities.MessagingFee{NativeFee: tokens(1), AltTokenFee: new(uint256.Int)}

	t.Run("zero amount", func(t *testing.T) {
		_, err := h.a.svc.Send(ctx, alice, param(eidB, bob, new(uint256.Int)), anyFee, alice)
		assert.ErrorIs(t, err, entities.ErrZeroAmount)
	})

	t.Run("dust only amount", func(t *testing.T) {
		p := param(eidB, bob, uint256.NewInt(999))
		p.MinAmountLD = new(uint256.Int)
		_, err := h.a.svc.Send(ctx, alice, p, anyFee, alice)
		assert.ErrorIs(t, err, entities.ErrZeroAmount)
	})

	t.Run("no peer", func(t *testing.T) {
		_, err := h.a.svc.Send(ctx, alice, param(30101, bob, tokens(1)), anyFee, alice)
		assert.ErrorIs(t, err, entities.ErrNoPeer)
	})

	t.Run("slippage", func(t *testing.T) {
		amount := new(uint256.Int).AddUint64(tokens(1), 1)
		_, err := h.a.svc.Send(ctx, alice, param(eidB, bob, amount), anyFee, alice)
		assert.ErrorIs(t, err, entities.ErrSlippageExceeded)
	})

	t.Run("paused", func(t *testing.T) {
		require.NoError(t, h.a.access.Pause(ctx, admin, entities.PauseClassSend))
		defer func() { require.NoError(t, h.a.access.Unpause(ctx, admin, entities.PauseClassSend)) }()

		_, err := h.a.svc.Send(ctx, alice, param(eidB, bob, tokens(1)), anyFee, alice)
		assert.ErrorIs(t, err, entities.ErrPaused)
		_, err = h.a.svc.QuoteSend(ctx, param(eidB, bob, tokens(1)), false)
		assert.ErrorIs(t, err, entities.ErrPaused)
	})

	assert.Equal(t, tokens(10), balance(t, h.a, alice))
	assert.True(t, inFlight(t, h.a, eidB).IsZero())
}

func TestSend_DustStaysWithSender(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(10)))

	amount := new(uint256.Int).AddUint64(tokens(1), 123)
	p := param(eidB, bob, amount)
	p.MinAmountLD = tokens(1)

	res, err := quoteAndSend(t, h.a, alice, p)
	require.NoError(t, err)
	assert.Equal(t, tokens(1), res.OFT.AmountSentLD)
	assert.Equal(t, tokens(9), balance(t, h.a, alice))
}

func TestQuoteSend_IsRepeatableAndFree(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	p := param(eidB, bob, tokens(1))

	first, err := h.a.svc.QuoteSend(ctx, p, false)
	require.NoError(t, err)
	second, err := h.a.svc.QuoteSend(ctx, p, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.False(t, first.NativeFee.IsZero())
	assert.True(t, inFlight(t, h.a, eidB).IsZero())

	alt, err := h.a.svc.QuoteSend(ctx, p, true)
	require.NoError(t, err)
	assert.False(t, alt.AltTokenFee.IsZero())
	assert.True(t, alt.NativeFee.Lt(first.NativeFee))
}

func TestQuoteOFT(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(100)))
	_, err := quoteAndSend(t, h.a, alice, param(eidB, bob, tokens(40)))
	require.NoError(t, err)

	amount := new(uint256.Int).AddUint64(tokens(2), 5)
	q, err := h.a.svc.QuoteOFT(ctx, param(eidB, bob, amount))
	require.NoError(t, err)
	assert.Equal(t, tokens(9960), q.Limit.MaxAmountLD)
	assert.True(t, q.Limit.MinAmountLD.IsZero())
	assert.Equal(t, tokens(2), q.Receipt.AmountSentLD)
	assert.Equal(t, tokens(2), q.Receipt.AmountReceivedLD)
	assert.Empty(t, q.FeeDetails)
}

func TestEnforcedOptions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	p := param(eidB, bob, tokens(1))
	p.ExtraOptions = nil

	base, err := h.a.svc.QuoteSend(ctx, p, false)
	require.NoError(t, err)

	enforced := oft.NewOptions().AddExecutorLzReceiveOption(80_000, 0).Bytes()
	require.ErrorIs(t, h.a.svc.SetEnforcedOptions(ctx, alice, []entities.EnforcedOption{
		{Eid: eidB, MsgType: entities.MsgTypeSend, Options: enforced},
	}), entities.ErrUnauthorized)
	require.NoError(t, h.a.svc.SetEnforcedOptions(ctx, admin, []entities.EnforcedOption{
		{Eid: eidB, MsgType: entities.MsgTypeSend, Options: enforced},
	}))

	withEnforced, err := h.a.svc.QuoteSend(ctx, p, false)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).AddUint64(base.NativeFee, 80_000), withEnforced.NativeFee)

	p.ExtraOptions = oft.NewOptions().AddExecutorLzReceiveOption(20_000, 0).Bytes()
	combined, err := h.a.svc.QuoteSend(ctx, p, false)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).AddUint64(base.NativeFee, 100_000), combined.NativeFee)

	p.ExtraOptions = []byte{0x00, 0x01, 0x02}
	_, err = h.a.svc.QuoteSend(ctx, p, false)
	assert.ErrorIs(t, err, entities.ErrInvalidOptions)
}

func TestSend_ComposeIsForwarded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.a.ledger.Mint(ctx, admin, alice, tokens(10)))

	p := param(eidB, bob, tokens(3))
	p.ComposeMsg = []byte("stake")
	res, err := quoteAndSend(t, h.a, alice, p)
	require.NoError(t, err)

	_, err = h.net.Deliver(ctx)
	require.NoError(t, err)

	composed := h.b.composer.Drain()
	require.Len(t, composed, 1)
	assert.Equal(t, bob, composed[0].To)
	assert.Equal(t, res.Messaging.GUID, composed[0].GUID)

	msg, err := oft.DecodeCompose(composed[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, eidA, msg.SrcEid)
	assert.Equal(t, res.Messaging.Nonce, msg.Nonce)
	assert.Equal(t, tokens(3), msg.AmountLD)
	assert.Equal(t, entities.AddressToBytes32(alice), msg.ComposeFrom)
	assert.Equal(t, []byte("stake"), msg.ComposeMsg)
}

func TestNewService_RejectsLowDecimals(t *testing.T) {
	store := memstore.New()
	_, err := oft.NewService(oft.Config{LocalEid: eidA}, oft.Deps{
		Token: oft.NewNativeToken(store.Balances(), 4),
	}, logger.NewNop())
	assert.ErrorIs(t, err, entities.ErrInvalidLocalDecimals)
}
