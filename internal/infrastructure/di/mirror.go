package di

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/access"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/ledger"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/oft"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/peers"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/ratelimit"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/adapters/channel"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/locks"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/memstore"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

// MirrorConfig describes a loopback counterpart for one configured peer
type MirrorConfig struct {
	Eid      uint32
	Address  common.Address
	Decimals uint8
	Peer     uint32         // eid of the bridge being mirrored
	PeerAddr common.Address // address of the bridge being mirrored
	Admin    common.Address
}

// MirrorBridge is an in-memory native OFT attached to the loopback
// network on a peer's eid, so local sends complete end to end.
type MirrorBridge struct {
	Eid      uint32
	Address  common.Address
	Service  *oft.Service
	Ledger   *ledger.Service
	Composer *channel.ComposeQueue
}

func NewMirrorBridge(ctx context.Context, network *channel.Network, cfg MirrorConfig, log *logger.Logger) (*MirrorBridge, error) {
	store := memstore.New()
	zapLog := log.Zap().Named(fmt.Sprintf("mirror-%d", cfg.Eid))
	mirrorLog := logger.NewLogger(zapLog)

	accessService := access.NewService(store.Roles(), store.Pauses(), store, mirrorLog)
	if err := accessService.Initialize(ctx, cfg.Admin); err != nil {
		return nil, err
	}
	peerService := peers.NewService(store.Peers(), accessService, mirrorLog)
	if err := peerService.SetPeer(ctx, cfg.Admin, cfg.Peer, entities.AddressToBytes32(cfg.PeerAddr)); err != nil {
		return nil, err
	}

	endpoint := network.Endpoint(cfg.Eid, channel.DefaultFeeModel)
	composer := channel.NewComposeQueue(zapLog)
	svc, err := oft.NewService(oft.Config{LocalEid: cfg.Eid, Address: cfg.Address}, oft.Deps{
		Token:     oft.NewNativeToken(store.Balances(), cfg.Decimals),
		Channel:   endpoint,
		Access:    accessService,
		Limiter:   ratelimit.NewService(store.RateLimits(), store, accessService, mirrorLog),
		Peers:     peerService,
		Locker:    locks.NewLocalLocker(),
		Composer:  composer,
		Tx:        store,
		Options:   store.EnforcedOptions(),
		Processed: store.ProcessedMessages(),
		Transfers: store.Transfers(),
	}, mirrorLog)
	if err != nil {
		return nil, err
	}
	endpoint.Register(cfg.Address, svc)

	return &MirrorBridge{
		Eid:      cfg.Eid,
		Address:  cfg.Address,
		Service:  svc,
		Ledger:   ledger.NewService(store.Balances(), accessService, store, mirrorLog),
		Composer: composer,
	}, nil
}

// BalanceOf returns an account's balance on the mirror
func (m *MirrorBridge) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return m.Ledger.BalanceOf(ctx, account)
}
