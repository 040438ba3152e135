package di

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/config"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

var (
	testAdmin  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	testBridge = common.HexToAddress("0x000000000000000000000000000000000000b001")
	testPeer   = common.HexToAddress("0x000000000000000000000000000000000000b002")
	testToken  = common.HexToAddress("0x000000000000000000000000000000000000700c")
	alice      = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

func testConfig(mode string) *config.Config {
	return &config.Config{
		Environment: "test",
		JWT:         config.JWTConfig{Secret: "secret", AccessTTL: 3600, Issuer: "oft-bridge"},
		Bridge: config.BridgeConfig{
			LocalEid:    30101,
			Address:     testBridge.Hex(),
			Mode:        mode,
			Admin:       testAdmin.Hex(),
			Storage:     StorageMemory,
			Channel:     ChannelLoopback,
			LockBackend: "local",
			SendLockTTL: 5,
			Token: config.TokenConfig{
				Address:  testToken.Hex(),
				Name:     "Test",
				Symbol:   "TST",
				Decimals: 18,
			},
			Peers: []config.PeerConfig{{Eid: 30184, Address: testPeer.Hex()}},
			RateLimits: []config.RateLimitConfig{
				{DstEid: 30184, Limit: "5000000000000000000", Window: 60},
			},
			EnforcedOptions: []config.EnforcedOptionConfig{
				{Eid: 30184, MsgType: entities.MsgTypeSend, Options: "0x0003010011010000000000000000000000000000ea60"},
			},
		},
	}
}

func newTestContainer(t *testing.T, mode string) *Container {
	t.Helper()
	c, err := NewContainer(context.Background(), testConfig(mode), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func oneToken() *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18))
}

func TestNewContainer_AppliesBootstrapConfig(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, config.ModeNative)

	isAdmin, err := c.AccessService.HasRole(ctx, testAdmin, entities.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	peer, err := c.PeerService.Peer(ctx, 30184)
	require.NoError(t, err)
	assert.Equal(t, entities.AddressToBytes32(testPeer), peer)

	status, err := c.RateLimitService.GetAmountCanBeSent(ctx, 30184, time.Now())
	require.NoError(t, err)
	assert.True(t, status.Configured)
	assert.Equal(t, "5000000000000000000", status.Limit.Dec())

	opts, err := c.OFTService.EnforcedOptions(ctx, 30184, entities.MsgTypeSend)
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	require.Len(t, c.Mirrors, 1)
	assert.Equal(t, uint32(30184), c.Mirrors[0].Eid)
	assert.Nil(t, c.DB)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Approver())
}

func TestNewContainer_LoopbackRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, config.ModeNative)

	require.NoError(t, c.AccessService.GrantRole(ctx, testAdmin, entities.RoleMinter, testAdmin))
	require.NoError(t, c.Minter().Mint(ctx, testAdmin, alice, oneToken()))

	p := entities.SendParam{
		DstEid:      30184,
		To:          entities.AddressToBytes32(alice),
		AmountLD:    oneToken(),
		MinAmountLD: oneToken(),
	}
	fee, err := c.OFTService.QuoteSend(ctx, p, false)
	require.NoError(t, err)
	_, err = c.OFTService.Send(ctx, alice, p, fee, alice)
	require.NoError(t, err)

	delivered, err := c.Network.Deliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	remote, err := c.Mirrors[0].BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, oneToken(), remote)

	local, err := c.TokenLedger().BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.True(t, local.IsZero())
}

func TestNewContainer_AdapterMode(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, config.ModeAdapter)
	require.NotNil(t, c.ERC20)
	require.NotNil(t, c.Approver())

	err := c.Minter().Mint(ctx, testAdmin, alice, oneToken())
	assert.ErrorIs(t, err, entities.ErrUnauthorized)

	require.NoError(t, c.AccessService.GrantRole(ctx, testAdmin, entities.RoleMinter, testAdmin))
	require.NoError(t, c.Minter().Mint(ctx, testAdmin, alice, oneToken()))

	bal, err := c.TokenLedger().BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, oneToken(), bal)
}

func TestStorageBuilder_RejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(config.ModeNative)
	cfg.Bridge.Storage = "sqlite"
	_, err := NewStorageBuilder(cfg, logger.NewNop().Zap()).Build()
	assert.Error(t, err)
}
