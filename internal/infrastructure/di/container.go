package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mbtc-bridge/oft_service/internal/api/handlers"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/access"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/ledger"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/oft"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/peers"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/ratelimit"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/adapters/channel"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/adapters/erc20"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/adapters/relay"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/cache"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/config"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/locks"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

const (
	ChannelLoopback = "loopback"
	ChannelRelay    = "relay"

	lockPrefix = "oft:send-lock:"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	ZapLog *zap.Logger

	Storage *Storage
	DB      *sqlx.DB          // nil unless storage is postgres
	Redis   cache.RedisClient // nil unless a component needs redis

	// Domain services
	AccessService    *access.Service
	RateLimitService *ratelimit.Service
	PeerService      *peers.Service
	LedgerService    *ledger.Service
	OFTService       *oft.Service

	// Loopback channel, nil when using the relay
	Network      *channel.Network
	ComposeQueue *channel.ComposeQueue
	Mirrors      []*MirrorBridge

	// External token, nil in native mode
	ERC20 *erc20.Token
}

// NewContainer builds every dependency from config and applies the
// bootstrap configuration (initial admin, peers, rate limits, enforced options).
func NewContainer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: log,
		ZapLog: log.Zap(),
	}

	storage, err := NewStorageBuilder(cfg, c.ZapLog).Build()
	if err != nil {
		return nil, err
	}
	c.Storage = storage
	c.DB = storage.DB

	if needsRedis(cfg) {
		redisClient, err := cache.NewRedisClient(&cfg.Redis, c.ZapLog)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.Redis = redisClient
	}

	if err := c.initializeServices(); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.bootstrap(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to apply bootstrap config: %w", err)
	}

	return c, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Bridge.LockBackend == "redis" || cfg.Bridge.Channel == ChannelRelay
}

func (c *Container) initializeServices() error {
	cfg := c.Config
	s := c.Storage

	c.AccessService = access.NewService(s.Roles, s.Pauses, s.Tx, c.Logger)
	c.RateLimitService = ratelimit.NewService(s.RateLimits, s.Tx, c.AccessService, c.Logger)
	c.PeerService = peers.NewService(s.Peers, c.AccessService, c.Logger)
	c.LedgerService = ledger.NewService(s.Balances, c.AccessService, s.Tx, c.Logger)

	token, err := c.buildToken()
	if err != nil {
		return err
	}

	var locker oft.Locker = locks.NewLocalLocker()
	if cfg.Bridge.LockBackend == "redis" {
		locker = locks.NewRedisLocker(c.Redis, lockPrefix, c.ZapLog)
	}

	c.ComposeQueue = channel.NewComposeQueue(c.ZapLog)

	var msgChannel oft.MessageChannel
	var endpoint *channel.Endpoint
	switch cfg.Bridge.Channel {
	case ChannelLoopback, "":
		c.Network = channel.NewNetwork(c.ZapLog)
		endpoint = c.Network.Endpoint(cfg.Bridge.LocalEid, channel.DefaultFeeModel)
		msgChannel = endpoint
	case ChannelRelay:
		msgChannel = relay.NewClient(relay.Config{
			BaseURL:     cfg.Relay.BaseURL,
			APIKey:      cfg.Relay.APIKey,
			LocalEid:    cfg.Bridge.LocalEid,
			Timeout:     time.Duration(cfg.Relay.Timeout) * time.Second,
			RPS:         cfg.Relay.RPS,
			FeeCacheTTL: time.Duration(cfg.Relay.FeeCacheTTL) * time.Second,
		}, c.Redis, c.ZapLog)
	default:
		return fmt.Errorf("unknown channel %q", cfg.Bridge.Channel)
	}

	c.OFTService, err = oft.NewService(oft.Config{
		LocalEid:    cfg.Bridge.LocalEid,
		Address:     cfg.Bridge.AddressOf(),
		SendLockTTL: cfg.Bridge.SendLockTimeout(),
	}, oft.Deps{
		Token:     token,
		Channel:   msgChannel,
		Access:    c.AccessService,
		Limiter:   c.RateLimitService,
		Peers:     c.PeerService,
		Locker:    locker,
		Composer:  c.ComposeQueue,
		Tx:        s.Tx,
		Options:   s.EnforcedOptions,
		Processed: s.Processed,
		Transfers: s.Transfers,
	}, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to create OFT service: %w", err)
	}

	if endpoint != nil {
		endpoint.Register(cfg.Bridge.AddressOf(), c.OFTService)
	}

	c.ZapLog.Info("OFT service initialized",
		zap.Uint32("local_eid", cfg.Bridge.LocalEid),
		zap.String("address", cfg.Bridge.Address),
		zap.String("mode", token.Mode()),
		zap.String("storage", cfg.Bridge.Storage),
		zap.String("channel", cfg.Bridge.Channel),
		zap.String("lock_backend", cfg.Bridge.LockBackend))
	return nil
}

func (c *Container) buildToken() (oft.Token, error) {
	cfg := c.Config.Bridge
	decimals := uint8(cfg.Token.Decimals)

	switch cfg.Mode {
	case config.ModeNative, "":
		return oft.NewNativeToken(c.Storage.Balances, decimals), nil
	case config.ModeAdapter:
		c.ERC20 = erc20.New(common.HexToAddress(cfg.Token.Address), cfg.Token.Name, cfg.Token.Symbol, decimals)
		return oft.NewAdapterBinding(c.ERC20, cfg.AddressOf(), c.Logger), nil
	default:
		return nil, fmt.Errorf("unknown bridge mode %q", cfg.Mode)
	}
}

// bootstrap applies the configured state as the admin. Rate limit
// counters survive a restart against persistent storage.
func (c *Container) bootstrap(ctx context.Context) error {
	cfg := c.Config.Bridge
	admin := cfg.AdminAddress()

	if err := c.AccessService.Initialize(ctx, admin); err != nil {
		if !errors.Is(err, entities.ErrAlreadyInitialized) {
			return fmt.Errorf("failed to initialize access control: %w", err)
		}
		c.ZapLog.Info("Access control already initialized")
	}

	for _, p := range cfg.Peers {
		if err := c.PeerService.SetPeer(ctx, admin, p.Eid, p.PeerHash()); err != nil {
			return fmt.Errorf("failed to set peer for eid %d: %w", p.Eid, err)
		}
		if c.Network != nil {
			mirror, err := NewMirrorBridge(ctx, c.Network, MirrorConfig{
				Eid:      p.Eid,
				Address:  entities.Bytes32ToAddress(p.PeerHash()),
				Decimals: uint8(cfg.Token.Decimals),
				Peer:     cfg.LocalEid,
				PeerAddr: cfg.AddressOf(),
				Admin:    admin,
			}, c.Logger)
			if err != nil {
				return fmt.Errorf("failed to attach loopback peer %d: %w", p.Eid, err)
			}
			c.Mirrors = append(c.Mirrors, mirror)
		}
	}

	if len(cfg.RateLimits) > 0 {
		configs := make([]entities.RateLimitConfig, 0, len(cfg.RateLimits))
		for _, rl := range cfg.RateLimits {
			limit, err := rl.ParseLimit()
			if err != nil {
				return fmt.Errorf("invalid rate limit for eid %d: %w", rl.DstEid, err)
			}
			configs = append(configs, entities.RateLimitConfig{
				DstEid: rl.DstEid,
				Limit:  limit,
				Window: rl.WindowDuration(),
			})
		}
		if err := c.RateLimitService.SetRateLimits(ctx, admin, configs, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to set rate limits: %w", err)
		}
	}

	if len(cfg.EnforcedOptions) > 0 {
		opts := make([]entities.EnforcedOption, 0, len(cfg.EnforcedOptions))
		for _, o := range cfg.EnforcedOptions {
			opts = append(opts, entities.EnforcedOption{
				Eid:     o.Eid,
				MsgType: o.MsgType,
				Options: o.OptionBytes(),
			})
		}
		if err := c.OFTService.SetEnforcedOptions(ctx, admin, opts); err != nil {
			return fmt.Errorf("failed to set enforced options: %w", err)
		}
	}

	c.ZapLog.Info("Bootstrap configuration applied",
		zap.String("admin", admin.Hex()),
		zap.Int("peers", len(cfg.Peers)),
		zap.Int("rate_limits", len(cfg.RateLimits)),
		zap.Int("enforced_options", len(cfg.EnforcedOptions)))
	return nil
}

// TokenLedger returns the balance source shown by the API: the OFT ledger
// in native mode, the external token in adapter mode.
func (c *Container) TokenLedger() handlers.TokenLedger {
	if c.ERC20 != nil {
		return tokenLedger{token: c.ERC20}
	}
	return c.LedgerService
}

// Approver returns the external token, or nil in native mode
func (c *Container) Approver() handlers.Approver {
	if c.ERC20 == nil {
		return nil
	}
	return c.ERC20
}

// Minter returns the issuance path for the configured mode
func (c *Container) Minter() handlers.Minter {
	if c.ERC20 != nil {
		return NewFaucetMinter(c.ERC20, c.AccessService, c.Logger)
	}
	return c.LedgerService
}

// Close releases the database and redis connections
func (c *Container) Close() error {
	var errs []error
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
