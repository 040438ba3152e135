package oft

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/repositories"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
	"github.com/mbtc-bridge/oft_service/pkg/metrics"
)

// Config identifies this bridge on its endpoint
type Config struct {
	LocalEid uint32
	// Address is the bridge's own address, used as sender identity and adapter custody
	Address common.Address
	// SendLockTTL bounds how long a per-sender lock may be held
	SendLockTTL time.Duration
}

// Deps groups the collaborators of the transfer service
type Deps struct {
	Token     Token
	Channel   MessageChannel
	Access    AccessController
	Limiter   RateLimiter
	Peers     PeerResolver
	Locker    Locker
	Composer  Composer
	Tx        repositories.TxRunner
	Options   repositories.EnforcedOptionRepository
	Processed repositories.ProcessedMessageRepository
	Transfers repositories.TransferRepository
}

// Service quotes, sends and receives OFT transfers
type Service struct {
	cfg       Config
	decimals  *Decimals
	token     Token
	channel   MessageChannel
	access    AccessController
	limiter   RateLimiter
	peers     PeerResolver
	locker    Locker
	composer  Composer
	tx        repositories.TxRunner
	options   repositories.EnforcedOptionRepository
	processed repositories.ProcessedMessageRepository
	transfers repositories.TransferRepository
	logger    *logger.Logger
	now       func() time.Time
}

// NewService creates a transfer service. It fails if the token's decimals
// are below the shared decimals.
func NewService(cfg Config, deps Deps, logger *logger.Logger) (*Service, error) {
	decimals, err := NewDecimals(deps.Token.Decimals())
	if err != nil {
		return nil, err
	}
	if cfg.SendLockTTL <= 0 {
		cfg.SendLockTTL = 30 * time.Second
	}
	return &Service{
		cfg:       cfg,
		decimals:  decimals,
		token:     deps.Token,
		channel:   deps.Channel,
		access:    deps.Access,
		limiter:   deps.Limiter,
		peers:     deps.Peers,
		locker:    deps.Locker,
		composer:  deps.Composer,
		tx:        deps.Tx,
		options:   deps.Options,
		processed: deps.Processed,
		transfers: deps.Transfers,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// LocalEid returns this bridge's endpoint id
func (s *Service) LocalEid() uint32 { return s.cfg.LocalEid }

// Address returns this bridge's address
func (s *Service) Address() common.Address { return s.cfg.Address }

// Token returns the token variant backing transfers
func (s *Service) Token() Token { return s.token }

// Decimals returns the decimal converter
func (s *Service) Decimals() *Decimals { return s.decimals }

// Transfer returns the record with id or entities.ErrTransferNotFound
func (s *Service) Transfer(ctx context.Context, id uuid.UUID) (*entities.Transfer, error) {
	t, err := s.transfers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, entities.ErrTransferNotFound
	}
	return t, nil
}

// TransferByGUID returns the latest record for a message guid
func (s *Service) TransferByGUID(ctx context.Context, guid common.Hash) (*entities.Transfer, error) {
	t, err := s.transfers.GetByGUID(ctx, guid)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, entities.ErrTransferNotFound
	}
	return t, nil
}

// Transfers lists transfer records matching filter
func (s *Service) Transfers(ctx context.Context, filter repositories.TransferFilter) ([]*entities.Transfer, error) {
	return s.transfers.List(ctx, filter)
}

// ResolveDispatches looks up sends whose dispatch outcome was unknown and
// marks the ones the channel confirms as succeeded. Sends the channel does not
// know are left for an operator. It returns the number confirmed.
func (s *Service) ResolveDispatches(ctx context.Context, limit int) (int, error) {
	resolver, ok := s.channel.(DispatchResolver)
	if !ok {
		return 0, nil
	}

	direction := entities.TransferDirectionOutbound
	status := entities.TransferStatusDispatchUnknown
	pending, err := s.transfers.List(ctx, repositories.TransferFilter{
		Direction: &direction,
		Status:    &status,
		Limit:     limit,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list unconfirmed dispatches: %w", err)
	}

	resolved := 0
	for _, t := range pending {
		receipt, err := resolver.LookupPacket(ctx, t.ID)
		if err != nil {
			s.logger.Warn("Dispatch lookup failed", "transfer_id", t.ID, "error", err)
			continue
		}
		if receipt == nil {
			metrics.DispatchUnknown.WithLabelValues("not_found").Inc()
			s.logger.Error("Dispatch not found on channel, debit needs operator review",
				"transfer_id", t.ID,
				"dst_eid", t.DstEid,
				"amount_sent_ld", t.AmountSentLD.Dec())
			continue
		}

		t.GUID = receipt.GUID
		t.Nonce = receipt.Nonce
		t.NativeFee = receipt.Fee.NativeFee
		t.AltTokenFee = receipt.Fee.AltTokenFee
		t.Advance(entities.TransferStatusMessageSent, s.now())
		t.Advance(entities.TransferStatusSucceeded, s.now())
		if err := s.transfers.Update(ctx, t); err != nil {
			return resolved, fmt.Errorf("failed to update transfer %s: %w", t.ID, err)
		}
		metrics.DispatchUnknown.WithLabelValues("resolved").Inc()
		s.logger.Info("Dispatch confirmed", "transfer_id", t.ID, "guid", receipt.GUID.Hex())
		resolved++
	}
	return resolved, nil
}
