package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/repositories"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
	"github.com/mbtc-bridge/oft_service/pkg/metrics"
)

// Authorizer checks caller roles
type Authorizer interface {
	RequireRole(ctx context.Context, account common.Address, role entities.Role) error
}

// Service enforces a fixed-window outbound limit per destination.
// Amounts sent at the tail of one window and the head of the next are
// counted separately, so up to twice the limit can pass around a boundary.
type Service struct {
	repo   repositories.RateLimitRepository
	tx     repositories.TxRunner
	auth   Authorizer
	logger *logger.Logger
}

// NewService creates a new rate limit service
func NewService(repo repositories.RateLimitRepository, tx repositories.TxRunner, auth Authorizer, logger *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		auth:   auth,
		logger: logger,
	}
}

// CheckAndConsume records amount against dstEid's window or fails with a
// RateLimitExceededError leaving state untouched. Destinations without a
// configured limit are unlimited.
func (s *Service) CheckAndConsume(ctx context.Context, dstEid uint32, amount *uint256.Int, now time.Time) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rl, err := s.repo.GetForUpdate(ctx, dstEid)
		if err != nil {
			return fmt.Errorf("failed to load rate limit: %w", err)
		}
		if rl == nil {
			return nil
		}

		if err := rl.Consume(amount, now); err != nil {
			var exceeded *entities.RateLimitExceededError
			if errors.As(err, &exceeded) {
				metrics.RateLimitRejections.WithLabelValues(metrics.EidLabel(dstEid)).Inc()
				s.logger.Warn("Rate limit exceeded",
					"dst_eid", dstEid,
					"requested", amount.Dec(),
					"available", exceeded.Available.Dec())
			}
			return err
		}

		if err := s.repo.Save(ctx, rl); err != nil {
			return fmt.Errorf("failed to save rate limit: %w", err)
		}
		return nil
	})
}

// SetRateLimits applies every config or none. Reconfiguring a destination
// keeps its in-flight amount and window start.
func (s *Service) SetRateLimits(ctx context.Context, caller common.Address, configs []entities.RateLimitConfig, now time.Time) error {
	if err := s.auth.RequireRole(ctx, caller, entities.RoleAdmin); err != nil {
		return err
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("eid %d: %w", cfg.DstEid, err)
		}
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, cfg := range configs {
			rl, err := s.repo.GetForUpdate(ctx, cfg.DstEid)
			if err != nil {
				return fmt.Errorf("failed to load rate limit: %w", err)
			}
			if rl == nil {
				rl = entities.NewRateLimit(cfg, now)
			} else {
				rl.Reconfigure(cfg, now)
			}
			if err := s.repo.Save(ctx, rl); err != nil {
				return fmt.Errorf("failed to save rate limit: %w", err)
			}
			s.logger.Info("Rate limit configured",
				"dst_eid", cfg.DstEid,
				"limit", cfg.Limit.Dec(),
				"window", cfg.Window.String(),
				"by", caller.Hex())
		}
		return nil
	})
}

// GetAmountCanBeSent projects the window as of now without writing anything
func (s *Service) GetAmountCanBeSent(ctx context.Context, dstEid uint32, now time.Time) (*entities.RateLimitStatus, error) {
	rl, err := s.repo.Get(ctx, dstEid)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate limit: %w", err)
	}
	return status(dstEid, rl, now), nil
}

// Statuses projects every configured destination
func (s *Service) Statuses(ctx context.Context, now time.Time) ([]*entities.RateLimitStatus, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate limits: %w", err)
	}
	out := make([]*entities.RateLimitStatus, 0, len(all))
	for _, rl := range all {
		out = append(out, status(rl.DstEid, rl, now))
	}
	return out, nil
}

func status(dstEid uint32, rl *entities.RateLimit, now time.Time) *entities.RateLimitStatus {
	if rl == nil {
		return &entities.RateLimitStatus{
			DstEid:         dstEid,
			AmountInFlight: new(uint256.Int),
			Available:      entities.MaxAmount.Clone(),
		}
	}
	inFlight, available := rl.Project(now)
	return &entities.RateLimitStatus{
		DstEid:         dstEid,
		Configured:     true,
		Limit:          rl.Limit.Clone(),
		Window:         rl.Window,
		AmountInFlight: inFlight,
		Available:      available,
	}
}
