package peers

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/repositories"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

// Authorizer checks caller roles
type Authorizer interface {
	RequireRole(ctx context.Context, account common.Address, role entities.Role) error
}

// Service binds remote endpoints to their counterpart bridge address
type Service struct {
	repo   repositories.PeerRepository
	auth   Authorizer
	logger *logger.Logger
	now    func() time.Time
}

func NewService(repo repositories.PeerRepository, auth Authorizer, logger *logger.Logger) *Service {
	return &Service{repo: repo, auth: auth, logger: logger, now: time.Now}
}

// SetPeer binds eid to peer. A zero peer unbinds the endpoint. Admin only.
func (s *Service) SetPeer(ctx context.Context, caller common.Address, eid uint32, peer common.Hash) error {
	if err := s.auth.RequireRole(ctx, caller, entities.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.Set(ctx, &entities.Peer{Eid: eid, Address: peer, UpdatedAt: s.now()}); err != nil {
		return fmt.Errorf("failed to set peer: %w", err)
	}
	s.logger.Info("Peer set", "eid", eid, "peer", peer.Hex(), "by", caller.Hex())
	return nil
}

// Peer returns the counterpart for eid or entities.ErrNoPeer
func (s *Service) Peer(ctx context.Context, eid uint32) (common.Hash, error) {
	p, err := s.repo.Get(ctx, eid)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to load peer: %w", err)
	}
	if p == nil || p.Address == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("%w: eid %d", entities.ErrNoPeer, eid)
	}
	return p.Address, nil
}

// List returns every bound endpoint
func (s *Service) List(ctx context.Context) ([]*entities.Peer, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	out := all[:0]
	for _, p := range all {
		if p.Address != (common.Hash{}) {
			out = append(out, p)
		}
	}
	return out, nil
}
