package access

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/repositories"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

// Service holds role assignments and pause flags. Every revocation path
// keeps at least one admin.
type Service struct {
	roles  repositories.RoleRepository
	pauses repositories.PauseRepository
	tx     repositories.TxRunner
	logger *logger.Logger
	now    func() time.Time
}

// NewService creates a new access control service
func NewService(roles repositories.RoleRepository, pauses repositories.PauseRepository, tx repositories.TxRunner, logger *logger.Logger) *Service {
	return &Service{
		roles:  roles,
		pauses: pauses,
		tx:     tx,
		logger: logger,
		now:    time.Now,
	}
}

// Initialize grants the first admin. It fails once any admin exists.
func (s *Service) Initialize(ctx context.Context, admin common.Address) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		count, err := s.roles.CountMembers(ctx, entities.RoleAdmin)
		if err != nil {
			return fmt.Errorf("failed to count admins: %w", err)
		}
		if count > 0 {
			return entities.ErrAlreadyInitialized
		}
		if err := s.roles.Grant(ctx, &entities.RoleAssignment{
			Account:   admin,
			Role:      entities.RoleAdmin,
			GrantedBy: admin,
			GrantedAt: s.now(),
		}); err != nil {
			return fmt.Errorf("failed to grant initial admin: %w", err)
		}
		s.logger.Info("Access control initialized", "admin", admin.Hex())
		return nil
	})
}

// HasRole reports whether account holds role
func (s *Service) HasRole(ctx context.Context, account common.Address, role entities.Role) (bool, error) {
	if !validRole(role) {
		return false, entities.ErrInvalidRole
	}
	return s.roles.HasRole(ctx, account, role)
}

// RequireRole fails with an UnauthorizedError when account lacks role
func (s *Service) RequireRole(ctx context.Context, account common.Address, role entities.Role) error {
	ok, err := s.HasRole(ctx, account, role)
	if err != nil {
		return err
	}
	if !ok {
		return &entities.UnauthorizedError{Account: account.Hex(), Role: role}
	}
	return nil
}

// GrantRole assigns role to target. Only admins may grant.
func (s *Service) GrantRole(ctx context.Context, granter common.Address, role entities.Role, target common.Address) error {
	if !validRole(role) {
		return entities.ErrInvalidRole
	}
	if err := s.RequireRole(ctx, granter, entities.RoleAdmin); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		has, err := s.roles.HasRole(ctx, target, role)
		if err != nil {
			return err
		}
		if has {
			return nil
		}
		if err := s.roles.Grant(ctx, &entities.RoleAssignment{
			Account:   target,
			Role:      role,
			GrantedBy: granter,
			GrantedAt: s.now(),
		}); err != nil {
			return fmt.Errorf("failed to grant role: %w", err)
		}
		s.logger.Info("Role granted", "role", role, "account", target.Hex(), "granted_by", granter.Hex())
		return nil
	})
}

// RevokeRole removes role from target. Only admins may revoke.
func (s *Service) RevokeRole(ctx context.Context, revoker common.Address, role entities.Role, target common.Address) error {
	if !validRole(role) {
		return entities.ErrInvalidRole
	}
	if err := s.RequireRole(ctx, revoker, entities.RoleAdmin); err != nil {
		return err
	}
	return s.remove(ctx, role, target, revoker)
}

// RenounceRole lets an account drop its own role
func (s *Service) RenounceRole(ctx context.Context, account common.Address, role entities.Role) error {
	if !validRole(role) {
		return entities.ErrInvalidRole
	}
	return s.remove(ctx, role, account, account)
}

func (s *Service) remove(ctx context.Context, role entities.Role, target, by common.Address) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		has, err := s.roles.HasRole(ctx, target, role)
		if err != nil {
			return err
		}
		if !has {
			return nil
		}
		if role == entities.RoleAdmin {
			count, err := s.roles.CountMembers(ctx, entities.RoleAdmin)
			if err != nil {
				return fmt.Errorf("failed to count admins: %w", err)
			}
			if count <= 1 {
				s.logger.Warn("Refusing to remove last admin", "account", target.Hex(), "by", by.Hex())
				return entities.ErrCannotRemoveLastAdmin
			}
		}
		if err := s.roles.Revoke(ctx, target, role); err != nil {
			return fmt.Errorf("failed to revoke role: %w", err)
		}
		s.logger.Info("Role revoked", "role", role, "account", target.Hex(), "by", by.Hex())
		return nil
	})
}

// Members lists holders of role
func (s *Service) Members(ctx context.Context, role entities.Role) ([]*entities.RoleAssignment, error) {
	if !validRole(role) {
		return nil, entities.ErrInvalidRole
	}
	return s.roles.ListMembers(ctx, role)
}

// Pause sets the pause flag for class. Requires the pauser role.
func (s *Service) Pause(ctx context.Context, caller common.Address, class entities.PauseClass) error {
	return s.setPaused(ctx, caller, class, true)
}

// Unpause clears the pause flag for class. Requires the pauser role.
func (s *Service) Unpause(ctx context.Context, caller common.Address, class entities.PauseClass) error {
	return s.setPaused(ctx, caller, class, false)
}

func (s *Service) setPaused(ctx context.Context, caller common.Address, class entities.PauseClass, paused bool) error {
	if _, err := entities.ParsePauseClass(string(class)); err != nil {
		return err
	}
	if err := s.RequireRole(ctx, caller, entities.RolePauser); err != nil {
		return err
	}
	if err := s.pauses.Set(ctx, &entities.PauseState{
		Class:     class,
		Paused:    paused,
		UpdatedBy: caller,
		UpdatedAt: s.now(),
	}); err != nil {
		return fmt.Errorf("failed to update pause state: %w", err)
	}
	s.logger.Info("Pause state changed", "class", class, "paused", paused, "by", caller.Hex())
	return nil
}

// IsPaused reports the pause flag for class
func (s *Service) IsPaused(ctx context.Context, class entities.PauseClass) (bool, error) {
	state, err := s.pauses.Get(ctx, class)
	if err != nil {
		return false, fmt.Errorf("failed to read pause state: %w", err)
	}
	return state != nil && state.Paused, nil
}

// RequireNotPaused fails with ErrPaused when class is paused
func (s *Service) RequireNotPaused(ctx context.Context, class entities.PauseClass) error {
	paused, err := s.IsPaused(ctx, class)
	if err != nil {
		return err
	}
	if paused {
		return fmt.Errorf("%s: %w", class, entities.ErrPaused)
	}
	return nil
}

func validRole(role entities.Role) bool {
	for _, r := range entities.AllRoles {
		if r == role {
			return true
		}
	}
	return false
}
