package repositories

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
)

// TransferFilter narrows transfer listings
type TransferFilter struct {
	Direction *entities.TransferDirection
	Status    *entities.TransferStatus
	From      *common.Hash
	Limit     int
	Offset    int
}

// TransferRepository defines the interface for transfer record persistence
type TransferRepository interface {
	Create(ctx context.Context, transfer *entities.Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Transfer, error)
	GetByGUID(ctx context.Context, guid common.Hash) (*entities.Transfer, error)
	List(ctx context.Context, filter TransferFilter) ([]*entities.Transfer, error)
	Update(ctx context.Context, transfer *entities.Transfer) error
}
