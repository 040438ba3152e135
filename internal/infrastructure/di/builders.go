package di

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mbtc-bridge/oft_service/internal/domain/repositories"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/config"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/database"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/memstore"
	pgrepos "github.com/mbtc-bridge/oft_service/internal/infrastructure/repositories"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Storage holds the repositories shared by the domain services
type Storage struct {
	DB *sqlx.DB // nil for the memory backend

	Tx              repositories.TxRunner
	RateLimits      repositories.RateLimitRepository
	Roles           repositories.RoleRepository
	Pauses          repositories.PauseRepository
	Peers           repositories.PeerRepository
	EnforcedOptions repositories.EnforcedOptionRepository
	Balances        repositories.BalanceRepository
	Processed       repositories.ProcessedMessageRepository
	Transfers       repositories.TransferRepository
}

// StorageBuilder builds the configured storage backend
type StorageBuilder struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStorageBuilder creates a new storage builder
func NewStorageBuilder(cfg *config.Config, logger *zap.Logger) *StorageBuilder {
	return &StorageBuilder{cfg: cfg, logger: logger}
}

// Build opens the backend named by bridge.storage
func (b *StorageBuilder) Build() (*Storage, error) {
	switch b.cfg.Bridge.Storage {
	case StorageMemory, "":
		b.logger.Warn("Using in-memory storage; state is lost on restart")
		return b.buildMemory(), nil
	case StoragePostgres:
		return b.buildPostgres()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", b.cfg.Bridge.Storage)
	}
}

func (b *StorageBuilder) buildMemory() *Storage {
	store := memstore.New()
	return &Storage{
		Tx:              store,
		RateLimits:      store.RateLimits(),
		Roles:           store.Roles(),
		Pauses:          store.Pauses(),
		Peers:           store.Peers(),
		EnforcedOptions: store.EnforcedOptions(),
		Balances:        store.Balances(),
		Processed:       store.ProcessedMessages(),
		Transfers:       store.Transfers(),
	}
}

func (b *StorageBuilder) buildPostgres() (*Storage, error) {
	db, err := database.NewConnection(b.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(b.cfg.Database.URL, b.cfg.Database.MigrationsPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	b.logger.Info("Database migrations completed", zap.String("path", b.cfg.Database.MigrationsPath))

	return &Storage{
		DB:              db,
		Tx:              database.NewTxManager(db),
		RateLimits:      pgrepos.NewRateLimitRepository(db),
		Roles:           pgrepos.NewRoleRepository(db),
		Pauses:          pgrepos.NewPauseRepository(db),
		Peers:           pgrepos.NewPeerRepository(db),
		EnforcedOptions: pgrepos.NewEnforcedOptionRepository(db),
		Balances:        pgrepos.NewBalanceRepository(db),
		Processed:       pgrepos.NewProcessedMessageRepository(db),
		Transfers:       pgrepos.NewTransferRepository(db),
	}, nil
}
