package peers

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/memstore"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

var (
	admin    = common.HexToAddress("0x0000000000000000000000000000000000000ad1")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	remote   = common.HexToHash("0x000000000000000000000000000000000000000000000000000000000000bbbb")
)

type stubAuthorizer struct{}

func (stubAuthorizer) RequireRole(_ context.Context, account common.Address, role entities.Role) error {
	if account == admin {
		return nil
	}
	return &entities.UnauthorizedError{Account: account.Hex(), Role: role}
}

func newService() *Service {
	return NewService(memstore.New().Peers(), stubAuthorizer{}, logger.NewNop())
}

func TestSetPeer(t *testing.T) {
	ctx := context.Background()
	s := newService()

	_, err := s.Peer(ctx, 40102)
	require.ErrorIs(t, err, entities.ErrNoPeer)

	require.NoError(t, s.SetPeer(ctx, admin, 40102, remote))
	peer, err := s.Peer(ctx, 40102)
	require.NoError(t, err)
	assert.Equal(t, remote, peer)

	t.Run("requires admin", func(t *testing.T) {
		err := s.SetPeer(ctx, stranger, 40102, common.Hash{})
		assert.ErrorIs(t, err, entities.ErrUnauthorized)

		peer, err := s.Peer(ctx, 40102)
		require.NoError(t, err)
		assert.Equal(t, remote, peer)
	})

	t.Run("zero peer unbinds", func(t *testing.T) {
		require.NoError(t, s.SetPeer(ctx, admin, 40102, common.Hash{}))
		_, err := s.Peer(ctx, 40102)
		assert.ErrorIs(t, err, entities.ErrNoPeer)
	})
}

func TestList_SkipsUnbound(t *testing.T) {
	ctx := context.Background()
	s := newService()

	require.NoError(t, s.SetPeer(ctx, admin, 40102, remote))
	require.NoError(t, s.SetPeer(ctx, admin, 40103, remote))
	require.NoError(t, s.SetPeer(ctx, admin, 40103, common.Hash{}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, uint32(40102), all[0].Eid)
}
