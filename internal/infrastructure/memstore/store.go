// Package memstore is an in-process implementation of every repository.
// Transactions are serialized behind one mutex and run against a copy of
// the committed state, which replaces it only when fn succeeds. Readers
// outside a transaction always see committed state.
package memstore

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
)

type optionKey struct {
	eid     uint32
	msgType uint16
}

type state struct {
	rateLimits    map[uint32]*entities.RateLimit
	roles         map[entities.Role]map[common.Address]*entities.RoleAssignment
	pauses        map[entities.PauseClass]*entities.PauseState
	peers         map[uint32]*entities.Peer
	options       map[optionKey]*entities.EnforcedOption
	balances      map[common.Address]*uint256.Int
	processed     map[common.Hash]*entities.ProcessedMessage
	transfers     map[uuid.UUID]*entities.Transfer
	transferOrder []uuid.UUID
}

func newState() *state {
	return &state{
		rateLimits: make(map[uint32]*entities.RateLimit),
		roles:      make(map[entities.Role]map[common.Address]*entities.RoleAssignment),
		pauses:     make(map[entities.PauseClass]*entities.PauseState),
		peers:      make(map[uint32]*entities.Peer),
		options:    make(map[optionKey]*entities.EnforcedOption),
		balances:   make(map[common.Address]*uint256.Int),
		processed:  make(map[common.Hash]*entities.ProcessedMessage),
		transfers:  make(map[uuid.UUID]*entities.Transfer),
	}
}

// clone copies the maps. Stored values are never mutated in place, so
// sharing them between the copies is safe.
func (st *state) clone() *state {
	c := &state{
		rateLimits:    copyMap(st.rateLimits),
		roles:         make(map[entities.Role]map[common.Address]*entities.RoleAssignment, len(st.roles)),
		pauses:        copyMap(st.pauses),
		peers:         copyMap(st.peers),
		options:       copyMap(st.options),
		balances:      copyMap(st.balances),
		processed:     copyMap(st.processed),
		transfers:     copyMap(st.transfers),
		transferOrder: append([]uuid.UUID(nil), st.transferOrder...),
	}
	for role, members := range st.roles {
		c.roles[role] = copyMap(members)
	}
	return c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

type txKey struct{ store *Store }

// Store holds all bridge state in memory
type Store struct {
	txMu      sync.Mutex
	mu        sync.RWMutex
	committed *state
}

// New creates an empty store
func New() *Store {
	return &Store{committed: newState()}
}

// RunInTx runs fn against a private copy of the state and commits it if fn
// returns nil. Calls made with a context already inside a transaction join it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{s}).(*state); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{s}, work)); err != nil {
		return err
	}

	s.mu.Lock()
	s.committed = work
	s.mu.Unlock()
	return nil
}

func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if st, ok := ctx.Value(txKey{s}).(*state); ok {
		return fn(st)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.committed)
}

func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(txKey{s}).(*state))
	})
}

// Repository accessors

func (s *Store) RateLimits() *RateLimitRepository           { return &RateLimitRepository{s} }
func (s *Store) Roles() *RoleRepository                     { return &RoleRepository{s} }
func (s *Store) Pauses() *PauseRepository                   { return &PauseRepository{s} }
func (s *Store) Peers() *PeerRepository                     { return &PeerRepository{s} }
func (s *Store) EnforcedOptions() *EnforcedOptionRepository { return &EnforcedOptionRepository{s} }
func (s *Store) Balances() *BalanceRepository               { return &BalanceRepository{s} }
func (s *Store) ProcessedMessages() *ProcessedMessageRepository {
	return &ProcessedMessageRepository{s}
}
func (s *Store) Transfers() *TransferRepository { return &TransferRepository{s} }
