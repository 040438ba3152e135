package memstore

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/repositories"
)

// RateLimitRepository

type RateLimitRepository struct{ s *Store }

func (r *RateLimitRepository) Get(ctx context.Context, dstEid uint32) (*entities.RateLimit, error) {
	var out *entities.RateLimit
	err := r.s.read(ctx, func(st *state) error {
		if rl, ok := st.rateLimits[dstEid]; ok {
			out = rl.Clone()
		}
		return nil
	})
	return out, err
}

// GetForUpdate is Get: the surrounding transaction already holds the store lock
func (r *RateLimitRepository) GetForUpdate(ctx context.Context, dstEid uint32) (*entities.RateLimit, error) {
	return r.Get(ctx, dstEid)
}

func (r *RateLimitRepository) Save(ctx context.Context, rl *entities.RateLimit) error {
	return r.s.write(ctx, func(st *state) error {
		st.rateLimits[rl.DstEid] = rl.Clone()
		return nil
	})
}

func (r *RateLimitRepository) List(ctx context.Context) ([]*entities.RateLimit, error) {
	var out []*entities.RateLimit
	err := r.s.read(ctx, func(st *state) error {
		for _, rl := range st.rateLimits {
			out = append(out, rl.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DstEid < out[j].DstEid })
	return out, err
}

// RoleRepository

type RoleRepository struct{ s *Store }

func (r *RoleRepository) HasRole(ctx context.Context, account common.Address, role entities.Role) (bool, error) {
	var has bool
	err := r.s.read(ctx, func(st *state) error {
		_, has = st.roles[role][account]
		return nil
	})
	return has, err
}

func (r *RoleRepository) Grant(ctx context.Context, a *entities.RoleAssignment) error {
	return r.s.write(ctx, func(st *state) error {
		members := copyMap(st.roles[a.Role])
		cp := *a
		members[a.Account] = &cp
		st.roles[a.Role] = members
		return nil
	})
}

func (r *RoleRepository) Revoke(ctx context.Context, account common.Address, role entities.Role) error {
	return r.s.write(ctx, func(st *state) error {
		members := copyMap(st.roles[role])
		delete(members, account)
		st.roles[role] = members
		return nil
	})
}

func (r *RoleRepository) CountMembers(ctx context.Context, role entities.Role) (int, error) {
	var n int
	err := r.s.read(ctx, func(st *state) error {
		n = len(st.roles[role])
		return nil
	})
	return n, err
}

func (r *RoleRepository) ListMembers(ctx context.Context, role entities.Role) ([]*entities.RoleAssignment, error) {
	var out []*entities.RoleAssignment
	err := r.s.read(ctx, func(st *state) error {
		for _, a := range st.roles[role] {
			cp := *a
			out = append(out, &cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, err
}

// PauseRepository

type PauseRepository struct{ s *Store }

func (r *PauseRepository) Get(ctx context.Context, class entities.PauseClass) (*entities.PauseState, error) {
	var out *entities.PauseState
	err := r.s.read(ctx, func(st *state) error {
		if p, ok := st.pauses[class]; ok {
			cp := *p
			out = &cp
		}
		return nil
	})
	return out, err
}

func (r *PauseRepository) Set(ctx context.Context, p *entities.PauseState) error {
	return r.s.write(ctx, func(st *state) error {
		cp := *p
		st.pauses[p.Class] = &cp
		return nil
	})
}

// PeerRepository

type PeerRepository struct{ s *Store }

func (r *PeerRepository) Get(ctx context.Context, eid uint32) (*entities.Peer, error) {
	var out *entities.Peer
	err := r.s.read(ctx, func(st *state) error {
		if p, ok := st.peers[eid]; ok {
			cp := *p
			out = &cp
		}
		return nil
	})
	return out, err
}

func (r *PeerRepository) Set(ctx context.Context, p *entities.Peer) error {
	return r.s.write(ctx, func(st *state) error {
		cp := *p
		st.peers[p.Eid] = &cp
		return nil
	})
}

func (r *PeerRepository) List(ctx context.Context) ([]*entities.Peer, error) {
	var out []*entities.Peer
	err := r.s.read(ctx, func(st *state) error {
		for _, p := range st.peers {
			cp := *p
			out = append(out, &cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Eid < out[j].Eid })
	return out, err
}

// EnforcedOptionRepository

type EnforcedOptionRepository struct{ s *Store }

func (r *EnforcedOptionRepository) Get(ctx context.Context, eid uint32, msgType uint16) (*entities.EnforcedOption, error) {
	var out *entities.EnforcedOption
	err := r.s.read(ctx, func(st *state) error {
		if o, ok := st.options[optionKey{eid, msgType}]; ok {
			out = &entities.EnforcedOption{Eid: o.Eid, MsgType: o.MsgType, Options: append([]byte(nil), o.Options...)}
		}
		return nil
	})
	return out, err
}

func (r *EnforcedOptionRepository) Set(ctx context.Context, o *entities.EnforcedOption) error {
	return r.s.write(ctx, func(st *state) error {
		st.options[optionKey{o.Eid, o.MsgType}] = &entities.EnforcedOption{
			Eid:     o.Eid,
			MsgType: o.MsgType,
			Options: append([]byte(nil), o.Options...),
		}
		return nil
	})
}

// BalanceRepository

type BalanceRepository struct{ s *Store }

func (r *BalanceRepository) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	out := new(uint256.Int)
	err := r.s.read(ctx, func(st *state) error {
		if b, ok := st.balances[account]; ok {
			out.Set(b)
		}
		return nil
	})
	return out, err
}

func (r *BalanceRepository) Credit(ctx context.Context, account common.Address, amount *uint256.Int) error {
	return r.s.write(ctx, func(st *state) error {
		cur := st.balances[account]
		if cur == nil {
			cur = new(uint256.Int)
		}
		st.balances[account] = new(uint256.Int).Add(cur, amount)
		return nil
	})
}

func (r *BalanceRepository) Debit(ctx context.Context, account common.Address, amount *uint256.Int) error {
	return r.s.write(ctx, func(st *state) error {
		cur := st.balances[account]
		if cur == nil || cur.Lt(amount) {
			return entities.ErrInsufficientBalance
		}
		st.balances[account] = new(uint256.Int).Sub(cur, amount)
		return nil
	})
}

func (r *BalanceRepository) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	total := new(uint256.Int)
	err := r.s.read(ctx, func(st *state) error {
		for _, b := range st.balances {
			total.Add(total, b)
		}
		return nil
	})
	return total, err
}

// ProcessedMessageRepository

type ProcessedMessageRepository struct{ s *Store }

func (r *ProcessedMessageRepository) Exists(ctx context.Context, guid common.Hash) (bool, error) {
	var ok bool
	err := r.s.read(ctx, func(st *state) error {
		_, ok = st.processed[guid]
		return nil
	})
	return ok, err
}

func (r *ProcessedMessageRepository) MarkProcessed(ctx context.Context, m *entities.ProcessedMessage) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.processed[m.GUID]; ok {
			return entities.ErrDuplicateMessage
		}
		cp := *m
		st.processed[m.GUID] = &cp
		return nil
	})
}

// TransferRepository

type TransferRepository struct{ s *Store }

func (r *TransferRepository) Create(ctx context.Context, t *entities.Transfer) error {
	return r.s.write(ctx, func(st *state) error {
		st.transfers[t.ID] = cloneTransfer(t)
		st.transferOrder = append(st.transferOrder, t.ID)
		return nil
	})
}

func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Transfer, error) {
	var out *entities.Transfer
	err := r.s.read(ctx, func(st *state) error {
		if t, ok := st.transfers[id]; ok {
			out = cloneTransfer(t)
		}
		return nil
	})
	return out, err
}

func (r *TransferRepository) GetByGUID(ctx context.Context, guid common.Hash) (*entities.Transfer, error) {
	var out *entities.Transfer
	err := r.s.read(ctx, func(st *state) error {
		for i := len(st.transferOrder) - 1; i >= 0; i-- {
			if t := st.transfers[st.transferOrder[i]]; t.GUID == guid {
				out = cloneTransfer(t)
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *TransferRepository) List(ctx context.Context, f repositories.TransferFilter) ([]*entities.Transfer, error) {
	var out []*entities.Transfer
	err := r.s.read(ctx, func(st *state) error {
		skipped := 0
		for i := len(st.transferOrder) - 1; i >= 0; i-- {
			t := st.transfers[st.transferOrder[i]]
			if f.Direction != nil && t.Direction != *f.Direction {
				continue
			}
			if f.Status != nil && t.Status != *f.Status {
				continue
			}
			if f.From != nil && t.From != *f.From {
				continue
			}
			if skipped < f.Offset {
				skipped++
				continue
			}
			out = append(out, cloneTransfer(t))
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r *TransferRepository) Update(ctx context.Context, t *entities.Transfer) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.transfers[t.ID]; !ok {
			return entities.ErrTransferNotFound
		}
		st.transfers[t.ID] = cloneTransfer(t)
		return nil
	})
}

func cloneTransfer(t *entities.Transfer) *entities.Transfer {
	cp := *t
	cp.AmountSentLD = cloneAmount(t.AmountSentLD)
	cp.AmountReceivedLD = cloneAmount(t.AmountReceivedLD)
	cp.NativeFee = cloneAmount(t.NativeFee)
	cp.AltTokenFee = cloneAmount(t.AltTokenFee)
	return &cp
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}

var (
	_ repositories.TxRunner                   = (*Store)(nil)
	_ repositories.RateLimitRepository        = (*RateLimitRepository)(nil)
	_ repositories.RoleRepository             = (*RoleRepository)(nil)
	_ repositories.PauseRepository            = (*PauseRepository)(nil)
	_ repositories.PeerRepository             = (*PeerRepository)(nil)
	_ repositories.EnforcedOptionRepository   = (*EnforcedOptionRepository)(nil)
	_ repositories.BalanceRepository          = (*BalanceRepository)(nil)
	_ repositories.ProcessedMessageRepository = (*ProcessedMessageRepository)(nil)
	_ repositories.TransferRepository         = (*TransferRepository)(nil)
)
