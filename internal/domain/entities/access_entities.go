package entities

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Role is a named permission held by an account
type Role string

const (
	RoleAdmin  Role = "DEFAULT_ADMIN_ROLE"
	RoleMinter Role = "MINTER_ROLE"
	RolePauser Role = "PAUSE_ROLE"
)

// AllRoles lists the roles in grant order
var AllRoles = []Role{RoleAdmin, RoleMinter, RolePauser}

// ParseRole accepts the canonical name or a short alias (admin, minter, pauser)
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEFAULT_ADMIN_ROLE", "ADMIN":
		return RoleAdmin, nil
	case "MINTER_ROLE", "MINTER":
		return RoleMinter, nil
	case "PAUSE_ROLE", "PAUSER", "PAUSE":
		return RolePauser, nil
	default:
		return "", ErrInvalidRole
	}
}

// PauseClass is an independently pausable operation class
type PauseClass string

const (
	// PauseClassSend gates quoting and outbound transfers
	PauseClassSend PauseClass = "send"
	// PauseClassMint gates direct issuance and inbound credits
	PauseClassMint PauseClass = "mint"
)

func ParsePauseClass(s string) (PauseClass, error) {
	switch PauseClass(strings.ToLower(strings.TrimSpace(s))) {
	case PauseClassSend:
		return PauseClassSend, nil
	case PauseClassMint:
		return PauseClassMint, nil
	default:
		return "", ErrInvalidPauseClass
	}
}

// RoleAssignment records who holds a role
type RoleAssignment struct {
	Account   common.Address `json:"account"`
	Role      Role           `json:"role"`
	GrantedBy common.Address `json:"granted_by"`
	GrantedAt time.Time      `json:"granted_at"`
}

// PauseState is the flag for one pause class
type PauseState struct {
	Class     PauseClass     `json:"class"`
	Paused    bool           `json:"paused"`
	UpdatedBy common.Address `json:"updated_by"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Peer is the counterpart bridge on a remote endpoint
type Peer struct {
	Eid       uint32      `json:"eid"`
	Address   common.Hash `json:"address"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// EnforcedOption is the minimum executor options for a destination and message type
type EnforcedOption struct {
	Eid     uint32 `json:"eid"`
	MsgType uint16 `json:"msg_type"`
	Options []byte `json:"options"`
}
