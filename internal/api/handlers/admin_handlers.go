package handlers

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/access"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/oft"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/peers"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/ratelimit"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

// Minter issues tokens to an account. The caller must hold the minter role.
type Minter interface {
	Mint(ctx context.Context, caller, to common.Address, amount *uint256.Int) error
}

// AdminHandlers exposes the role-gated configuration operations. Role checks
// happen in the services; the handlers only identify the caller.
type AdminHandlers struct {
	base
	access  *access.Service
	limiter *ratelimit.Service
	peers   *peers.Service
	oft     *oft.Service
	minter  Minter
}

func NewAdminHandlers(
	accessService *access.Service,
	limiter *ratelimit.Service,
	peerService *peers.Service,
	oftService *oft.Service,
	minter Minter,
	log *logger.Logger,
) *AdminHandlers {
	return &AdminHandlers{
		base:    base{logger: log},
		access:  accessService,
		limiter: limiter,
		peers:   peerService,
		oft:     oftService,
		minter:  minter,
	}
}

type rateLimitRequest struct {
	DstEid uint32 `json:"dst_eid" binding:"required"`
	// Limit is a human amount; "0" disables sends to the destination
	Limit         string `json:"limit" binding:"required,amount"`
	WindowSeconds int64  `json:"window_seconds" binding:"gte=0"`
}

// SetRateLimits replaces limits for the listed destinations
// PUT /api/v1/admin/rate-limits
func (h *AdminHandlers) SetRateLimits(c *gin.Context) {
	caller, ok := getAccount(c)
	if !ok {
		respondUnauthorized(c)
		return
	}

	var req struct {
		RateLimits []rateLimitRequest `json:"rate_limits" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}

	decimals := h.oft.Decimals().Local()
	configs := make([]entities.RateLimitConfig, 0, len(req.RateLimits))
	for _, r := range req.RateLimits {
		limit, err := toLocalUnits(r.Limit, decimals)
		if err != nil {
			respondBadRequest(c, ErrCodeInvalidAmount, err.Error())
			return
		}
		configs = append(configs, entities.RateLimitConfig{
			DstEid: r.DstEid,
			Limit:  limit,
			Window: secondsToDuration(r.WindowSeconds),
		})
	}

	if err := h.limiter.SetRateLimits(c.Request.Context(), caller, configs, h.now()); err != nil {
		h.respondDomainError(c, "set rate limits", err)
		return
	}
	h.logger.Info("Rate limits updated", "caller", caller.Hex(), "count", len(configs))
	c.JSON(http.StatusOK, gin.H{"updated": len(configs)})
}

type roleRequest struct {
	Role    string `json:"role" binding:"required"`
	Account string `json:"account" binding:"required,eth_addr"`
}

// GrantRole gives account a role. Admin only.
// POST /api/v1/admin/roles/grant
func (h *AdminHandlers) GrantRole(c *gin.Context) {
	h.changeRole(c, "grant role", h.access.GrantRole)
}

// RevokeRole removes a role. The last admin cannot be removed.
// POST /api/v1/admin/roles/revoke
func (h *AdminHandlers) RevokeRole(c *gin.Context) {
	h.changeRole(c, "revoke role", h.access.RevokeRole)
}

func (h *AdminHandlers) changeRole(c *gin.Context, op string, fn func(context.Context, common.Address, entities.Role, common.Address) error) {
	caller, ok := getAccount(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}
	role, err := entities.ParseRole(req.Role)
	if err != nil {
		h.respondDomainError(c, op, err)
		return
	}

	target := common.HexToAddress(req.Account)
	if err := fn(c.Request.Context(), caller, role, target); err != nil {
		h.respondDomainError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "account": target.Hex()})
}

// RenounceRole drops one of the caller's own roles
// POST /api/v1/admin/roles/renounce
func (h *AdminHandlers) RenounceRole(c *gin.Context) {
	caller, ok := getAccount(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}
	role, err := entities.ParseRole(req.Role)
	if err != nil {
		h.respondDomainError(c, "renounce role", err)
		return
	}
	if err := h.access.RenounceRole(c.Request.Context(), caller, role); err != nil {
		h.respondDomainError(c, "renounce role", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "account": caller.Hex()})
}

// Members lists holders of a role
// GET /api/v1/roles/:role
func (h *AdminHandlers) Members(c *gin.Context) {
	role, err := entities.ParseRole(c.Param("role"))
	if err != nil {
		h.respondDomainError(c, "list members", err)
		return
	}
	members, err := h.access.Members(c.Request.Context(), role)
	if err != nil {
		h.respondDomainError(c, "list members", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "members": members})
}

// Pause stops an operation class. Requires the pause role.
// POST /api/v1/admin/pause/:class
func (h *AdminHandlers) Pause(c *gin.Context) {
	h.setPaused(c, true)
}

// Unpause resumes an operation class. Requires the pause role.
// POST /api/v1/admin/unpause/:class
func (h *AdminHandlers) Unpause(c *gin.Context) {
	h.setPaused(c, false)
}

func (h *AdminHandlers) setPaused(c *gin.Context, paused bool) {
	caller, ok := getAccount(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	class, err := entities.ParsePauseClass(c.Param("class"))
	if err != nil {
		h.respondDomainError(c, "pause", err)
		return
	}

	ctx := c.Request.Context()
	if paused {
		err = h.access.Pause(ctx, caller, class)
	} else {
		err = h.access.Unpause(ctx, caller, class)
	}
	if err != nil {
		h.respondDomainError(c, "pause", err)
		return
	}
	h.logger.Warn("Pause state changed", "class", class, "paused", paused, "caller", caller.Hex())
	c.JSON(http.StatusOK, gin.H{"class": class, "paused": paused})
}

// PauseStatus reports both pause classes
// GET /api/v1/pause
func (h *AdminHandlers) PauseStatus(c *gin.Context) {
	ctx := c.Request.Context()
	out := gin.H{}
	for _, class := range []entities.PauseClass{entities.PauseClassSend, entities.PauseClassMint} {
		paused, err := h.access.IsPaused(ctx, class)
		if err != nil {
			h.respondDomainError(c, "pause status", err)
			return
		}
		out[string(class)] = paused
	}
	c.JSON(http.StatusOK, out)
}

// SetPeer binds or, with a zero address, unbinds the counterpart on eid
// PUT /api/v1/admin/peers/:eid
func (h *AdminHandlers) SetPeer(c *gin.Context) {
	caller, ok := getAccount(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	eid, err := parseEid(c.Param("eid"))
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}
	var req struct {
		Address string `json:"address" binding:"required,recipient"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}
	peer, _ := parseRecipient(req.Address)

	if err := h.peers.SetPeer(c.Request.Context(), caller, eid, peer); err != nil {
		h.respondDomainError(c, "set peer", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"eid": eid, "peer": peer.Hex()})
}

type enforcedOptionRequest struct {
	Eid     uint32 `json:"eid" binding:"required"`
	MsgType uint16 `json:"msg_type" binding:"required,oneof=1 2"`
	Options string `json:"options" binding:"hexbytes"`
}

// SetEnforcedOptions stores minimum executor options per route
// PUT /api/v1/admin/enforced-options
func (h *AdminHandlers) SetEnforcedOptions(c *gin.Context) {
	caller, ok := getAccount(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	var req struct {
		Options []enforcedOptionRequest `json:"enforced_options" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}

	opts := make([]entities.EnforcedOption, 0, len(req.Options))
	for _, o := range req.Options {
		b, _ := parseHex(o.Options)
		opts = append(opts, entities.EnforcedOption{Eid: o.Eid, MsgType: o.MsgType, Options: b})
	}
	if err := h.oft.SetEnforcedOptions(c.Request.Context(), caller, opts); err != nil {
		h.respondDomainError(c, "set enforced options", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(opts)})
}

// Mint issues tokens. Requires the minter role.
// POST /api/v1/admin/mint
func (h *AdminHandlers) Mint(c *gin.Context) {
	caller, ok := getAccount(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	var req struct {
		To     string `json:"to" binding:"required,eth_addr"`
		Amount string `json:"amount" binding:"required,amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}
	amount, err := toLocalUnits(req.Amount, h.oft.Decimals().Local())
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidAmount, err.Error())
		return
	}

	to := common.HexToAddress(req.To)
	if err := h.minter.Mint(c.Request.Context(), caller, to, amount); err != nil {
		h.respondDomainError(c, "mint", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"to": to.Hex(), "amount": req.Amount, "amount_ld": amount})
}
