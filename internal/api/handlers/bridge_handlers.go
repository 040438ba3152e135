package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/repositories"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/oft"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/peers"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/ratelimit"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

// TokenLedger reads balances of the token being bridged. In native mode it
// is the OFT ledger, in adapter mode the external token.
type TokenLedger interface {
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	TotalSupply(ctx context.Context) (*uint256.Int, error)
}

// Approver grants the bridge an allowance on the external token. Only
// present in adapter mode.
type Approver interface {
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
}

// BridgeHandlers serves quotes, sends and read-only bridge state
type BridgeHandlers struct {
	base
	oft               *oft.Service
	limiter           *ratelimit.Service
	peers             *peers.Service
	token             TokenLedger
	approver          Approver
	defaultReceiveGas uint64
}

func NewBridgeHandlers(
	svc *oft.Service,
	limiter *ratelimit.Service,
	peerService *peers.Service,
	token TokenLedger,
	approver Approver,
	defaultReceiveGas uint64,
	log *logger.Logger,
) *BridgeHandlers {
	return &BridgeHandlers{
		base:              base{logger: log},
		oft:               svc,
		limiter:           limiter,
		peers:             peerService,
		token:             token,
		approver:          approver,
		defaultReceiveGas: defaultReceiveGas,
	}
}

type sendParamRequest struct {
	DstEid       uint32 `json:"dst_eid" binding:"required"`
	To           string `json:"to" binding:"required,recipient"`
	Amount       string `json:"amount" binding:"required,amount"`
	MinAmount    string `json:"min_amount" binding:"omitempty,amount"`
	ExtraOptions string `json:"extra_options" binding:"omitempty,hexbytes"`
	ComposeMsg   string `json:"compose_msg" binding:"omitempty,hexbytes"`
}

type quoteRequest struct {
	sendParamRequest
	PayInAlt bool `json:"pay_in_alt"`
}

type feeRequest struct {
	NativeFee   string `json:"native_fee"`
	AltTokenFee string `json:"alt_token_fee"`
}

type sendRequest struct {
	sendParamRequest
	PayInAlt bool `json:"pay_in_alt"`
	// Fee defaults to a fresh quote when omitted
	Fee           *feeRequest `json:"fee"`
	RefundAddress string      `json:"refund_address" binding:"omitempty,eth_addr"`
}

type sendResponse struct {
	*entities.SendResult
	Status         entities.TransferStatus `json:"status"`
	AmountSent     string                  `json:"amount_sent"`
	AmountReceived string                  `json:"amount_received"`
}

type quoteOFTResponse struct {
	*entities.OFTQuote
	MaxAmount      string `json:"max_amount"`
	AmountReceived string `json:"amount_received"`
}

// sendParam converts a request into local units. Without extra options and
// without enforced options for the route, a default lzReceive gas option is
// attached so the message can execute.
func (h *BridgeHandlers) sendParam(ctx context.Context, req *sendParamRequest) (entities.SendParam, error) {
	decimals := h.oft.Decimals().Local()

	amount, err := toLocalUnits(req.Amount, decimals)
	if err != nil {
		return entities.SendParam{}, err
	}
	p := entities.SendParam{DstEid: req.DstEid, AmountLD: amount}

	if req.MinAmount != "" {
		if p.MinAmountLD, err = toLocalUnits(req.MinAmount, decimals); err != nil {
			return entities.SendParam{}, err
		}
	}
	if p.To, err = parseRecipient(req.To); err != nil {
		return entities.SendParam{}, err
	}
	if p.ExtraOptions, err = parseHex(req.ExtraOptions); err != nil {
		return entities.SendParam{}, err
	}
	if p.ComposeMsg, err = parseHex(req.ComposeMsg); err != nil {
		return entities.SendParam{}, err
	}

	if len(p.ExtraOptions) == 0 && h.defaultReceiveGas > 0 {
		enforced, err := h.oft.EnforcedOptions(ctx, p.DstEid, p.MsgType())
		if err != nil {
			return entities.SendParam{}, err
		}
		if len(enforced) == 0 {
			p.ExtraOptions = oft.NewOptions().AddExecutorLzReceiveOption(h.defaultReceiveGas, 0).Bytes()
		}
	}
	return p, nil
}

// Info returns the bridge identity and its peers
// GET /api/v1/bridge
func (h *BridgeHandlers) Info(c *gin.Context) {
	ctx := c.Request.Context()
	peerList, err := h.peers.List(ctx)
	if err != nil {
		h.respondDomainError(c, "list peers", err)
		return
	}
	supply, err := h.token.TotalSupply(ctx)
	if err != nil {
		h.respondDomainError(c, "total supply", err)
		return
	}

	token := h.oft.Token()
	info := gin.H{
		"local_eid":       h.oft.LocalEid(),
		"address":         h.oft.Address().Hex(),
		"mode":            token.Mode(),
		"local_decimals":  h.oft.Decimals().Local(),
		"shared_decimals": oft.SharedDecimals,
		"total_supply":    formatUnits(supply, h.oft.Decimals().Local()),
		"peers":           peerList,
	}
	if adapter, ok := token.(*oft.AdapterBinding); ok {
		info["token_address"] = adapter.TokenAddress().Hex()
	}
	c.JSON(http.StatusOK, info)
}

// QuoteSend returns the messaging fee for a transfer
// POST /api/v1/quotes/send
func (h *BridgeHandlers) QuoteSend(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}
	p, err := h.sendParam(c.Request.Context(), &req.sendParamRequest)
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidAmount, err.Error())
		return
	}

	fee, err := h.oft.QuoteSend(c.Request.Context(), p, req.PayInAlt)
	if err != nil {
		h.respondDomainError(c, "quote send", err)
		return
	}
	c.JSON(http.StatusOK, fee)
}

// QuoteOFT returns the accepted amount range and the expected receipt
// POST /api/v1/quotes/oft
func (h *BridgeHandlers) QuoteOFT(c *gin.Context) {
	var req sendParamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}
	p, err := h.sendParam(c.Request.Context(), &req)
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidAmount, err.Error())
		return
	}

	quote, err := h.oft.QuoteOFT(c.Request.Context(), p)
	if err != nil {
		h.respondDomainError(c, "quote oft", err)
		return
	}
	decimals := h.oft.Decimals().Local()
	c.JSON(http.StatusOK, quoteOFTResponse{
		OFTQuote:       quote,
		MaxAmount:      formatUnits(quote.Limit.MaxAmountLD, decimals),
		AmountReceived: formatUnits(quote.Receipt.AmountReceivedLD, decimals),
	})
}

// Send debits the caller and dispatches the transfer
// POST /api/v1/transfers
func (h *BridgeHandlers) Send(c *gin.Context) {
	sender, ok := getAccount(c)
	if !ok {
		respondUnauthorized(c)
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	p, err := h.sendParam(ctx, &req.sendParamRequest)
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidAmount, err.Error())
		return
	}

	var fee entities.MessagingFee
	if req.Fee == nil {
		if fee, err = h.oft.QuoteSend(ctx, p, req.PayInAlt); err != nil {
			h.respondDomainError(c, "quote send", err)
			return
		}
	} else {
		if fee.NativeFee, err = parseRawAmount(req.Fee.NativeFee); err != nil {
			respondBadRequest(c, ErrCodeInvalidAmount, err.Error())
			return
		}
		if fee.AltTokenFee, err = parseRawAmount(req.Fee.AltTokenFee); err != nil {
			respondBadRequest(c, ErrCodeInvalidAmount, err.Error())
			return
		}
	}

	refund := sender
	if req.RefundAddress != "" {
		refund = common.HexToAddress(req.RefundAddress)
	}

	status := http.StatusCreated
	transferStatus := entities.TransferStatusSucceeded
	result, err := h.oft.Send(ctx, sender, p, fee, refund)
	switch {
	case errors.Is(err, entities.ErrDispatchUnknown) && result != nil:
		// debit committed, delivery is confirmed later
		status = http.StatusAccepted
		transferStatus = entities.TransferStatusDispatchUnknown
	case err != nil:
		h.respondDomainError(c, "send", err)
		return
	}

	decimals := h.oft.Decimals().Local()
	c.JSON(status, sendResponse{
		SendResult:     result,
		Status:         transferStatus,
		AmountSent:     formatUnits(result.OFT.AmountSentLD, decimals),
		AmountReceived: formatUnits(result.OFT.AmountReceivedLD, decimals),
	})
}

// Balance returns an account's token balance
// GET /api/v1/balances/:address
func (h *BridgeHandlers) Balance(c *gin.Context) {
	account, err := parseAddress(c.Param("address"))
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidAddress, err.Error())
		return
	}

	ctx := c.Request.Context()
	balance, err := h.token.BalanceOf(ctx, account)
	if err != nil {
		h.respondDomainError(c, "balance", err)
		return
	}

	resp := gin.H{
		"account":    account.Hex(),
		"balance":    formatUnits(balance, h.oft.Decimals().Local()),
		"balance_ld": balance,
	}
	if h.approver != nil {
		allowance, err := h.approver.Allowance(ctx, account, h.oft.Address())
		if err != nil {
			h.respondDomainError(c, "allowance", err)
			return
		}
		resp["bridge_allowance_ld"] = allowance
	}
	c.JSON(http.StatusOK, resp)
}

// Approve sets the caller's allowance for the bridge on the external token
// POST /api/v1/token/approve
func (h *BridgeHandlers) Approve(c *gin.Context) {
	if h.approver == nil {
		respondBadRequest(c, ErrCodeUnsupported, "approvals only apply in adapter mode")
		return
	}
	owner, ok := getAccount(c)
	if !ok {
		respondUnauthorized(c)
		return
	}

	var req struct {
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

	if err := h.approver.Approve(c.Request.Context(), owner, h.oft.Address(), amount); err != nil {
		h.respondDomainError(c, "approve", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner":        owner.Hex(),
		"spender":      h.oft.Address().Hex(),
		"allowance_ld": amount,
	})
}

// RateLimits lists the window state of every configured destination
// GET /api/v1/rate-limits
func (h *BridgeHandlers) RateLimits(c *gin.Context) {
	statuses, err := h.limiter.Statuses(c.Request.Context(), h.now())
	if err != nil {
		h.respondDomainError(c, "rate limits", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate_limits": statuses})
}

// AmountCanBeSent reports in-flight and available capacity for one destination
// GET /api/v1/rate-limits/:eid
func (h *BridgeHandlers) AmountCanBeSent(c *gin.Context) {
	eid, err := parseEid(c.Param("eid"))
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}
	status, err := h.limiter.GetAmountCanBeSent(c.Request.Context(), eid, h.now())
	if err != nil {
		h.respondDomainError(c, "rate limit", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetTransfer returns a transfer record
// GET /api/v1/transfers/:id
func (h *BridgeHandlers) GetTransfer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidID, "invalid transfer id")
		return
	}
	t, err := h.oft.Transfer(c.Request.Context(), id)
	if err != nil {
		h.respondDomainError(c, "get transfer", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ListTransfers filters records by guid, direction, status or sender
// GET /api/v1/transfers
func (h *BridgeHandlers) ListTransfers(c *gin.Context) {
	ctx := c.Request.Context()
	if g := c.Query("guid"); g != "" {
		t, err := h.oft.TransferByGUID(ctx, common.HexToHash(g))
		if err != nil {
			h.respondDomainError(c, "get transfer", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transfers": []*entities.Transfer{t}})
		return
	}

	var filter repositories.TransferFilter
	if d := c.Query("direction"); d != "" {
		dir := entities.TransferDirection(d)
		filter.Direction = &dir
	}
	if s := c.Query("status"); s != "" {
		st := entities.TransferStatus(s)
		filter.Status = &st
	}
	if f := c.Query("from"); f != "" {
		from, err := parseRecipient(f)
		if err != nil {
			respondBadRequest(c, ErrCodeInvalidAddress, err.Error())
			return
		}
		filter.From = &from
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	transfers, err := h.oft.Transfers(ctx, filter)
	if err != nil {
		h.respondDomainError(c, "list transfers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers})
}

// MessageStatus reports whether an inbound guid was processed
// GET /api/v1/messages/:guid
func (h *BridgeHandlers) MessageStatus(c *gin.Context) {
	guid := common.HexToHash(c.Param("guid"))
	processed, err := h.oft.IsProcessed(c.Request.Context(), guid)
	if err != nil {
		h.respondDomainError(c, "message status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guid": guid.Hex(), "processed": processed})
}
