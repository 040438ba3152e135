package handlers

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/oft"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

// RelayHandlers accepts packets delivered by the external relayer
type RelayHandlers struct {
	base
	oft *oft.Service
}

func NewRelayHandlers(svc *oft.Service, log *logger.Logger) *RelayHandlers {
	return &RelayHandlers{base: base{logger: log}, oft: svc}
}

type inboundPacketRequest struct {
	SrcEid   uint32 `json:"src_eid" binding:"required"`
	Sender   string `json:"sender" binding:"required,recipient"`
	Nonce    uint64 `json:"nonce" binding:"required"`
	DstEid   uint32 `json:"dst_eid" binding:"required"`
	Receiver string `json:"receiver" binding:"required,recipient"`
	GUID     string `json:"guid" binding:"required,hexbytes,len=66"`
	Payload  string `json:"payload" binding:"required,hexbytes"`
}

// Deliver credits an inbound transfer. Replays answer 409 so the relayer
// can stop retrying; anything retryable answers 5xx.
// POST /api/v1/relay/packets
func (h *RelayHandlers) Deliver(c *gin.Context) {
	var req inboundPacketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}

	sender, _ := parseRecipient(req.Sender)
	receiver, _ := parseRecipient(req.Receiver)
	payload, _ := parseHex(req.Payload)

	msg := entities.InboundMessage{
		Origin:   entities.Origin{SrcEid: req.SrcEid, Sender: sender, Nonce: req.Nonce},
		DstEid:   req.DstEid,
		Receiver: receiver,
		GUID:     common.HexToHash(req.GUID),
		Payload:  payload,
	}

	transfer, err := h.oft.Receive(c.Request.Context(), msg)
	if err != nil {
		h.respondDomainError(c, "receive", err)
		return
	}
	c.JSON(http.StatusOK, transfer)
}
