package oft

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/pkg/metrics"
	"github.com/mbtc-bridge/oft_service/pkg/tracing"
)

// burnAddress receives credits addressed to the zero address
var burnAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// Receive credits an inbound transfer. The message is marked processed and
// the recipient credited in one transaction with the credit as its last
// step; a delivery that fails before commit can be retried, one that
// committed is rejected as a duplicate.
//
// Non-transactional tokens are credited after the commit, so a message is
// never credited twice. A credit that fails after the commit leaves the
// transfer failed for an operator to settle.
func (s *Service) Receive(ctx context.Context, msg entities.InboundMessage) (*entities.Transfer, error) {
	ctx, span := tracing.StartSpan(ctx, "oft.Receive",
		tracing.Eid("src_eid", msg.Origin.SrcEid))
	transfer, decoded, err := s.receive(ctx, msg)
	tracing.EndSpan(span, err)

	if err != nil {
		if errors.Is(err, entities.ErrDuplicateMessage) {
			metrics.DuplicateMessages.WithLabelValues(metrics.EidLabel(msg.Origin.SrcEid)).Inc()
		}
		metrics.RecordTransfer(string(entities.TransferDirectionInbound), msg.Origin.SrcEid, "failed")
		metrics.TransferFailuresByReason.WithLabelValues(string(entities.TransferDirectionInbound), inboundFailureReason(err)).Inc()
		s.logger.Warn("Inbound message rejected",
			"guid", msg.GUID.Hex(),
			"src_eid", msg.Origin.SrcEid,
			"nonce", msg.Origin.Nonce,
			"error", err)
		return nil, err
	}

	metrics.RecordTransfer(string(entities.TransferDirectionInbound), msg.Origin.SrcEid, "succeeded")
	s.logger.Info("Transfer received",
		"transfer_id", transfer.ID,
		"guid", msg.GUID.Hex(),
		"src_eid", msg.Origin.SrcEid,
		"to", transfer.To.Hex(),
		"amount_received_ld", transfer.AmountReceivedLD.Dec())

	if decoded.IsComposed() {
		s.forwardCompose(ctx, msg, transfer, decoded)
	}
	return transfer, nil
}

func (s *Service) receive(ctx context.Context, msg entities.InboundMessage) (*entities.Transfer, *Message, error) {
	if msg.DstEid != 0 && msg.DstEid != s.cfg.LocalEid {
		return nil, nil, fmt.Errorf("%w: addressed to eid %d", entities.ErrInvalidPayload, msg.DstEid)
	}
	peer, err := s.peers.Peer(ctx, msg.Origin.SrcEid)
	if err != nil {
		if errors.Is(err, entities.ErrNoPeer) {
			return nil, nil, fmt.Errorf("%w: no peer for eid %d", entities.ErrUnauthorizedPeer, msg.Origin.SrcEid)
		}
		return nil, nil, err
	}
	if peer != msg.Origin.Sender {
		return nil, nil, entities.ErrUnauthorizedPeer
	}

	decoded, err := DecodeMessage(msg.Payload)
	if err != nil {
		return nil, nil, err
	}
	amountLD := s.decimals.ToLD(decoded.AmountSD)

	recipient := entities.Bytes32ToAddress(decoded.To)
	if recipient == (common.Address{}) {
		recipient = burnAddress
	}

	now := s.now()
	transfer := &entities.Transfer{
		ID:               uuid.New(),
		GUID:             msg.GUID,
		Direction:        entities.TransferDirectionInbound,
		SrcEid:           msg.Origin.SrcEid,
		DstEid:           s.cfg.LocalEid,
		Nonce:            msg.Origin.Nonce,
		From:             msg.Origin.Sender,
		To:               entities.AddressToBytes32(recipient),
		AmountSentLD:     amountLD,
		AmountReceivedLD: amountLD,
		Composed:         decoded.IsComposed(),
		Status:           entities.TransferStatusSucceeded,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	deferCredit := !s.token.Transactional()
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// a paused delivery stays unprocessed so the relayer can retry it
		if err := s.access.RequireNotPaused(ctx, entities.PauseClassMint); err != nil {
			return err
		}
		if deferCredit {
			if err := s.token.CanCredit(ctx, amountLD); err != nil {
				return err
			}
		}
		if err := s.processed.MarkProcessed(ctx, &entities.ProcessedMessage{
			GUID:        msg.GUID,
			SrcEid:      msg.Origin.SrcEid,
			Sender:      msg.Origin.Sender,
			Nonce:       msg.Origin.Nonce,
			ProcessedAt: now,
		}); err != nil {
			return err
		}
		if err := s.transfers.Create(ctx, transfer); err != nil {
			return fmt.Errorf("failed to record transfer: %w", err)
		}
		if deferCredit {
			return nil
		}
		return s.token.Credit(ctx, recipient, amountLD)
	})
	if err != nil {
		return nil, nil, err
	}

	if deferCredit {
		if err := s.token.Credit(ctx, recipient, amountLD); err != nil {
			s.logger.Error("Credit failed after message was marked processed",
				"transfer_id", transfer.ID,
				"guid", msg.GUID.Hex(),
				"to", recipient.Hex(),
				"amount", amountLD.Dec(),
				"error", err)
			transfer.Fail(err, s.now())
			if uerr := s.transfers.Update(context.WithoutCancel(ctx), transfer); uerr != nil {
				s.logger.Warn("Failed to update transfer record", "transfer_id", transfer.ID, "error", uerr)
			}
			return nil, nil, err
		}
	}
	return transfer, decoded, nil
}

// IsProcessed reports whether an inbound guid was already credited
func (s *Service) IsProcessed(ctx context.Context, guid common.Hash) (bool, error) {
	return s.processed.Exists(ctx, guid)
}

// forwardCompose hands the compose payload to the composer. The credit has
// already committed, so composer failures are logged and not returned.
func (s *Service) forwardCompose(ctx context.Context, msg entities.InboundMessage, transfer *entities.Transfer, decoded *Message) {
	if s.composer == nil {
		s.logger.Warn("Compose message dropped, no composer configured", "guid", msg.GUID.Hex())
		return
	}
	payload := EncodeCompose(msg.Origin.Nonce, msg.Origin.SrcEid, transfer.AmountReceivedLD, decoded.ComposeFrom, decoded.ComposeMsg)
	to := entities.Bytes32ToAddress(transfer.To)
	if err := s.composer.Compose(ctx, to, msg.GUID, 0, payload); err != nil {
		s.logger.Error("Compose delivery failed", "guid", msg.GUID.Hex(), "to", to.Hex(), "error", err)
	}
}

func inboundFailureReason(err error) string {
	switch {
	case errors.Is(err, entities.ErrUnauthorizedPeer):
		return "unauthorized_peer"
	case errors.Is(err, entities.ErrDuplicateMessage):
		return "duplicate"
	case errors.Is(err, entities.ErrPaused):
		return "paused"
	case errors.Is(err, entities.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, entities.ErrInsufficientCustody):
		return "insufficient_custody"
	default:
		return "internal"
	}
}
