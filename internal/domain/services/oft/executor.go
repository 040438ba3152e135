package oft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/pkg/metrics"
	"github.com/mbtc-bridge/oft_service/pkg/tracing"
)

// Send debits sender and dispatches p to the destination peer.
//
// Rate limit consumption, the debit and the transfer record share one store
// transaction and the channel dispatch is its final step, so a rejected
// dispatch rolls everything back. Non-transactional tokens are only checked
// before dispatch and moved once the channel has taken the message.
//
// When the channel cannot tell whether it took the message, the debit
// commits with the transfer in TransferStatusDispatchUnknown and Send returns
// the result together with an error wrapping entities.ErrDispatchUnknown.
func (s *Service) Send(ctx context.Context, sender common.Address, p entities.SendParam, fee entities.MessagingFee, refund common.Address) (*entities.SendResult, error) {
	ctx, span := tracing.StartSpan(ctx, "oft.Send", tracing.Eid("dst_eid", p.DstEid))
	start := time.Now()
	now := s.now()

	transfer := &entities.Transfer{
		ID:           uuid.New(),
		Direction:    entities.TransferDirectionOutbound,
		SrcEid:       s.cfg.LocalEid,
		DstEid:       p.DstEid,
		From:         entities.AddressToBytes32(sender),
		To:           p.To,
		AmountSentLD: p.AmountLD,
		NativeFee:    fee.NativeFee,
		AltTokenFee:  fee.AltTokenFee,
		Composed:     len(p.ComposeMsg) > 0,
		Status:       entities.TransferStatusQuoted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	result, err := s.send(ctx, sender, &p, fee, refund, transfer, now)
	metrics.SendDuration.WithLabelValues(metrics.EidLabel(p.DstEid)).Observe(time.Since(start).Seconds())
	tracing.EndSpan(span, err)
	if errors.Is(err, entities.ErrDispatchUnknown) && result != nil {
		metrics.RecordTransfer(string(entities.TransferDirectionOutbound), p.DstEid, "dispatch_unknown")
		metrics.DispatchUnknown.WithLabelValues("committed").Inc()
		s.logger.Warn("Transfer committed with unconfirmed dispatch",
			"transfer_id", transfer.ID,
			"dst_eid", p.DstEid,
			"sender", sender.Hex(),
			"error", err)
		return result, err
	}
	if err != nil {
		transfer.Fail(err, s.now())
		s.recordFailure(ctx, transfer, err)
		return nil, err
	}

	metrics.RecordTransfer(string(entities.TransferDirectionOutbound), p.DstEid, "succeeded")
	s.logger.Info("Transfer sent",
		"transfer_id", transfer.ID,
		"guid", result.Messaging.GUID.Hex(),
		"dst_eid", p.DstEid,
		"sender", sender.Hex(),
		"amount_sent_ld", result.OFT.AmountSentLD.Dec(),
		"amount_received_ld", result.OFT.AmountReceivedLD.Dec())
	return result, nil
}

func (s *Service) send(ctx context.Context, sender common.Address, p *entities.SendParam, fee entities.MessagingFee, refund common.Address, transfer *entities.Transfer, now time.Time) (*entities.SendResult, error) {
	out, err := s.prepare(ctx, sender, p)
	if err != nil {
		return nil, err
	}
	transfer.AmountSentLD = out.amountSentLD
	transfer.AmountReceivedLD = out.amountReceivedLD

	unlock, err := s.locker.Lock(ctx, s.sendLockKey(sender, p.DstEid), s.cfg.SendLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire send lock: %w", err)
	}
	defer unlock()

	deferDebit := !s.token.Transactional()
	var (
		receipt    entities.MessagingReceipt
		dispatched bool
		unknown    bool
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// pause may have flipped since prepare
		if err := s.access.RequireNotPaused(ctx, entities.PauseClassSend); err != nil {
			return err
		}

		if err := s.limiter.CheckAndConsume(ctx, p.DstEid, out.amountSentLD, now); err != nil {
			return err
		}
		transfer.Advance(entities.TransferStatusRateLimitChecked, s.now())

		if deferDebit {
			if err := s.token.CanDebit(ctx, sender, out.amountSentLD); err != nil {
				return err
			}
		} else {
			if err := s.token.Debit(ctx, sender, out.amountSentLD); err != nil {
				return err
			}
			transfer.Advance(entities.TransferStatusDebited, s.now())
		}

		if err := s.transfers.Create(ctx, transfer); err != nil {
			return fmt.Errorf("failed to record transfer: %w", err)
		}

		receipt, err = s.channel.Send(ctx, Packet{
			ID:       transfer.ID,
			SrcEid:   s.cfg.LocalEid,
			Sender:   entities.AddressToBytes32(s.cfg.Address),
			DstEid:   p.DstEid,
			Receiver: out.peer,
			Payload:  out.payload,
			Options:  out.options,
			Fee:      fee,
			Refund:   refund,
		})
		switch {
		case errors.Is(err, entities.ErrDispatchUnknown):
			unknown = true
		case errors.Is(err, entities.ErrChannelRejected):
			return err
		case err != nil:
			return fmt.Errorf("%w: %v", entities.ErrChannelRejected, err)
		}
		dispatched = true

		if deferDebit {
			if err := s.token.Debit(ctx, sender, out.amountSentLD); err != nil {
				return fmt.Errorf("failed to debit after dispatch: %w", err)
			}
			transfer.Advance(entities.TransferStatusDebited, s.now())
		}

		if unknown {
			transfer.Advance(entities.TransferStatusDispatchUnknown, s.now())
			if err := s.transfers.Update(ctx, transfer); err != nil {
				return fmt.Errorf("failed to record unconfirmed dispatch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if dispatched {
			// the message may be delivered while local state rolled back
			metrics.CustodyInvariantViolations.Inc()
			s.logger.Error("Transaction failed after dispatch",
				"transfer_id", transfer.ID,
				"guid", receipt.GUID.Hex(),
				"error", err)
		}
		return nil, err
	}

	result := &entities.SendResult{
		TransferID: transfer.ID,
		OFT: entities.OFTReceipt{
			AmountSentLD:     out.amountSentLD.Clone(),
			AmountReceivedLD: out.amountReceivedLD.Clone(),
		},
	}
	if unknown {
		return result, fmt.Errorf("%w: transfer %s", entities.ErrDispatchUnknown, transfer.ID)
	}

	transfer.GUID = receipt.GUID
	transfer.Nonce = receipt.Nonce
	transfer.NativeFee = receipt.Fee.NativeFee
	transfer.AltTokenFee = receipt.Fee.AltTokenFee
	transfer.Advance(entities.TransferStatusMessageSent, s.now())
	transfer.Advance(entities.TransferStatusSucceeded, s.now())
	if err := s.transfers.Update(ctx, transfer); err != nil {
		s.logger.Warn("Failed to update transfer record", "transfer_id", transfer.ID, "error", err)
	}

	result.Messaging = receipt
	return result, nil
}

// recordFailure persists a failed attempt outside the rolled back transaction
func (s *Service) recordFailure(ctx context.Context, transfer *entities.Transfer, cause error) {
	metrics.RecordTransfer(string(transfer.Direction), transfer.DstEid, "failed")
	metrics.TransferFailuresByReason.WithLabelValues(string(transfer.Direction), failureReason(cause)).Inc()

	if err := s.transfers.Create(context.WithoutCancel(ctx), transfer); err != nil {
		s.logger.Warn("Failed to record failed transfer", "transfer_id", transfer.ID, "error", err)
	}
	s.logger.Warn("Transfer failed",
		"transfer_id", transfer.ID,
		"dst_eid", transfer.DstEid,
		"reason", transfer.FailureReason)
}

// sendLockKey scopes the send lock. Adapter sends from one owner draw on a
// single allowance, so they lock per owner rather than per destination.
func (s *Service) sendLockKey(sender common.Address, dstEid uint32) string {
	if !s.token.Transactional() {
		return fmt.Sprintf("oft:send:%s", sender.Hex())
	}
	return fmt.Sprintf("oft:send:%s:%d", sender.Hex(), dstEid)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, entities.ErrZeroAmount), errors.Is(err, entities.ErrInvalidMinAmount):
		return "invalid_amount"
	case errors.Is(err, entities.ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, entities.ErrNoPeer):
		return "no_peer"
	case errors.Is(err, entities.ErrPaused):
		return "paused"
	case errors.Is(err, entities.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, entities.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, entities.ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, entities.ErrChannelRejected):
		return "channel_rejected"
	case errors.Is(err, entities.ErrDispatchUnknown):
		return "dispatch_unknown"
	case errors.Is(err, entities.ErrInvalidOptions):
		return "invalid_options"
	default:
		return "internal"
	}
}
