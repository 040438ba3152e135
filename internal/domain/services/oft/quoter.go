package oft

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/pkg/tracing"
)

// outbound is a validated send ready for the channel
type outbound struct {
	peer             common.Hash
	amountSentLD     *uint256.Int
	amountReceivedLD *uint256.Int
	payload          []byte
	options          []byte
}

// prepare validates p and builds the exact payload and options a send would
// dispatch. It reads state but never writes it.
func (s *Service) prepare(ctx context.Context, sender common.Address, p *entities.SendParam) (*outbound, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.access.RequireNotPaused(ctx, entities.PauseClassSend); err != nil {
		return nil, err
	}
	peer, err := s.peers.Peer(ctx, p.DstEid)
	if err != nil {
		return nil, err
	}

	sent, received, err := s.decimals.DebitView(p.AmountLD, p.MinAmountLD)
	if err != nil {
		return nil, err
	}
	if sent.IsZero() {
		return nil, fmt.Errorf("%w: amount is below the shared decimals precision", entities.ErrZeroAmount)
	}
	amountSD, err := s.decimals.ToSD(received)
	if err != nil {
		return nil, err
	}

	options, err := s.combineOptions(ctx, p.DstEid, p.MsgType(), p.ExtraOptions)
	if err != nil {
		return nil, err
	}

	return &outbound{
		peer:             peer,
		amountSentLD:     sent,
		amountReceivedLD: received,
		payload:          EncodeMessage(p.To, amountSD, entities.AddressToBytes32(sender), p.ComposeMsg),
		options:          options,
	}, nil
}

// QuoteSend returns the channel fee for p. No state is changed and no rate
// limit capacity is consumed, so repeated quotes return the same fee.
func (s *Service) QuoteSend(ctx context.Context, p entities.SendParam, payInAlt bool) (entities.MessagingFee, error) {
	ctx, span := tracing.StartSpan(ctx, "oft.QuoteSend", tracing.Eid("dst_eid", p.DstEid))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	var out *outbound
	out, err = s.prepare(ctx, common.Address{}, &p)
	if err != nil {
		return entities.MessagingFee{}, err
	}

	var fee entities.MessagingFee
	fee, err = s.channel.EstimateFee(ctx, p.DstEid, len(out.payload), out.options, payInAlt)
	if err != nil {
		return entities.MessagingFee{}, fmt.Errorf("failed to estimate fee: %w", err)
	}
	return fee, nil
}

// QuoteOFT reports the amount range accepted for the destination and the
// amounts a send of p would debit and credit.
func (s *Service) QuoteOFT(ctx context.Context, p entities.SendParam) (*entities.OFTQuote, error) {
	if p.AmountLD == nil {
		return nil, entities.ErrZeroAmount
	}
	if _, err := s.peers.Peer(ctx, p.DstEid); err != nil {
		return nil, err
	}

	status, err := s.limiter.GetAmountCanBeSent(ctx, p.DstEid, s.now())
	if err != nil {
		return nil, err
	}

	sent, received, err := s.decimals.DebitView(p.AmountLD, nil)
	if err != nil {
		return nil, err
	}

	maxAmount := status.Available
	if sdMax := s.decimals.ToLD(^uint64(0)); sdMax.Lt(maxAmount) {
		maxAmount = sdMax
	}

	return &entities.OFTQuote{
		Limit: entities.OFTLimit{
			MinAmountLD: new(uint256.Int),
			MaxAmountLD: maxAmount,
		},
		FeeDetails: []entities.OFTFeeDetail{},
		Receipt: entities.OFTReceipt{
			AmountSentLD:     sent,
			AmountReceivedLD: received,
		},
	}, nil
}
