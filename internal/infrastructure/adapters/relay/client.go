// Package relay implements oft.MessageChannel against an external relayer
// HTTP API. Fee quotes are retried and may be cached; packet submissions are
// sent once under a client packet id. A submission that may have reached the
// relayer without a definitive answer is reported as entities.ErrDispatchUnknown
// and can be looked up later by that id.
package relay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/oft"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/cache"
	"github.com/mbtc-bridge/oft_service/pkg/metrics"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultRPS         = 10
	defaultFeeCacheTTL = 15 * time.Second
	maxRetries         = 3
)

// Config represents relay client configuration
type Config struct {
	BaseURL     string
	APIKey      string
	LocalEid    uint32
	Timeout     time.Duration
	RPS         float64
	FeeCacheTTL time.Duration
}

// Client is an HTTP relayer client
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	cache          cache.RedisClient
	retryBase      time.Duration
	logger         *zap.Logger
}

// NewClient creates a relay client. feeCache may be nil.
func NewClient(config Config, feeCache cache.RedisClient, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RPS == 0 {
		config.RPS = defaultRPS
	}
	if config.FeeCacheTTL == 0 {
		config.FeeCacheTTL = defaultFeeCacheTTL
	}

	cbSettings := gobreaker.Settings{
		Name:        "RelayAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// client errors mean the relayer is up
		IsSuccessful: func(err error) bool {
			var apiErr *ErrorResponse
			return err == nil || (errors.As(err, &apiErr) && apiErr.StatusCode < 500)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Relay circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(config.RPS), 1),
		cache:          feeCache,
		retryBase:      time.Second,
		logger:         logger,
	}
}

// EstimateFee quotes a packet of payloadSize bytes with options to dstEid
func (c *Client) EstimateFee(ctx context.Context, dstEid uint32, payloadSize int, options []byte, payInAlt bool) (entities.MessagingFee, error) {
	key := c.feeCacheKey(dstEid, payloadSize, options, payInAlt)
	if c.cache != nil {
		var cached FeeResponse
		if err := c.cache.Get(ctx, key, &cached); err == nil {
			if fee, err := parseFee(cached); err == nil {
				return fee, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("Fee cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	q := url.Values{}
	q.Set("src_eid", strconv.FormatUint(uint64(c.config.LocalEid), 10))
	q.Set("dst_eid", strconv.FormatUint(uint64(dstEid), 10))
	q.Set("payload_size", strconv.Itoa(payloadSize))
	q.Set("options", hexutil.Encode(options))
	q.Set("pay_in_alt", strconv.FormatBool(payInAlt))

	var resp FeeResponse
	if err := c.do(ctx, "estimate_fee", http.MethodGet, "/v1/fees?"+q.Encode(), nil, &resp, true); err != nil {
		return entities.MessagingFee{}, fmt.Errorf("estimate fee failed: %w", err)
	}
	fee, err := parseFee(resp)
	if err != nil {
		return entities.MessagingFee{}, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, resp, c.config.FeeCacheTTL); err != nil {
			c.logger.Warn("Fee cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return fee, nil
}

// Send submits packet to the relayer. Definitive refusals wrap
// entities.ErrChannelRejected; outcomes where the relayer may hold the packet
// wrap entities.ErrDispatchUnknown.
func (c *Client) Send(ctx context.Context, packet oft.Packet) (entities.MessagingReceipt, error) {
	body := PacketRequest{
		PacketID: packet.ID.String(),
		SrcEid:   packet.SrcEid,
		Sender:   packet.Sender.Hex(),
		DstEid:   packet.DstEid,
		Receiver: packet.Receiver.Hex(),
		Payload:  hexutil.Encode(packet.Payload),
		Options:  hexutil.Encode(packet.Options),
		Fee:      formatFee(packet.Fee),
		Refund:   packet.Refund.Hex(),
	}

	var resp PacketResponse
	if err := c.do(ctx, "send", http.MethodPost, "/v1/packets", body, &resp, false); err != nil {
		return entities.MessagingReceipt{}, classifySendError(err)
	}

	receipt, err := parseReceipt(resp)
	if err != nil {
		// a 2xx means the relayer took the packet
		c.logger.Error("Relay accepted packet with unreadable receipt",
			zap.String("packet_id", body.PacketID),
			zap.Error(err))
		return entities.MessagingReceipt{}, fmt.Errorf("%w: %w", entities.ErrDispatchUnknown, err)
	}
	return receipt, nil
}

// LookupPacket returns the receipt of a packet submitted with id, or nil
// when the relayer does not know it.
func (c *Client) LookupPacket(ctx context.Context, id uuid.UUID) (*entities.MessagingReceipt, error) {
	var resp PacketResponse
	err := c.do(ctx, "lookup", http.MethodGet, "/v1/packets/"+id.String(), nil, &resp, true)
	if err != nil {
		var apiErr *ErrorResponse
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup packet failed: %w", err)
	}
	receipt, err := parseReceipt(resp)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func classifySendError(err error) error {
	var apiErr *ErrorResponse
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode < 500:
		return fmt.Errorf("%w: %v", entities.ErrChannelRejected, err)
	case errors.Is(err, errNotSent),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", entities.ErrChannelRejected, err)
	default:
		return fmt.Errorf("%w: send packet: %v", entities.ErrDispatchUnknown, err)
	}
}

func parseReceipt(resp PacketResponse) (entities.MessagingReceipt, error) {
	if len(common.FromHex(resp.GUID)) != common.HashLength {
		return entities.MessagingReceipt{}, fmt.Errorf("%w: guid %q", ErrInvalidResponse, resp.GUID)
	}
	fee, err := parseFee(resp.Fee)
	if err != nil {
		return entities.MessagingReceipt{}, err
	}
	return entities.MessagingReceipt{
		GUID:  common.HexToHash(resp.GUID),
		Nonce: resp.Nonce,
		Fee:   fee,
	}, nil
}

func (c *Client) feeCacheKey(dstEid uint32, payloadSize int, options []byte, payInAlt bool) string {
	sum := sha256.Sum256(options)
	return fmt.Sprintf("relay:fee:%d:%d:%d:%s:%t", c.config.LocalEid, dstEid, payloadSize, hex.EncodeToString(sum[:8]), payInAlt)
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, body, response interface{}, retry bool) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", errNotSent, err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.doRequest(ctx, method, endpoint, body, response, retry)
	})
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.RelayRequestsTotal.WithLabelValues(operation, outcome).Inc()
	return err
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, response interface{}, retry bool) error {
	fullURL := c.config.BaseURL + endpoint

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%w: marshal request: %v", errNotSent, err)
		}
	}

	attempts := 1
	if retry {
		attempts += maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := c.retryBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("%w: create request: %v", errNotSent, err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if r, ok := body.(PacketRequest); ok {
			req.Header.Set("Idempotency-Key", r.PacketID)
		}
		if c.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			continue
		}

		if resp.StatusCode >= 400 {
			errResp := &ErrorResponse{StatusCode: resp.StatusCode}
			if json.Unmarshal(respBody, errResp) != nil || errResp.Message == "" {
				errResp.Message = string(respBody)
			}
			errResp.StatusCode = resp.StatusCode
			if resp.StatusCode >= 500 || errResp.IsRateLimited() {
				lastErr = errResp
				continue
			}
			return errResp
		}

		if response != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, response); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func parseFee(f FeeResponse) (entities.MessagingFee, error) {
	native, err := parseAmount(f.NativeFee)
	if err != nil {
		return entities.MessagingFee{}, fmt.Errorf("%w: native fee: %v", ErrInvalidResponse, err)
	}
	alt, err := parseAmount(f.AltTokenFee)
	if err != nil {
		return entities.MessagingFee{}, fmt.Errorf("%w: alt token fee: %v", ErrInvalidResponse, err)
	}
	return entities.MessagingFee{NativeFee: native, AltTokenFee: alt}, nil
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}

func formatFee(f entities.MessagingFee) FeeResponse {
	out := FeeResponse{NativeFee: "0", AltTokenFee: "0"}
	if f.NativeFee != nil {
		out.NativeFee = f.NativeFee.Dec()
	}
	if f.AltTokenFee != nil {
		out.AltTokenFee = f.AltTokenFee.Dec()
	}
	return out
}

var (
	_ oft.MessageChannel   = (*Client)(nil)
	_ oft.DispatchResolver = (*Client)(nil)
)
