package entities

import (
	"time"

	"github.com/holiman/uint256"
)

// MaxAmount is reported as available for destinations without a configured limit
var MaxAmount = new(uint256.Int).SetAllOne()

// RateLimitConfig is the admin-supplied limit for one destination
type RateLimitConfig struct {
	DstEid uint32        `json:"dst_eid"`
	Limit  *uint256.Int  `json:"limit"`
	Window time.Duration `json:"window"`
}

// Validate rejects active limits without a window
func (c RateLimitConfig) Validate() error {
	if c.Limit == nil {
		return ErrInvalidRateLimit
	}
	if !c.Limit.IsZero() && c.Window <= 0 {
		return ErrInvalidRateLimit
	}
	if c.Window < 0 {
		return ErrInvalidRateLimit
	}
	return nil
}

// RateLimit is the fixed-window state for one destination
type RateLimit struct {
	DstEid         uint32        `json:"dst_eid"`
	Limit          *uint256.Int  `json:"limit"`
	Window         time.Duration `json:"window"`
	AmountInFlight *uint256.Int  `json:"amount_in_flight"`
	WindowStart    time.Time     `json:"window_start"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewRateLimit creates state for a freshly configured destination
func NewRateLimit(cfg RateLimitConfig, now time.Time) *RateLimit {
	return &RateLimit{
		DstEid:         cfg.DstEid,
		Limit:          cfg.Limit.Clone(),
		Window:         cfg.Window,
		AmountInFlight: new(uint256.Int),
		WindowStart:    now,
		UpdatedAt:      now,
	}
}

// Reconfigure replaces limit and window. The in-flight amount and the
// window start are carried over.
func (r *RateLimit) Reconfigure(cfg RateLimitConfig, now time.Time) {
	r.Limit = cfg.Limit.Clone()
	r.Window = cfg.Window
	r.UpdatedAt = now
}

func (r *RateLimit) expired(now time.Time) bool {
	return r.Window > 0 && now.Sub(r.WindowStart) >= r.Window
}

// Project returns in-flight and available amounts as of now without mutating state.
// Available saturates at zero when the limit was lowered below the in-flight amount.
func (r *RateLimit) Project(now time.Time) (inFlight, available *uint256.Int) {
	inFlight = r.AmountInFlight.Clone()
	if r.expired(now) {
		inFlight.Clear()
	}
	available = new(uint256.Int)
	if r.Limit.Gt(inFlight) {
		available.Sub(r.Limit, inFlight)
	}
	return inFlight, available
}

// Consume records amount against the window, resetting it first if it elapsed
func (r *RateLimit) Consume(amount *uint256.Int, now time.Time) error {
	_, available := r.Project(now)
	if amount.Gt(available) {
		return &RateLimitExceededError{
			DstEid:    r.DstEid,
			Requested: amount.Clone(),
			Available: available,
		}
	}
	if r.expired(now) {
		r.AmountInFlight = new(uint256.Int)
		r.WindowStart = now
	}
	r.AmountInFlight = new(uint256.Int).Add(r.AmountInFlight, amount)
	r.UpdatedAt = now
	return nil
}

// Clone returns a deep copy
func (r *RateLimit) Clone() *RateLimit {
	c := *r
	c.Limit = r.Limit.Clone()
	c.AmountInFlight = r.AmountInFlight.Clone()
	return &c
}

// RateLimitStatus is the read-only view returned to callers
type RateLimitStatus struct {
	DstEid         uint32        `json:"dst_eid"`
	Configured     bool          `json:"configured"`
	Limit          *uint256.Int  `json:"limit,omitempty"`
	Window         time.Duration `json:"window"`
	AmountInFlight *uint256.Int  `json:"amount_in_flight"`
	Available      *uint256.Int  `json:"available"`
}
