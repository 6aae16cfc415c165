// Package ratelimit enforces per-identifier request-rate limits with a
// weighted sliding window over store-backed counters.
//
// Algorithm: time is bucketed into fixed windows of the tier's configured
// length. The effective count is the current bucket's count plus the
// previous bucket's count weighted by the fraction of the previous window
// still in view (prev * (1 - elapsed/window) + cur). This smooths the hard
// edge of pure fixed-window bucketing, which under-protects at window
// boundaries. Counters expire via the store's TTL; nothing is deleted
// explicitly.
//
// Request-rate protection is a separate concern from the business quotas in
// internal/authz.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/overlaykit/access-core/internal/kv"
)

// Tier classifies an operation for rate-limiting purposes.
type Tier string

// Operation tiers, in decreasing order of allowance.
const (
	TierRead  Tier = "read"
	TierCheck Tier = "check"
	TierWrite Tier = "write"
	TierAdmin Tier = "admin"
)

// Limit is one tier's allowance: Requests per Window.
type Limit struct {
	Requests int64
	Window   time.Duration
}

// Result reports the outcome of one admission check.
type Result struct {
	// Allowed is whether the request may proceed.
	Allowed bool

	// Remaining is the allowance left in the active window after this
	// request. Negative when the store was unreachable and the check
	// failed open.
	Remaining int64

	// Reset is how long until the active window bucket rolls over.
	Reset time.Duration

	// RetryAfter is how long a denied caller should back off before
	// retrying. Zero when Allowed.
	RetryAfter time.Duration

	// FailedOpen marks a check that admitted the request because the
	// store was unreachable.
	FailedOpen bool
}

// Limiter admits or rejects requests per identifier and tier.
type Limiter struct {
	store  kv.Store
	prefix string
	limits map[Tier]Limit
	logger *slog.Logger

	// Now supplies the clock for window bucketing. Overridable in tests.
	Now func() time.Time
}

// New creates a Limiter. Tiers absent from limits are unlimited.
func New(store kv.Store, prefix string, limits map[Tier]Limit, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, prefix: prefix, limits: limits, logger: logger, Now: time.Now}
}

// Check computes the sliding window for the tier, counts this request
// against the active bucket, and returns admit or deny with telemetry.
//
// Rate limiting is a best-effort protection: when the store is unreachable
// the check fails open with a logged warning rather than taking down the
// whole authorization path.
func (l *Limiter) Check(ctx context.Context, identifier string, tier Tier) Result {
	limit, ok := l.limits[tier]
	if !ok || limit.Requests <= 0 || limit.Window <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}

	now := l.Now()
	windowSecs := int64(limit.Window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	bucket := now.Unix() / windowSecs
	elapsed := now.Unix() % windowSecs
	reset := time.Duration(windowSecs-elapsed) * time.Second

	// Counters live two windows so the previous bucket stays visible for
	// exactly one window after it closes.
	current, err := l.store.Incr(ctx, l.bucketKey(tier, identifier, bucket), 2*limit.Window)
	if err != nil {
		l.logger.Warn("rate limit check failed open",
			"tier", string(tier), "identifier", identifier, "error", err)
		return Result{Allowed: true, Remaining: -1, Reset: reset, FailedOpen: true}
	}

	previous, err := l.bucketCount(ctx, tier, identifier, bucket-1)
	if err != nil {
		l.logger.Warn("rate limit previous-bucket read failed open",
			"tier", string(tier), "identifier", identifier, "error", err)
		previous = 0
	}

	weight := 1 - float64(elapsed)/float64(windowSecs)
	effective := int64(float64(previous)*weight) + current

	remaining := limit.Requests - effective
	if remaining < 0 {
		remaining = 0
	}
	if effective > limit.Requests {
		return Result{
			Allowed:    false,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset,
		}
	}
	return Result{Allowed: true, Remaining: remaining, Reset: reset}
}

func (l *Limiter) bucketKey(tier Tier, identifier string, bucket int64) string {
	return fmt.Sprintf("%s:rate:%s:%s:%d", l.prefix, tier, identifier, bucket)
}

func (l *Limiter) bucketCount(ctx context.Context, tier Tier, identifier string, bucket int64) (int64, error) {
	raw, err := l.store.Get(ctx, l.bucketKey(tier, identifier, bucket))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	count, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ratelimit: corrupt counter: %w", err)
	}
	return count, nil
}
