package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// FailMode decides what an indeterminate store result means.
type FailMode int

const (
	// FailOpen allows the request when the store is unreachable, favoring
	// availability over strict limiting.
	FailOpen FailMode = iota
	// FailClosed denies the request when the store is unreachable.
	FailClosed
)

// ParseFailMode maps configuration strings to a FailMode.
func ParseFailMode(s string) (FailMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("ratelimit: unknown fail mode %q", s)
	}
}

// Caller carries the request attributes an identifier can be composed from.
type Caller struct {
	IP          string
	PrincipalID string
	Route       string
}

// Result is the limiter's verdict plus budget metadata for response headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the current window ends and the budget refills.
	Reset time.Time
	// RetryAfter is whole seconds until Reset, floored at zero. Only
	// meaningful on deny.
	RetryAfter int
	// Degraded marks a verdict produced by the fail mode rather than the
	// store; budget metadata is absent.
	Degraded bool
}

// Limiter applies named policies against composed identifiers.
type Limiter struct {
	store    Store
	failMode FailMode
	logger   *slog.Logger
	now      func() time.Time

	// onOutage, if set, fires the first time an outage is observed within a
	// policy's window. Used to raise operational alerts.
	onOutage func(policy string)

	outageMu     sync.Mutex
	outageLogged map[string]time.Time
}

// LimiterOption customizes a Limiter.
type LimiterOption func(*Limiter)

// WithFailMode sets the store-outage behavior.
func WithFailMode(mode FailMode) LimiterOption {
	return func(l *Limiter) { l.failMode = mode }
}

// WithOutageHook registers a callback fired once per policy window when the
// store becomes unreachable.
func WithOutageHook(fn func(policy string)) LimiterOption {
	return func(l *Limiter) { l.onOutage = fn }
}

// NewLimiter constructs a Limiter over the given store.
func NewLimiter(store Store, logger *slog.Logger, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:        store,
		failMode:     FailOpen,
		logger:       logger,
		now:          time.Now,
		outageLogged: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Identifier composes the deterministic key for a caller under a policy. Two
// requests share a counter iff every configured part matches exactly.
func Identifier(caller Caller, policy Policy) string {
	parts := make([]string, 0, len(policy.KeyParts))
	for _, part := range policy.KeyParts {
		switch part {
		case PartIP:
			parts = append(parts, "ip:"+caller.IP)
		case PartPrincipal:
			parts = append(parts, "principal:"+caller.PrincipalID)
		case PartRoute:
			parts = append(parts, "route:"+caller.Route)
		}
	}
	return strings.Join(parts, "|")
}

// Check consumes one request unit for the caller under the policy.
func (l *Limiter) Check(ctx context.Context, caller Caller, policy Policy) Result {
	key := policy.Name + ":" + Identifier(caller, policy)

	count, windowStart, err := l.store.Increment(ctx, key, policy.Window)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			l.reportOutage(policy, err)
			return Result{
				Allowed:  l.failMode == FailOpen,
				Limit:    policy.Max,
				Degraded: true,
			}
		}
		// Unknown store errors are treated the same as unavailability.
		l.reportOutage(policy, err)
		return Result{Allowed: l.failMode == FailOpen, Limit: policy.Max, Degraded: true}
	}

	now := l.now()
	reset := windowStart.Add(policy.Window)
	res := Result{
		Limit: policy.Max,
		Reset: reset,
	}
	if count <= int64(policy.Max) {
		res.Allowed = true
		res.Remaining = policy.Max - int(count)
	} else {
		res.Remaining = 0
		res.RetryAfter = retryAfterSeconds(reset, now)
	}
	return res
}

func retryAfterSeconds(reset, now time.Time) int {
	d := reset.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return secs
}

// reportOutage logs store degradation distinctly from ordinary denies,
// throttled to once per policy window.
func (l *Limiter) reportOutage(policy Policy, err error) {
	now := l.now()

	l.outageMu.Lock()
	last, seen := l.outageLogged[policy.Name]
	fresh := !seen || now.Sub(last) >= policy.Window
	if fresh {
		l.outageLogged[policy.Name] = now
	}
	l.outageMu.Unlock()

	if !fresh {
		return
	}
	if l.logger != nil {
		l.logger.Error("rate limit store unavailable",
			slog.String("policy", policy.Name),
			slog.String("fail_mode", l.failModeString()),
			slog.Any("error", err))
	}
	if l.onOutage != nil {
		l.onOutage(policy.Name)
	}
}

func (l *Limiter) failModeString() string {
	if l.failMode == FailClosed {
		return "closed"
	}
	return "open"
}
