package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names exposed to clients. Reset is epoch seconds.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// SetHeaders writes the budget headers for a result. Denied results
// additionally carry Retry-After. Degraded results carry nothing: there is no
// budget to report.
func SetHeaders(h http.Header, res Result) {
	if res.Degraded {
		return
	}
	h.Set(HeaderLimit, strconv.Itoa(res.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(res.Reset.Unix(), 10))
	if !res.Allowed {
		h.Set(HeaderRetryAfter, strconv.Itoa(res.RetryAfter))
	}
}

// ParseHeaders reconstructs a Result from budget headers, the inverse of
// SetHeaders for well-behaved clients.
func ParseHeaders(h http.Header) (Result, error) {
	limit, err := strconv.Atoi(h.Get(HeaderLimit))
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: parse %s: %w", HeaderLimit, err)
	}
	remaining, err := strconv.Atoi(h.Get(HeaderRemaining))
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: parse %s: %w", HeaderRemaining, err)
	}
	resetUnix, err := strconv.ParseInt(h.Get(HeaderReset), 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: parse %s: %w", HeaderReset, err)
	}

	res := Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(resetUnix, 0),
	}
	if retry := h.Get(HeaderRetryAfter); retry != "" {
		secs, err := strconv.Atoi(retry)
		if err != nil {
			return Result{}, fmt.Errorf("ratelimit: parse %s: %w", HeaderRetryAfter, err)
		}
		res.Allowed = false
		res.RetryAfter = secs
	}
	return res, nil
}
