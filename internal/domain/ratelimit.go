package domain

import (
	"context"
	"time"
)

// RateLimitDecision reports one fixed-window rate-limit check. ResetAt is
// the end of the current window.
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}
