package http

import (
	"net/http"
	"strconv"
	"time"

	"consentd/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	routeConsentsGrant  = "consents:grant"
	routeConsentsRevoke = "consents:revoke"
	routePrincipalKeys  = "principals:keys"
)

// enforceRateLimit applies the fixed-window limit for one route, keyed by
// client IP. Limiter errors fail open unless configured otherwise: a broken
// Redis must not take consent writes down with it.
func (s *Server) enforceRateLimit(c *gin.Context, routeID string) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	key := "ip:" + c.ClientIP() + ":endpoint:" + routeID

	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		resetUnix := decision.ResetAt.Unix()
		c.Header("RateLimit-Reset", strconv.FormatInt(resetUnix, 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
