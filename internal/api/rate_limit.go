package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/imageq/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

// allow charges cost tokens to the caller and writes a 429 when the bucket
// is empty. Limiter failures other than an oversized request fail open.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, userID string, cost int64) bool {
	if s.rateLimiter == nil {
		return true
	}

	subject := userID
	if subject == "" {
		subject = "anonymous"
	}
	route := routeLabel(r.URL.Path)
	subject = subject + ":" + route

	decision, err := s.rateLimiter.Allow(r.Context(), subject, cost)
	if err != nil {
		if errors.Is(err, ratelimit.ErrCostExceedsCapacity) {
			s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "request has more bags than the rate limit allows",
			})
			return false
		}
		s.logger.Printf("rate limiter check failed subject=%s err=%v", subject, err)
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
	writeJSON(w, http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded",
	})
	return false
}
