package chat

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages per-endpoint rate limiters
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewRateLimiterPool creates a new rate limiter pool
func NewRateLimiterPool(logger *slog.Logger) *RateLimiterPool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
		logger:   logger,
	}
}

// GetOrCreate returns the limiter for key, creating it at requestsPerMinute.
// A non-positive rate means unlimited. An existing limiter keeps its rate.
func (p *RateLimiterPool) GetOrCreate(key string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[key]; exists {
		if existing := p.rates[key]; existing != requestsPerMinute {
			p.logger.Warn("Rate limiter already exists with different rate, using existing rate",
				"key", key,
				"existing_rpm", existing,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	var limiter *rate.Limiter
	if requestsPerMinute <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		rps := float64(requestsPerMinute) / 60.0
		burst := max(1, requestsPerMinute/5)
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
		p.logger.Debug("Created rate limiter", "key", key, "rpm", requestsPerMinute, "burst", burst)
	}
	p.limiters[key] = limiter
	p.rates[key] = requestsPerMinute
	return limiter
}

// Wait blocks until the limiter for key allows the next request
func (p *RateLimiterPool) Wait(ctx context.Context, key string, requestsPerMinute int) error {
	return p.GetOrCreate(key, requestsPerMinute).Wait(ctx)
}
