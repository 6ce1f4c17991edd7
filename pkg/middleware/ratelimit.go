package middleware

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tusharbhayani/paradym-wallet/pkg/config"
)

// PairingRateLimiter bounds how often pairing and verification ceremonies
// may be started per identifier, with a lockout after the window is exceeded
type PairingRateLimiter struct {
	config config.RateLimitConfig
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*pairingLimiter

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// pairingLimiter tracks limiting state for a single identifier
type pairingLimiter struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	lockoutEnd time.Time
}

// NewPairingRateLimiter creates a rate limiter for the pairing endpoints
func NewPairingRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *PairingRateLimiter {
	cfg.SetDefaults()
	return &PairingRateLimiter{
		config:          cfg,
		logger:          logger.Named("pairing-ratelimit"),
		limiters:        make(map[string]*pairingLimiter),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// Allow reports whether a ceremony may start for the given identifier
func (r *PairingRateLimiter) Allow(identifier string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limiter := r.getLimiterLocked(identifier)

	if time.Now().Before(limiter.lockoutEnd) {
		return false
	}

	if !limiter.limiter.Allow() {
		limiter.lockoutEnd = time.Now().Add(time.Duration(r.config.LockoutSeconds) * time.Second)
		r.logger.Warn("Pairing rate limit exceeded, applying lockout",
			zap.String("identifier", identifier),
			zap.Duration("lockout_duration", time.Duration(r.config.LockoutSeconds)*time.Second),
		)
		return false
	}

	return true
}

// RecordFailure makes failed ceremonies more costly by consuming an extra
// token for the identifier
func (r *PairingRateLimiter) RecordFailure(identifier string) {
	if !r.config.Enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limiter := r.getLimiterLocked(identifier)
	limiter.limiter.AllowN(time.Now(), 2)
}

func (r *PairingRateLimiter) getLimiterLocked(identifier string) *pairingLimiter {
	if time.Since(r.lastCleanup) > r.cleanupInterval {
		r.cleanupLocked()
	}

	limiter, exists := r.limiters[identifier]
	if exists {
		limiter.lastSeen = time.Now()
		return limiter
	}

	// MaxAttempts spread over WindowSeconds, with half the budget as burst
	rateLimit := rate.Limit(float64(r.config.MaxAttempts) / float64(r.config.WindowSeconds))
	burst := int(math.Ceil(float64(r.config.MaxAttempts) / 2.0))
	if burst < 1 {
		burst = 1
	}

	limiter = &pairingLimiter{
		limiter:  rate.NewLimiter(rateLimit, burst),
		lastSeen: time.Now(),
	}
	r.limiters[identifier] = limiter
	return limiter
}

// cleanupLocked drops limiters that have not been seen recently
func (r *PairingRateLimiter) cleanupLocked() {
	cutoff := time.Now().Add(-30 * time.Minute)
	for key, limiter := range r.limiters {
		if limiter.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
		}
	}
	r.lastCleanup = time.Now()
}

// RateLimitMiddleware limits ceremony starts, identifying the subject with
// the supplied extractor (client IP, wallet id)
func RateLimitMiddleware(rl *PairingRateLimiter, extractID func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		identifier := extractID(c)
		if identifier == "" {
			identifier = "_anonymous"
		}

		if !rl.Allow(identifier) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many pairing attempts. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
