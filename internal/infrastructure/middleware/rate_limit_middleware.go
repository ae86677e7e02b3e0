package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"audiod/pkg/config"
	apperrors "audiod/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiterStore stores one limiter per caller or client IP.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*rate.Limiter),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burstSize)
		s.limiters[key] = limiter
	}
	return limiter
}

// ClientIP extracts the IP part from the request's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware limits requests per authenticated caller, or
// per client IP when the request carries no claims.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newRateLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				appErr := apperrors.NewRateLimitError()
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, appErr.Reply())
				return
			}
		}

		key := "ip:" + ClientIP(c.Request)
		if claims, ok := ClaimsFromContext(c); ok {
			key = "caller:" + claims.Caller
		}

		limiter := store.getLimiter(key)
		if !limiter.Allow() {
			appErr := apperrors.NewRateLimitError()
			c.Header("Retry-After", strconv.Itoa(1))
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Reply())
			return
		}
		c.Next()
	}
}
