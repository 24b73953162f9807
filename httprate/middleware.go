// Package httprate guards HTTP handlers with per-client sliding-window limits.
package httprate

import (
	"encoding/json"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/cnlangzi/slidingrate/keyed"
	"go.uber.org/zap"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// limiting for that request.
type KeyFunc func(r *http.Request) string

// Limited describes a rejected request.
type Limited struct {
	Policy     string
	Key        string
	Limit      int
	RetryAfter time.Duration
}

// Config configures the rate limiting middleware.
type Config struct {
	// Name labels metrics and logs, e.g. "checkout".
	Name string

	// Registry holds the per-key limiters. If nil, requests pass through.
	Registry *keyed.Registry

	// KeyFunc defaults to the client address resolved with TrustedProxies.
	KeyFunc KeyFunc

	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty means the peer address is always used.
	TrustedProxies []netip.Prefix

	// Verifier, when set, lets verified crawlers bypass the limiter. It is
	// given the same resolved client address as the default KeyFunc.
	Verifier Verifier

	// ExcludedPaths bypass rate limiting.
	ExcludedPaths []string

	// OnLimited writes the response for a rejected request.
	// If nil, a JSON 429 response is sent.
	OnLimited func(w http.ResponseWriter, r *http.Request, info Limited)

	Metrics *Metrics
	Logger  *zap.Logger
}

// Middleware creates an HTTP middleware that admits each request through the
// sliding-window limiter of its key. The wrapped handler runs inside the
// admitted slot, so a handler that fails still uses up quota.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.Registry == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	clientIP := func(r *http.Request) string {
		return TrustedClientIP(r, cfg.TrustedProxies)
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = defaultOnLimited
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}

	limit := max(0, cfg.Registry.Config().MaxAttempts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				cfg.Metrics.observe(cfg.Name, DecisionBypassed)
				next.ServeHTTP(w, r)
				return
			}

			if cfg.Verifier != nil && cfg.Verifier.Verified(r.UserAgent(), clientIP(r)) {
				cfg.Metrics.observe(cfg.Name, DecisionBypassed)
				next.ServeHTTP(w, r)
				return
			}

			key := cfg.KeyFunc(r)
			if key == "" {
				cfg.Metrics.observe(cfg.Name, DecisionBypassed)
				next.ServeHTTP(w, r)
				return
			}

			l := cfg.Registry.Get(key)
			ok, _ := l.Do(func() error {
				setLimitHeaders(w, limit, l.Remaining())
				next.ServeHTTP(w, r)
				return nil
			})
			if ok {
				cfg.Metrics.observe(cfg.Name, DecisionAllowed)
				return
			}

			cfg.Metrics.observe(cfg.Name, DecisionRejected)

			info := Limited{
				Policy:     cfg.Name,
				Key:        key,
				Limit:      limit,
				RetryAfter: l.TimeUntilReset(),
			}
			cfg.Logger.Debug("request rate limited",
				zap.String("policy", info.Policy),
				zap.String("key", info.Key),
				zap.String("path", r.URL.Path),
				zap.Duration("retry_after", info.RetryAfter))

			cfg.OnLimited(w, r, info)
		})
	}
}

func defaultOnLimited(w http.ResponseWriter, r *http.Request, info Limited) {
	retry := retryAfterSeconds(info.RetryAfter)

	w.Header().Set("Content-Type", "application/json")
	if retry > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	}
	setLimitHeaders(w, info.Limit, 0)
	w.WriteHeader(http.StatusTooManyRequests)

	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "rate_limit_exceeded",
			"message": "too many requests, try again later",
		},
		"retry_after_seconds": retry,
	}

	_ = json.NewEncoder(w).Encode(response)
}

func setLimitHeaders(w http.ResponseWriter, limit, remaining int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

// retryAfterSeconds rounds up so clients never retry before the slot frees.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
