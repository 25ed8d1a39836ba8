package proxy

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jamesprial/storegate/internal/interfaces"
	"github.com/jamesprial/storegate/internal/pipeline"
	"github.com/jamesprial/storegate/internal/utils"
	"golang.org/x/time/rate"
)

// ClientRateLimiter keeps one token bucket per client and forgets clients
// that have been idle for longer than ttl.
type ClientRateLimiter struct {
	clients    map[string]*rate.Limiter
	lastAccess map[string]time.Time
	mu         sync.Mutex
	rate       rate.Limit
	burst      int
	ttl        time.Duration
	logger     interfaces.Logger
}

// NewClientRateLimiter creates a limiter allowing r requests per second per
// client with bursts of b.
func NewClientRateLimiter(r rate.Limit, b int, ttl time.Duration, logger interfaces.Logger) *ClientRateLimiter {
	if b < 1 {
		b = 1
	}
	return &ClientRateLimiter{
		clients:    make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		rate:       r,
		burst:      b,
		ttl:        ttl,
		logger:     logger,
	}
}

func (rl *ClientRateLimiter) getClient(clientKey string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.clients[clientKey]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.clients[clientKey] = limiter
	}
	rl.lastAccess[clientKey] = time.Now()

	return limiter
}

// Allow consumes one token for the client.
func (rl *ClientRateLimiter) Allow(clientKey string) bool {
	return rl.getClient(clientKey).Allow()
}

// GetLimit returns remaining requests for the client
func (rl *ClientRateLimiter) GetLimit(clientKey string) (allowed bool, remaining int) {
	rl.mu.Lock()
	limiter, exists := rl.clients[clientKey]
	rl.mu.Unlock()
	if !exists {
		return true, rl.burst
	}

	tokens := limiter.Tokens()
	return tokens >= 1, int(tokens)
}

// Reset clears the rate limit state for the client
func (rl *ClientRateLimiter) Reset(clientKey string) {
	rl.mu.Lock()
	delete(rl.lastAccess, clientKey)
	delete(rl.clients, clientKey)
	rl.mu.Unlock()

	if rl.logger != nil {
		rl.logger.Info("Reset client rate limit", map[string]any{
			"client": maskClientKey(clientKey),
		})
	}
}

// ClientCount returns the number of tracked clients
func (rl *ClientRateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// StartCleanup periodically evicts idle clients until stop is closed.
func (rl *ClientRateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-stop:
			return
		}
	}
}

func (rl *ClientRateLimiter) cleanup() {
	rl.mu.Lock()
	now := time.Now()
	cleaned := 0
	for clientKey, last := range rl.lastAccess {
		if now.Sub(last) > rl.ttl {
			delete(rl.lastAccess, clientKey)
			delete(rl.clients, clientKey)
			cleaned++
		}
	}
	rl.mu.Unlock()

	if rl.logger != nil && cleaned > 0 {
		rl.logger.Debug("Cleaned up inactive rate limiter entries", map[string]any{
			"cleaned_count": cleaned,
			"active_count":  rl.ClientCount(),
		})
	}
}

// RateLimitStage rejects clients that exceed their budget with 429.
type RateLimitStage struct {
	limiter         interfaces.RateLimiter
	logger          interfaces.Logger
	keyByCredential bool
}

// RateLimitOption configures a RateLimitStage.
type RateLimitOption func(*RateLimitStage)

// WithCredentialKeys buckets callers by their credential instead of their IP.
// Only safe when the gate verifies credentials; otherwise any caller can mint
// a fresh bucket per request.
func WithCredentialKeys(enabled bool) RateLimitOption {
	return func(s *RateLimitStage) {
		s.keyByCredential = enabled
	}
}

// NewRateLimitStage creates the stage around limiter.
func NewRateLimitStage(limiter interfaces.RateLimiter, logger interfaces.Logger, opts ...RateLimitOption) *RateLimitStage {
	s := &RateLimitStage{limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RateLimitStage) Name() string { return "ratelimit" }

func (s *RateLimitStage) Process(w http.ResponseWriter, rc *pipeline.RequestContext) pipeline.Result {
	key := ClientKey(rc, s.keyByCredential)
	if s.limiter.Allow(key) {
		return pipeline.Continue()
	}

	if s.logger != nil {
		s.logger.Warn("Rate limit exceeded", map[string]any{
			"client":     maskClientKey(key),
			"method":     rc.Method,
			"path":       rc.Path,
			"request_id": rc.RequestID,
		})
	}
	w.Header().Set("Retry-After", strconv.Itoa(1))
	return pipeline.Fail(pipeline.NewError(pipeline.KindTooManyRequests, "Too Many Requests"))
}

// ClientKey identifies the caller: its credential when byCredential is set and
// one is present, otherwise the remote IP.
func ClientKey(rc *pipeline.RequestContext, byCredential bool) string {
	if byCredential && rc.HasCredential() {
		return "cred:" + rc.Credential
	}
	host, _, err := net.SplitHostPort(rc.Request.RemoteAddr)
	if err != nil {
		host = rc.Request.RemoteAddr
	}
	return "ip:" + host
}

func maskClientKey(key string) string {
	if len(key) > 5 && key[:5] == "cred:" {
		return "cred:" + utils.MaskCredential(key[5:])
	}
	return key
}
