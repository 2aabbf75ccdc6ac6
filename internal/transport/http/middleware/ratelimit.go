package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"hrportal/internal/requestctx"
	"hrportal/internal/transport/http/api"
)

// Decision is the outcome of counting one request against a window.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// Limiter counts hits per key over fixed windows.
type Limiter interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type rateBucket struct {
	count int
	reset time.Time
}

// MemoryLimiter keeps windows in process. Counts are per replica.
type MemoryLimiter struct {
	mu      sync.Mutex
	clients map[string]*rateBucket
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{clients: map[string]*rateBucket{}, now: time.Now}
}

func (m *MemoryLimiter) Hit(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.clients[key]
	if !ok || now.After(bucket.reset) {
		bucket = &rateBucket{reset: now.Add(window)}
		m.clients[key] = bucket
	}
	bucket.count++
	return Decision{
		Allowed:   bucket.count <= limit,
		Remaining: max(limit-bucket.count, 0),
		ResetIn:   bucket.reset.Sub(now),
	}, nil
}

// RedisLimiter shares windows across replicas.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit:"}
}

func (l *RedisLimiter) Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	key = l.prefix + key
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, key, window).Err(); err != nil {
			return Decision{}, err
		}
	}
	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return Decision{}, err
	}
	if ttl < 0 {
		// key lost its expiry; restart the window
		if err := l.client.PExpire(ctx, key, window).Err(); err != nil {
			return Decision{}, err
		}
		ttl = window
	}
	return Decision{
		Allowed:   count <= int64(limit),
		Remaining: max(limit-int(count), 0),
		ResetIn:   ttl,
	}, nil
}

type RateLimitKeyFunc func(r *http.Request) string

type RateLimitOption func(*rateLimiter)

type rateLimiter struct {
	limiter Limiter
	scope   string
	limit   int
	window  time.Duration
	keyFn   RateLimitKeyFunc
}

func WithKeyFunc(fn RateLimitKeyFunc) RateLimitOption {
	return func(rl *rateLimiter) {
		if fn != nil {
			rl.keyFn = fn
		}
	}
}

func RateLimit(limiter Limiter, limit int, window time.Duration, opts ...RateLimitOption) func(http.Handler) http.Handler {
	rl := newRateLimiter(limiter, "global", limit, window, actorOrIPKey)
	for _, opt := range opts {
		opt(rl)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.enforce(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SensitiveMutationRateLimit applies tighter windows to sign-in and to the
// mutations that remove people or broadcast to them.
func SensitiveMutationRateLimit(limiter Limiter, baseLimit int, window time.Duration) func(http.Handler) http.Handler {
	authLimit := max(baseLimit/4, 1)
	mutationLimit := max(baseLimit/2, 1)
	authByIP := newRateLimiter(limiter, "auth-ip", authLimit, window, clientIPKey)
	authByEmail := newRateLimiter(limiter, "auth-email", authLimit, window, AuthEmailOrIPKey("email"))
	sensitiveByActor := newRateLimiter(limiter, "sensitive", mutationLimit, window, actorOrIPKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch sensitiveRateScope(r) {
			case sensitiveScopeAuth:
				if !authByIP.enforce(w, r) {
					return
				}
				if !authByEmail.enforce(w, r) {
					return
				}
			case sensitiveScopeActor:
				if !sensitiveByActor.enforce(w, r) {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func AuthEmailOrIPKey(field string) RateLimitKeyFunc {
	normalizedField := strings.TrimSpace(field)
	if normalizedField == "" {
		normalizedField = "email"
	}
	return func(r *http.Request) string {
		email := extractJSONField(r, normalizedField)
		if email == "" {
			return clientIPKey(r)
		}
		return "email:" + strings.ToLower(email)
	}
}

func actorOrIPKey(r *http.Request) string {
	if user, ok := GetUser(r.Context()); ok && user.UserID != "" {
		return "user:" + user.UserID
	}
	return clientIPKey(r)
}

func clientIPKey(r *http.Request) string {
	return requestctx.ClientIP(r)
}

func newRateLimiter(limiter Limiter, scope string, limit int, window time.Duration, keyFn RateLimitKeyFunc) *rateLimiter {
	if keyFn == nil {
		keyFn = actorOrIPKey
	}
	return &rateLimiter{limiter: limiter, scope: scope, limit: limit, window: window, keyFn: keyFn}
}

func (rl *rateLimiter) enforce(w http.ResponseWriter, r *http.Request) bool {
	if rl.limit <= 0 || rl.limiter == nil {
		return true
	}

	key := rl.keyFn(r)
	if key == "" {
		key = clientIPKey(r)
	}
	log := zerolog.Ctx(r.Context())

	decision, err := rl.limiter.Hit(r.Context(), rl.scope+":"+key, rl.limit, rl.window)
	if err != nil {
		// a broken limiter must not take the API down with it
		log.Warn().Err(err).Str("scope", rl.scope).Msg("rate limiter unavailable")
		return true
	}

	resetIn := durationSeconds(decision.ResetIn)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetIn))

	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(max(resetIn, 1)))
		log.Warn().
			Str("key", key).
			Str("scope", rl.scope).
			Int("limit", rl.limit).
			Dur("window", rl.window).
			Msg("rate limit exceeded")
		api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
		return false
	}
	return true
}

func durationSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	seconds := int(d.Seconds())
	if seconds <= 0 {
		return 1
	}
	return seconds
}

func extractJSONField(r *http.Request, field string) string {
	if r == nil || r.Body == nil {
		return ""
	}
	contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if !strings.Contains(contentType, "application/json") {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(raw) == 0 {
		return ""
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	value, _ := payload[field].(string)
	return strings.TrimSpace(value)
}

type sensitiveScope string

const (
	sensitiveScopeNone  sensitiveScope = ""
	sensitiveScopeAuth  sensitiveScope = "auth"
	sensitiveScopeActor sensitiveScope = "actor"
)

func sensitiveRateScope(r *http.Request) sensitiveScope {
	if r == nil {
		return sensitiveScopeNone
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return sensitiveScopeNone
	}

	switch normalizedAPIPath(r.URL.Path) {
	case "/auth/login":
		return sensitiveScopeAuth
	case "/admin/delete-user", "/notifications", "/notifications/read-all":
		return sensitiveScopeActor
	}
	return sensitiveScopeNone
}

func normalizedAPIPath(path string) string {
	cleaned := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(path), "/api/v1"), "/")
	if cleaned == "" {
		return "/"
	}
	if !strings.HasPrefix(cleaned, "/") {
		return "/" + cleaned
	}
	return cleaned
}
