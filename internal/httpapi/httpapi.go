package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"possale/backend/internal/analytics"
	"possale/backend/internal/service"
)

const maxBodyBytes = 1 << 20

const principalKey = "principal"

type Option func(*API)

func WithLogger(logger *zap.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithAllowedOrigin(origin string) Option {
	return func(a *API) {
		a.allowedOrigin = origin
	}
}

// WithMetricsHandler mounts h at /metrics without authentication.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) {
		a.metrics = h
	}
}

type API struct {
	sales         *service.Service
	reports       *analytics.Aggregator
	auth          *TokenAuth
	logger        *zap.Logger
	metrics       http.Handler
	allowedOrigin string
	voidLimiter   *attemptLimiter
}

func New(sales *service.Service, reports *analytics.Aggregator, auth *TokenAuth, opts ...Option) *API {
	a := &API{
		sales:         sales,
		reports:       reports,
		auth:          auth,
		logger:        zap.NewNop(),
		allowedOrigin: "*",
		voidLimiter:   newAttemptLimiter(10, time.Minute),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("http")
	return a
}

func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), a.requestLogger(), a.securityHeaders(), limitBody())

	router.GET("/healthz", a.handleHealth)
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics))
	}

	v1 := router.Group("/api/v1")

	cashier := v1.Group("", a.requireAuth(RoleCashier, RoleAdmin))
	cashier.POST("/sales", a.handleCreateSale)
	cashier.GET("/sales", a.handleListSales)
	cashier.GET("/sales/:id", a.handleGetSale)
	cashier.GET("/products/availability", a.handleAvailability)
	cashier.GET("/products/low-stock", a.handleLowStock)

	admin := v1.Group("", a.requireAuth(RoleAdmin))
	admin.POST("/sales/:id/void", a.handleVoidSale)
	admin.GET("/analytics/summary", a.handleSummary)
	admin.GET("/analytics/top-products", a.handleTopProducts)
	admin.GET("/analytics/payments", a.handlePayments)
	admin.GET("/analytics/hourly", a.handleHourly)
	admin.GET("/analytics/dashboard", a.handleDashboard)

	return router
}

func (a *API) requireAuth(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			abortWithMessage(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		principal, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			abortWithMessage(c, http.StatusUnauthorized, err.Error())
			return
		}
		if !isRoleAllowed(principal.Role, roles) {
			abortWithMessage(c, http.StatusForbidden, "forbidden role")
			return
		}

		c.Set(principalKey, principal)
		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), principal.Subject))
		c.Next()
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func principalFrom(c *gin.Context) Principal {
	p, _ := c.Get(principalKey)
	principal, _ := p.(Principal)
	return principal
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		startedAt := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(startedAt)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			a.logger.Error("request", fields...)
			return
		}
		a.logger.Info("request", fields...)
	}
}

func (a *API) securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Access-Control-Allow-Origin", a.allowedOrigin)
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		h.Set("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		c.Next()
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
	now     func() time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time), now: time.Now}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(cutoff)
	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

// pruneLocked drops keys whose attempts all fell out of the window.
func (l *attemptLimiter) pruneLocked(cutoff time.Time) {
	for key, history := range l.entries {
		if len(history) == 0 || !history[len(history)-1].After(cutoff) {
			delete(l.entries, key)
		}
	}
}

func decodeJSON(c *gin.Context, dest any) error {
	if c.Request.Body == nil {
		return errors.New("request body required")
	}
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTime accepts RFC3339 timestamps or plain UTC dates.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("time must be RFC3339 or YYYY-MM-DD")
	}
	return t, nil
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
