package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/service"
)

const tokenCookie = "token"

type Options struct {
	AllowedOrigin  string
	RequestTimeout time.Duration
	SecureCookies  bool
}

type API struct {
	service      *service.Service
	auth         *AuthManager
	opts         Options
	logger       *zap.Logger
	loginLimiter *attemptLimiter
	pinLimiter   *attemptLimiter
	csrfSecret   []byte
}

func New(svc *service.Service, auth *AuthManager, opts Options, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:      svc,
		auth:         auth,
		opts:         opts,
		logger:       logger.Named("http"),
		loginLimiter: newAttemptLimiter(5, time.Minute),
		pinLimiter:   newAttemptLimiter(8, time.Minute),
		csrfSecret:   csrfSecret,
	}
}

// csrfTokenForHour computes the hex HMAC of an hour bucket.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens of the current and the previous hour.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

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

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

var (
	anyRole        = []string{domain.RoleAdmin, domain.RoleManager, domain.RoleUser}
	managementRole = []string{domain.RoleAdmin, domain.RoleManager}
	adminRole      = []string{domain.RoleAdmin}
)

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(a.accessLog)
	r.Use(a.recoverer)
	r.Use(a.securityHeaders)
	r.Use(middleware.Timeout(a.opts.RequestTimeout))

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", a.handleHealth)
		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/register", a.handleRegister)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(anyRole...))

			r.Get("/products", a.handleListProducts)
			r.Get("/products/{id}", a.handleGetProduct)
			r.Get("/products/sku/{sku}", a.handleGetProductBySKU)

			r.Get("/stock", a.handleListStock)
			r.Get("/stock/{productId}", a.handleGetStock)
			r.Get("/stock/{productId}/movements", a.handleStockMovements)

			r.Get("/sales", a.handleListSales)
			r.Post("/sales", a.handleRecordSale)
			r.Get("/sales/{id}", a.handleGetSale)

			r.Get("/purchases", a.handleListPurchases)
			r.Get("/purchases/{id}", a.handleGetPurchase)

			r.Get("/payments", a.handleListPayments)
			r.Post("/payments", a.handleRecordPayment)
			r.Get("/costs", a.handleListCosts)

			r.Get("/reports/{type}", a.handleReport)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(managementRole...))

			r.Post("/products", a.handleCreateProduct)
			r.Patch("/products/{id}", a.handleUpdateProduct)

			r.Post("/stock/count", a.handleStockCount)
			r.Post("/stock/import", a.handleStockImport)
			r.Get("/stock/export", a.handleStockExport)

			r.Post("/purchases", a.handleRecordPurchase)
			r.Post("/costs", a.handleRecordCost)

			r.Post("/sales/{id}/cancel", a.handleCancelSale)
			r.Post("/purchases/{id}/cancel", a.handleCancelPurchase)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(adminRole...))

			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
		})
	})

	return r
}

// requireAuth accepts a bearer token or the session cookie. Cookie sessions
// must also present a CSRF token on state-changing requests.
func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, fromCookie := bearerOrCookie(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			if fromCookie && isMutation(r.Method) && !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
				writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func bearerOrCookie(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return strings.TrimSpace(authorization[len("Bearer "):]), false
	}
	if cookie, err := r.Cookie(tokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.opts.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Request-Id")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if isMutation(r.Method) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", clientKey(r)),
		)
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Stack("stack"),
				)
				writeError(w, http.StatusInternalServerError, errors.New("panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
