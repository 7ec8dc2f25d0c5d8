package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type callerKey struct{}

// caller returns the authenticated account key of the request
func caller(r *http.Request) string {
	key, _ := r.Context().Value(callerKey{}).(string)
	return key
}

// authenticated resolves the bearer token to an account and applies that
// account's rate limit before calling the handler
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		account, err := s.tokens.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		if !s.limiter.allow(account) {
			s.logger.Sugar().Debugw("Rate limited", "account", account, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, account)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Sugar().Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// accountLimiter keeps one token bucket per account
type accountLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newAccountLimiter(limit rate.Limit, burst int) *accountLimiter {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &accountLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *accountLimiter) allow(account string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[account]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[account] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
