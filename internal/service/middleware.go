package service

import (
	"bufio"
	"fmt"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/collabmate/collabmate/config"
	"github.com/collabmate/collabmate/internal/auth"
	"golang.org/x/time/rate"
)

// authenticate rejects requests without a valid bearer token and hands the
// caller identity to the handler.
func (s *Service) authenticate(next func(http.ResponseWriter, *http.Request, auth.Identity)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.FromHeader(r)
		if token == "" {
			writeMessage(w, http.StatusUnauthorized, "No token provided")
			return
		}
		id, err := s.tokens.Verify(token)
		if err != nil {
			s.logger.Debug("Token rejected", "path", r.URL.Path, "error", err)
			writeMessage(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next(w, r, id)
	})
}

func (s *Service) getRemoteAddress(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		s.logger.Debug("Could not split host and port from remote address", "remote_addr", r.RemoteAddr, "error", err)
		remoteIP = r.RemoteAddr
	}

	for _, proxy := range s.cfg.Server.TrustedProxies {
		if proxy != remoteIP {
			continue
		}
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			ips := strings.Split(forwardedFor, ",")
			return strings.TrimSpace(ips[0])
		}
	}
	return remoteIP
}

func (s *Service) rateLimiterConfig(category string) config.RateLimiterConfig {
	switch category {
	case rlCategoryAuth:
		return s.cfg.RateLimiters.Auth
	case rlCategoryRealtime:
		return s.cfg.RateLimiters.Realtime
	default:
		return s.cfg.RateLimiters.API
	}
}

func (s *Service) getRateLimiter(category string, r *http.Request) *rate.Limiter {
	cache, ok := s.rateLimiters[category]
	if !ok {
		return nil
	}
	ip := s.getRemoteAddress(r)
	item := cache.Get(ip)
	if item == nil {
		rl := s.rateLimiterConfig(category)
		item = cache.Set(ip, rate.NewLimiter(rate.Limit(rl.Limit), rl.Burst), time.Minute)
	}
	return item.Value()
}

func (s *Service) rateLimit(next http.Handler, category string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := s.getRateLimiter(category, r)
		if limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			s.logger.Warn("Rate limit exceeded", "category", category, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(delay.Seconds())))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%v", limiter.Limit()))
			w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", limiter.Burst()))
			writeMessage(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware confines a handler panic to its own request.
func (s *Service) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			s.logger.Error("Recovered from panic in handler",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
			if !rec.wrote {
				writeMessage(w, http.StatusInternalServerError, "Server error")
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

func (s *Service) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
			h.Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder tracks whether a response has started so a late panic
// does not try to write a second header. Hijack is passed through for the
// websocket upgrade.
type statusRecorder struct {
	http.ResponseWriter
	wrote bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.wrote = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.wrote = true
	return hj.Hijack()
}
