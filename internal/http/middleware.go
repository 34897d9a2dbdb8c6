package http

import (
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// requestLogMiddleware logs each request with a generated id.
func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()[:8]
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request",
			"id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", clientAddr(r),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

// rateLimitMiddleware rejects clients over their request budget.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if !s.limiter.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientAddr(r)) {
			errorJSON(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// basePathMiddleware rejects requests outside the configured mount point and
// strips the prefix for the inner mux.
func (s *Server) basePathMiddleware(next http.Handler) http.Handler {
	if s.basePath == "/" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, s.basePath) {
			errorJSON(w, http.StatusNotFound, "base path mismatch")
			return
		}
		stripped := strings.TrimPrefix(r.URL.Path, s.basePath)
		if !strings.HasPrefix(stripped, "/") {
			stripped = "/" + stripped
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = stripped
		next.ServeHTTP(w, r2)
	})
}

// staticHandler serves the bundled web UI. Paths without an extension fall
// back to index.html so client-side routes deep-link correctly.
func (s *Server) staticHandler() http.Handler {
	fs := http.FileServer(http.Dir(s.staticRoot))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api" {
			errorJSON(w, http.StatusNotFound, "endpoint not found")
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			errorJSON(w, http.StatusNotFound, "unsupported path")
			return
		}
		target := filepath.Join(s.staticRoot, filepath.FromSlash(strings.TrimPrefix(r.URL.Path, "/")))
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			target = filepath.Join(target, "index.html")
		}
		if _, err := os.Stat(target); err != nil && filepath.Ext(r.URL.Path) == "" {
			r.URL.Path = "/index.html"
		}
		fs.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
