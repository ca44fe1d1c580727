package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeySubject   contextKey = "subject"

	requestIDHeader = "X-Request-ID"

	// maxRequestBodySize caps request bodies at 1 MB.
	maxRequestBodySize = 1 << 20
)

var errNoHijack = errors.New("api: response writer cannot be hijacked")

// requestID echoes the caller's X-Request-ID or mints a UUID.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// accessMiddleware logs every request and, when metrics are configured,
// records it under its chi route pattern so path IDs do not explode label
// cardinality.
func (s *Server) accessMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		took := time.Since(began)

		route := routePattern(r)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(r.Method, route, sw.status, took)
		}
		s.logger.Info("http request",
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", took.Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
			"subject", subjectFrom(r.Context()),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// recoveryMiddleware turns a handler panic into a 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic in HTTP handler",
					"panic", v,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware reflects allowed origins and answers preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.isAllowedOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+requestIDHeader)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin accepts everything when no origins are configured.
func (s *Server) isAllowedOrigin(origin string) bool {
	allowed := s.cfg.CORS.AllowedOrigins
	return len(allowed) == 0 || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware is a pass-through unless JWT is enabled, in which case
// an HS256 bearer token is required and its subject stored on the context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.secCfg.JWT.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeUnauthorized(w, "bearer token required")
			return
		}
		subject, err := ParseToken(s.secCfg.JWT.Secret, raw)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeySubject, subject)))
	})
}

// subjectFrom returns the authenticated token subject, or "" when auth
// is disabled.
func subjectFrom(ctx context.Context) string {
	sub, _ := ctx.Value(ctxKeySubject).(string)
	return sub
}

// statusWriter records the response status for access logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets the WebSocket upgrade pass through accessMiddleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errNoHijack
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
