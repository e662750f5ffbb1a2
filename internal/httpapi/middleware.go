package httpapi

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/clmem/memoryd/internal/observability"
)

// Metrics is the subset of observability.Metrics the HTTP layer records
// against; an interface here avoids importing the concrete observability
// package for a single method.
type Metrics interface {
	RecordHTTPRequest(method, path, statusCode string, durationSeconds float64)
}

// loggingMiddleware logs every request on entry and its outcome on exit,
// the same call-then-log-result shape the corpus's RPC interceptors use.
func loggingMiddleware(logger *slog.Logger, metrics Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path)
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(start)
			if rec.status >= 500 {
				logger.Error("http request failed", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", duration)
			}
			if metrics != nil {
				metrics.RecordHTTPRequest(r.Method, r.URL.Path, statusText(rec.status), duration.Seconds())
			}
		})
	}
}

// tracingMiddleware wraps each request in a span when tracer is non-nil
// (NewTracer returns a no-op tracer when no OTLP endpoint is configured, so
// this is safe to chain unconditionally).
func tracingMiddleware(tracer *observability.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tracer == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
			defer span.End()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusText(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// localOriginAllowed reports whether origin is empty (no-Origin requests,
// e.g. curl or a non-browser hook) or points at localhost/127.0.0.1 on any
// port.
func localOriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost:") ||
		origin == "http://localhost" ||
		strings.HasPrefix(origin, "http://127.0.0.1:") ||
		origin == "http://127.0.0.1"
}

// corsMiddleware sets Access-Control-Allow-Origin only for a
// localhost-origin request, per the CORS invariant: a cross-origin request
// from anywhere else receives no such header and so the browser refuses to
// expose the response to the page that issued it.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if localOriginAllowed(origin) && origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, PATCH, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loopbackOnlyMiddleware rejects any request whose remote address is not
// loopback, regardless of Origin header, closing off the case of a
// non-browser client on the LAN reaching the daemon directly.
func loopbackOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			http.Error(w, "forbidden: non-loopback client", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// chain applies middleware in the order given, so chain(h, a, b) calls
// a(b(h)).
func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
