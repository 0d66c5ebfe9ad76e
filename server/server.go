// Package server exposes the HTTP API: health, status, metrics, the live
// event stream (SSE and WebSocket) and the command endpoints that drive the
// feed controller. It injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chatcaster/telemetry"
)

// Options configure NewMux.
type Options struct {
	AdminToken     string
	AllowedOrigins []string
	// RequestsPerMinute limits command endpoints per client IP. Zero disables
	// limiting.
	RequestsPerMinute int
	// ReadyChecks run in order on /readyz after the session check.
	ReadyChecks []ReadyCheck
	// History serves GET /messages when set.
	History MessageHistory
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, ctl Controller, opts Options) http.Handler {
	h := NewHandlers(ctl, opts)
	auth := &authConfig{adminToken: opts.AdminToken, enabled: opts.AdminToken != ""}
	if !auth.enabled {
		slog.Warn("ADMIN_TOKEN not set - command endpoints are UNPROTECTED", slog.String("component", "http"))
	}
	var limiter *ipRateLimiter
	if opts.RequestsPerMinute > 0 {
		limiter = newIPRateLimiter(ctx, opts.RequestsPerMinute)
	}
	command := func(fn http.HandlerFunc) http.Handler {
		var next http.Handler = fn
		if limiter != nil {
			next = rateLimitMiddleware(next, limiter)
		}
		return adminAuth(next, auth)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /events", h.HandleEvents)
	mux.HandleFunc("GET /ws", h.HandleWebSocket)
	mux.HandleFunc("GET /blacklist", h.HandleBlacklistGet)
	mux.HandleFunc("GET /speech/settings", h.HandleSpeechSettingsGet)
	mux.HandleFunc("GET /messages", h.HandleMessages)

	mux.Handle("POST /connect", command(h.HandleConnect))
	mux.Handle("POST /resolve", command(h.HandleResolve))
	mux.Handle("POST /disconnect", command(h.HandleDisconnect))
	mux.Handle("POST /speech", command(h.HandleSpeech))
	mux.Handle("POST /speech/test", command(h.HandleSpeechTest))
	mux.Handle("PUT /speech/settings", command(h.HandleSpeechSettingsPut))
	mux.Handle("POST /blacklist/reload", command(h.HandleBlacklistReload))
	mux.Handle("PUT /blacklist", command(h.HandleBlacklistPut))
	mux.Handle("POST /slang/reload", command(h.HandleSlangReload))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
	return withCORS(handler, opts.AllowedOrigins)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

// clientIP extracts the caller address, preferring the first X-Forwarded-For
// entry.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
