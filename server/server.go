// Package server exposes the HTTP API consumed by the overlay frontend:
// panel state, the SSE event stream, interaction/click feeds, the ambassador
// catalog, and admin helpers. It includes permissive CORS for development
// and injects correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hollowoak/ambassador-overlay/catalog"
	"github.com/hollowoak/ambassador-overlay/overlay"
	"github.com/hollowoak/ambassador-overlay/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context bounds SSE streams and the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, db *sql.DB, ctrl *overlay.Controller, cat *catalog.Catalog) http.Handler {
	authCfg := loadAuthConfig()
	rateLimiterCfg := loadRateLimiterConfig()
	corsCfg := loadCORSConfig()

	rateLimiter := newIPRateLimiter(ctx, rateLimiterCfg)
	overlayLimiter := newIPRateLimiter(ctx, loadOverlayRateLimiterConfig())

	handlers := NewHandlers(ctx, db, ctrl, cat)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health and readiness endpoints
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	// Config endpoint
	mux.HandleFunc("/config", handlers.HandleConfig)

	// Overlay state and event endpoints
	mux.HandleFunc("/overlay/state", handlers.HandleOverlayState)
	mux.HandleFunc("/overlay/events", handlers.HandleOverlayEvents)
	mux.HandleFunc("/overlay/interaction", handlers.HandleOverlayInteraction)
	mux.HandleFunc("/overlay/click", handlers.HandleOverlayClick)
	mux.HandleFunc("/overlay/panel", handlers.HandleOverlayPanel)

	// Ambassador catalog endpoints
	mux.HandleFunc("/ambassadors", handlers.HandleAmbassadorsList)
	mux.HandleFunc("/ambassadors/", handlers.HandleAmbassadorsDispatcher)

	// Admin endpoints
	mux.HandleFunc("/admin/command", handlers.HandleAdminCommand)
	mux.HandleFunc("/admin/catalog/refresh", handlers.HandleAdminCatalogRefresh)

	// Admin endpoints get auth plus the tight limiter; the overlay mutation
	// endpoints get their own, much wider per-IP budget. Reads (state, SSE,
	// catalog) stay unthrottled.
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/admin/"):
			adminAuth(rateLimitMiddleware(mux, rateLimiter), authCfg).ServeHTTP(w, r)
		case r.Method == http.MethodPost && isOverlayMutation(r.URL.Path):
			rateLimitMiddleware(mux, overlayLimiter).ServeHTTP(w, r)
		default:
			mux.ServeHTTP(w, r)
		}
	})

	// Wrap with correlation ID injector and tracing middleware
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
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		// Capture status code via custom ResponseWriter
		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// isOverlayMutation reports whether the path is one of the overlay POST
// endpoints that mutate panel state.
func isOverlayMutation(path string) bool {
	switch path {
	case "/overlay/interaction", "/overlay/click", "/overlay/panel":
		return true
	}
	return false
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

// Start runs the HTTP server and shuts down gracefully on context cancellation.
// WriteTimeout stays at zero because /overlay/events holds long-lived SSE
// streams; slow-client protection comes from ReadTimeout and IdleTimeout.
func Start(ctx context.Context, db *sql.DB, ctrl *overlay.Controller, cat *catalog.Catalog, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     NewMux(ctx, db, ctrl, cat),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
