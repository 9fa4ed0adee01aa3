// Command ambassador-overlay is the backend service for the ambassador
// cards stream overlay. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Maintains the ambassador catalog and the overlay panel controller.
//   - Listens to Twitch chat (manual or auto live-gated) and turns
//     recognized commands into panel opens with an auto-dismiss timer.
//   - Exposes an HTTP API: overlay state, SSE event stream, interaction
//     and click feeds, the catalog, health probes, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hollowoak/ambassador-overlay/catalog"
	"github.com/hollowoak/ambassador-overlay/chat"
	"github.com/hollowoak/ambassador-overlay/config"
	"github.com/hollowoak/ambassador-overlay/db"
	"github.com/hollowoak/ambassador-overlay/oauth"
	"github.com/hollowoak/ambassador-overlay/overlay"
	"github.com/hollowoak/ambassador-overlay/server"
	"github.com/hollowoak/ambassador-overlay/telemetry"
	"github.com/hollowoak/ambassador-overlay/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("ambassador-overlay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Best-effort: fetch a Twitch app access token (client-credentials) if client id/secret provided.
	// The app token serves Helix calls (live polling); IRC uses the bot's user token.
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		ctx2, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		if tok, err := (&twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}).Get(ctx2); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			masked := "***" + tok[len(tok)-6:]
			slog.Info("twitch app token acquired", slog.String("tail", masked))
		}
		cancel()
	}

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run migrations: versioned (golang-migrate) first, embedded SQL as a
	// fallback for deployments predating the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to legacy embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("legacy embedded SQL migration completed", slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed", slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ambassador catalog, warmed before anything consults it.
	cat := catalog.New(database, cfg.CatalogRefreshInterval)
	if err := cat.Refresh(ctx); err != nil {
		slog.Warn("initial catalog refresh failed; commands resolve against an empty catalog until the DB recovers", slog.Any("err", err))
	}

	// Panel controller. The waker relays command wakes to the frontend via
	// the SSE stream (WakeFor on the state change), so here it only counts.
	ctrl := overlay.NewController(overlay.Options{
		DismissDelay: cfg.DismissDelay,
		Disabled:     !cfg.OverlayEnabled,
		Resolver:     cat,
		Waker:        wakeCounter{},
	})
	defer ctrl.Close()

	// Count timer and outside-click dismissals from the change feed.
	ctrl.Subscribe(func(change overlay.StateChange) {
		switch change.Cause {
		case overlay.CauseTimer:
			telemetry.DismissTimerFires.Inc()
		case overlay.CauseOutsideClick:
			telemetry.OutsideClickDismisses.Inc()
		}
	})

	// Chat: auto mode polls live status; manual mode connects immediately.
	if os.Getenv("CHAT_AUTO_START") == "1" {
		go chat.StartAutoListener(ctx, database, ctrl, cat, cfg.TwitchChannel)
	} else if err := cfg.ValidateChatReady(); err == nil {
		go chat.StartCommandListener(ctx, database, ctrl, cat, cfg.TwitchChannel)
	} else {
		slog.Info("chat listener disabled (missing twitch creds and auto not enabled)")
	}

	// Keep the bot's user token fresh between streams.
	oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (overlay API, health, metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, database, ctrl, cat, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// wakeCounter records wake requests; delivery to the frontend happens over
// the SSE stream, which carries the wake duration on the state change.
type wakeCounter struct{}

func (wakeCounter) Wake(time.Duration) {
	telemetry.WakeRequests.Inc()
}
