package chat

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/hollowoak/ambassador-overlay/catalog"
	"github.com/hollowoak/ambassador-overlay/db"
	"github.com/hollowoak/ambassador-overlay/overlay"
	"github.com/hollowoak/ambassador-overlay/telemetry"
)

// commandPanel classifies a normalized command token the same way the
// controller does, so the audit row records what the command opened.
// Returns ("", "") for tokens the overlay ignores.
func commandPanel(resolver overlay.Resolver, token string) (panel, ambassadorKey string) {
	switch {
	case resolver != nil && resolver.IsKnownAmbassador(token):
		return overlay.PanelAmbassadors.String(), token
	case token == "welcome":
		return overlay.PanelWelcome.String(), ""
	}
	return "", ""
}

// handleMessage processes one chat line: normalize, forward, audit.
// database may be nil (audit disabled, e.g. in tests).
func handleMessage(ctx context.Context, database *sql.DB, ctrl *overlay.Controller, resolver overlay.Resolver, channel, prefix, username, text string) {
	token := catalog.NormalizeCommand(text, prefix)
	if token == "" {
		return
	}
	telemetry.CommandsReceived.Inc()

	if !ctrl.OnCommand(token) {
		// Arbitrary chat text, or the overlay kill switch is on; dropped
		// without logging per the silent-ignore policy for public input.
		// Nothing opened, so nothing is counted as an open or audited.
		telemetry.CommandsIgnored.Inc()
		return
	}

	panel, ambassadorKey := commandPanel(resolver, token)
	if panel == "" {
		return
	}
	telemetry.PanelOpens.WithLabelValues(panel).Inc()

	if database == nil {
		return
	}
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.InsertOverlayEvent(ctx2, database, channel, username, token, panel, ambassadorKey); err != nil {
		slog.Error("failed to insert overlay event", slog.Any("err", err))
	}
}

// StartCommandListener connects to Twitch IRC and feeds chat commands to the
// overlay controller until ctx is cancelled. Blocks; run in a goroutine.
func StartCommandListener(ctx context.Context, database *sql.DB, ctrl *overlay.Controller, resolver overlay.Resolver, channel string) {
	username := os.Getenv("TWITCH_BOT_USERNAME")
	token := os.Getenv("TWITCH_OAUTH_TOKEN")
	if channel == "" || username == "" {
		slog.Info("twitch creds not set; skipping command listener")
		return
	}
	if token == "" && database != nil {
		// Reuse the stored bot token kept fresh by the oauth refresher.
		access, _, _, _, err := db.GetOAuthToken(ctx, database, "twitch")
		if err != nil || access == "" {
			slog.Info("no stored twitch token; skipping command listener")
			return
		}
		token = access
	}
	if token == "" {
		slog.Info("twitch oauth token not set; skipping command listener")
		return
	}
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	prefix := os.Getenv("COMMAND_PREFIX")
	if prefix == "" {
		prefix = "!"
	}

	client := twitch.NewClient(username, token)
	if addr := os.Getenv("TWITCH_IRC_ADDRESS"); addr != "" {
		// Local IRC stand-in (e.g. fdgt) for development and tests.
		client.IrcAddress = addr
		client.TLS = false
	}
	client.OnConnect(func() {
		slog.Info("command listener connected", slog.String("channel", channel))
		telemetry.UpdateChatConnected(true)
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		handleMessage(ctx, database, ctrl, resolver, channel, prefix, msg.User.Name, msg.Message)
	})

	// Handle context cancellation by closing the client.
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			slog.Debug("twitch chat disconnect", slog.Any("err", err))
		}
		close(done)
	}()

	client.Join(channel)
	slog.Info("command listener connecting", slog.String("channel", channel), slog.String("prefix", prefix))
	defer telemetry.UpdateChatConnected(false)
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}
