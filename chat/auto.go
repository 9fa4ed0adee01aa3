package chat

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/hollowoak/ambassador-overlay/overlay"
	"github.com/hollowoak/ambassador-overlay/twitchapi"
)

// StartAutoListener polls Twitch stream status and keeps the command
// listener connected only while the configured channel is live.
// Env knobs:
//
//	CHAT_AUTO_POLL_INTERVAL (default 30s)
//	TWITCH_BOT_USERNAME, TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET required
func StartAutoListener(ctx context.Context, database *sql.DB, ctrl *overlay.Controller, resolver overlay.Resolver, channel string) {
	if channel == "" {
		slog.Info("auto chat: TWITCH_CHANNEL empty; abort")
		return
	}
	if os.Getenv("TWITCH_BOT_USERNAME") == "" {
		slog.Info("auto chat: TWITCH_BOT_USERNAME empty; abort")
		return
	}
	clientID := os.Getenv("TWITCH_CLIENT_ID")
	clientSecret := os.Getenv("TWITCH_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		slog.Info("auto chat: missing client id/secret; abort")
		return
	}

	pollEvery := 30 * time.Second
	if v := os.Getenv("CHAT_AUTO_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			pollEvery = d
		}
	}

	tokenSource := &twitchapi.TokenSource{ClientID: clientID, ClientSecret: clientSecret}
	if u := os.Getenv("TWITCH_TOKEN_URL"); u != "" {
		tokenSource.TokenURL = u
	}
	helix := &twitchapi.HelixClient{
		AppTokenSource: tokenSource,
		ClientID:       clientID,
	}
	if u := os.Getenv("TWITCH_HELIX_URL"); u != "" {
		helix.BaseURL = u
	}

	// Resolve the channel once up front; a typo'd TWITCH_CHANNEL would
	// otherwise just look permanently offline.
	if userID, err := helix.GetUserID(ctx, channel); err != nil {
		slog.Warn("auto chat: channel lookup failed", slog.String("channel", channel), slog.Any("err", err))
	} else {
		slog.Info("auto chat: watching channel", slog.String("channel", channel), slog.String("user_id", userID))
	}

	var running bool
	var stopListener context.CancelFunc

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	slog.Info("auto chat: started poller", slog.Duration("interval", pollEvery))
	for {
		select {
		case <-ctx.Done():
			if stopListener != nil {
				stopListener()
			}
			return
		case <-ticker.C:
		}

		streams, err := helix.GetStreams(ctx, channel)
		if err != nil {
			slog.Debug("auto chat: streams req", slog.Any("err", err))
			continue
		}
		live := len(streams) > 0

		switch {
		case live && !running:
			slog.Info("auto chat: channel live; starting command listener", slog.String("channel", channel))
			var lctx context.Context
			lctx, stopListener = context.WithCancel(ctx)
			go StartCommandListener(lctx, database, ctrl, resolver, channel)
			running = true
		case !live && running:
			slog.Info("auto chat: channel offline; stopping command listener", slog.String("channel", channel))
			if stopListener != nil {
				stopListener()
				stopListener = nil
			}
			// Hide whatever is still up; the stream surface is gone.
			ctrl.SetPanel(overlay.PanelNone)
			running = false
		}
	}
}
