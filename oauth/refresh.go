// Package oauth provides background refresh scheduling for provider tokens
// persisted in the oauth_tokens table. The bot's Twitch user token must stay
// valid between streams so the chat listener can connect without manual
// re-authorization.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/hollowoak/ambassador-overlay/db"
)

// RefreshFunc performs a provider-specific refresh grant and returns the new
// access token, refresh token, absolute expiry, and scope.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// StartRefresher launches a goroutine that periodically inspects the stored
// token for provider and refreshes it once its remaining lifetime falls
// within window. Reads and writes go through the db helpers so token
// encryption at rest stays transparent to the refresh flow.
func StartRefresher(ctx context.Context, database *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize the initial delay so multiple instances don't check in lockstep.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) keeps checks spread out.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}

			_, refresh, expiry, scope, err := db.GetOAuthToken(ctx, database, provider)
			if err != nil || refresh == "" {
				continue
			}
			if time.Until(expiry) > window {
				continue
			}
			// Short pre-refresh jitter to avoid a stampede when several pods
			// observe the same expiry.
			//nolint:gosec // G404: math/rand is sufficient for jitter, not used for security
			pre := time.Duration(rand.Int63n(int64(5 * time.Second)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pre):
			}

			ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
			newAccess, newRefresh, newExpiry, newScope, err := fn(ctx2, refresh)
			cancel()
			if err != nil {
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
				continue
			}
			if newRefresh == "" {
				newRefresh = refresh
			}
			if newScope == "" {
				newScope = scope
			}
			if err := db.UpsertOAuthToken(ctx, database, provider, newAccess, newRefresh, newExpiry, strings.TrimSpace(newScope)); err != nil {
				slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
				continue
			}
			slog.Info("token refreshed", slog.String("provider", provider))
		}
	}()
}
