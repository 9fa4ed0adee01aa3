// Package chat contains the Twitch chat command listener and the
// live-status auto-orchestrator.
//
// It provides two entrypoints:
//   - StartCommandListener: connects to Twitch IRC for the configured
//     channel, normalizes every prefixed message into a command token,
//     forwards it to the overlay controller, and records accepted commands
//     in the overlay_events table for moderation review.
//   - StartAutoListener: polls Twitch live status and keeps the command
//     listener connected only while the channel is live, so offline chat
//     never drives the overlay.
//
// Credentials: the IRC client requires a bot username and an OAuth token
// with chat:read scope. If TWITCH_OAUTH_TOKEN is not provided, the package
// will try to reuse a stored token from the oauth_tokens table for
// provider "twitch".
package chat
