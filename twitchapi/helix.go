// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs for user id resolution and live-status polling, using an app access
// token, plus the refresh flow for the bot's user token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// DefaultHelixURL is the Twitch Helix API base.
const DefaultHelixURL = "https://api.twitch.tv"

// HelixClient provides the minimal methods needed for live-status polling.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	BaseURL        string // override for tests; defaults to DefaultHelixURL
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultHelixURL
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return "", err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/helix/users", nil)
	q := req.URL.Query()
	q.Set("login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// StreamMeta is one live stream entry from /helix/streams.
type StreamMeta struct {
	ID        string `json:"id"`
	UserLogin string `json:"user_login"`
	Type      string `json:"type"`
	StartedAt string `json:"started_at"`
}

// GetStreams returns the live streams for a channel login. An empty slice
// means the channel is offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]StreamMeta, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/helix/streams", nil)
	q := req.URL.Query()
	q.Set("user_login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix streams request failed: %s", resp.Status)
	}
	var body struct {
		Data []StreamMeta `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}
