package twitchapi

import (
	"context"
	"testing"

	"github.com/hollowoak/ambassador-overlay/testutil"
)

func newTestHelix(t *testing.T, mock *testutil.MockTwitchServer) *HelixClient {
	t.Helper()
	mock.MockOAuthTokenResponse("app-token", 3600)
	return &HelixClient{
		AppTokenSource: &TokenSource{ClientID: "cid", ClientSecret: "secret", TokenURL: mock.URL + "/oauth2/token"},
		ClientID:       "cid",
		BaseURL:        mock.URL,
	}
}

func TestGetUserID(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockUserResponse("12345", "hollowoak")
	hc := newTestHelix(t, mock)

	id, err := hc.GetUserID(context.Background(), "hollowoak")
	if err != nil {
		t.Fatalf("GetUserID: %v", err)
	}
	if id != "12345" {
		t.Fatalf("id = %q, want 12345", id)
	}

	if _, err := hc.GetUserID(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty login")
	}
}

func TestGetStreamsLive(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockStreamsResponse([]map[string]interface{}{
		{"id": "1", "user_login": "hollowoak", "type": "live", "started_at": "2026-08-01T12:00:00Z"},
	})
	hc := newTestHelix(t, mock)

	streams, err := hc.GetStreams(context.Background(), "hollowoak")
	if err != nil {
		t.Fatalf("GetStreams: %v", err)
	}
	if len(streams) != 1 || streams[0].Type != "live" {
		t.Fatalf("streams = %+v, want one live entry", streams)
	}
}

func TestGetStreamsOffline(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockStreamsResponse(nil)
	hc := newTestHelix(t, mock)

	streams, err := hc.GetStreams(context.Background(), "hollowoak")
	if err != nil {
		t.Fatalf("GetStreams: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("streams = %+v, want empty", streams)
	}
}
