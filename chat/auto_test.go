package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hollowoak/ambassador-overlay/overlay"
	"github.com/hollowoak/ambassador-overlay/telemetry"
	"github.com/hollowoak/ambassador-overlay/testutil"
)

func TestStartAutoListenerHidesPanelWhenOffline(t *testing.T) {
	telemetry.Init()
	resolver := fakeResolver{keys: map[string]bool{"stompy": true}}
	ctrl := newTestController(t, resolver)

	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("app-token", 3600)
	mock.MockUserResponse("12345", "hollowoak")

	var userLookups atomic.Int32
	userHandler := mock.Handlers["/helix/users"]
	mock.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		userLookups.Add(1)
		userHandler(w, r)
	}

	var live atomic.Bool
	live.Store(true)
	mock.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]any{}
		if live.Load() {
			data = append(data, map[string]any{"id": "1", "user_login": "hollowoak", "type": "live"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}

	t.Setenv("TWITCH_BOT_USERNAME", "testbot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:fake")
	t.Setenv("TWITCH_IRC_ADDRESS", fakeIRCServer(t, "hollowoak", "!stompy"))
	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TWITCH_CLIENT_SECRET", "csecret")
	t.Setenv("TWITCH_HELIX_URL", mock.URL)
	t.Setenv("TWITCH_TOKEN_URL", mock.URL+"/oauth2/token")
	t.Setenv("CHAT_AUTO_POLL_INTERVAL", "20ms")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		StartAutoListener(ctx, nil, ctrl, resolver, "hollowoak")
		close(done)
	}()

	// While live, the poller starts the command listener; the scripted chat
	// line opens the ambassador card.
	waitFor(t, "listener-driven panel open", 3*time.Second, func() bool {
		p, amb := ctrl.State()
		return p == overlay.PanelAmbassadors && amb == "stompy"
	})
	if userLookups.Load() == 0 {
		t.Error("channel was never resolved against /helix/users")
	}

	// Going offline stops the listener and clears whatever is still showing.
	live.Store(false)
	waitFor(t, "panel cleared after offline", 3*time.Second, func() bool {
		p, _ := ctrl.State()
		return p == overlay.PanelNone
	})

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("auto listener did not stop on context cancel")
	}
}
