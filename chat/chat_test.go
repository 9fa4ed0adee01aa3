package chat

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hollowoak/ambassador-overlay/overlay"
	"github.com/hollowoak/ambassador-overlay/telemetry"
	"github.com/hollowoak/ambassador-overlay/testutil"
)

type fakeResolver struct {
	keys map[string]bool
}

func (f fakeResolver) IsKnownAmbassador(key string) bool { return f.keys[key] }

func newTestController(t *testing.T, resolver overlay.Resolver) *overlay.Controller {
	t.Helper()
	ctrl := overlay.NewController(overlay.Options{
		DismissDelay: time.Minute, // long enough to not fire mid-test
		Resolver:     resolver,
	})
	t.Cleanup(ctrl.Close)
	return ctrl
}

func TestCommandPanel(t *testing.T) {
	resolver := fakeResolver{keys: map[string]bool{"stompy": true}}

	tests := []struct {
		token   string
		panel   string
		ambKey  string
	}{
		{"stompy", "ambassadors", "stompy"},
		{"welcome", "welcome", ""},
		{"georgie", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		panel, key := commandPanel(resolver, tt.token)
		if panel != tt.panel || key != tt.ambKey {
			t.Errorf("commandPanel(%q) = (%q, %q), want (%q, %q)", tt.token, panel, key, tt.panel, tt.ambKey)
		}
	}
}

func TestCommandPanelNilResolver(t *testing.T) {
	if panel, _ := commandPanel(nil, "stompy"); panel != "" {
		t.Errorf("nil resolver resolved %q", panel)
	}
	if panel, _ := commandPanel(nil, "welcome"); panel != "welcome" {
		t.Errorf("welcome should resolve without a resolver, got %q", panel)
	}
}

func TestHandleMessageOpensPanel(t *testing.T) {
	telemetry.Init()
	resolver := fakeResolver{keys: map[string]bool{"stompy": true}}
	ctrl := newTestController(t, resolver)

	handleMessage(context.Background(), nil, ctrl, resolver, "hollowoak", "!", "viewer", "!stompy")

	panel, key := ctrl.State()
	if panel != overlay.PanelAmbassadors {
		t.Fatalf("panel = %v, want ambassadors", panel)
	}
	if key != "stompy" {
		t.Fatalf("ambassador = %q, want stompy", key)
	}
}

func TestHandleMessageIgnoresUnprefixed(t *testing.T) {
	telemetry.Init()
	resolver := fakeResolver{keys: map[string]bool{"stompy": true}}
	ctrl := newTestController(t, resolver)

	handleMessage(context.Background(), nil, ctrl, resolver, "hollowoak", "!", "viewer", "stompy is great")

	if panel, _ := ctrl.State(); panel != overlay.PanelNone {
		t.Fatalf("panel = %v, want none", panel)
	}
}

func TestHandleMessageIgnoresUnknownCommand(t *testing.T) {
	telemetry.Init()
	resolver := fakeResolver{keys: map[string]bool{"stompy": true}}
	ctrl := newTestController(t, resolver)

	handleMessage(context.Background(), nil, ctrl, resolver, "hollowoak", "!", "viewer", "!lurk")

	if panel, _ := ctrl.State(); panel != overlay.PanelNone {
		t.Fatalf("panel = %v, want none", panel)
	}
}

func TestHandleMessageWelcome(t *testing.T) {
	telemetry.Init()
	ctrl := newTestController(t, nil)

	handleMessage(context.Background(), nil, ctrl, nil, "hollowoak", "!", "viewer", "!welcome")

	if panel, _ := ctrl.State(); panel != overlay.PanelWelcome {
		t.Fatalf("panel = %v, want welcome", panel)
	}
}

func TestHandleMessageNormalizesCasingAndSpaces(t *testing.T) {
	telemetry.Init()
	resolver := fakeResolver{keys: map[string]bool{"winnie-the-pooh": true}}
	ctrl := newTestController(t, resolver)

	handleMessage(context.Background(), nil, ctrl, resolver, "hollowoak", "!", "viewer", "!Winnie The Pooh")

	panel, key := ctrl.State()
	if panel != overlay.PanelAmbassadors || key != "winnie-the-pooh" {
		t.Fatalf("state = (%v, %q), want (ambassadors, winnie-the-pooh)", panel, key)
	}
}

func TestHandleMessageDisabledOverlayNotCounted(t *testing.T) {
	telemetry.Init()
	resolver := fakeResolver{keys: map[string]bool{"stompy": true}}
	ctrl := overlay.NewController(overlay.Options{
		DismissDelay: time.Minute,
		Disabled:     true,
		Resolver:     resolver,
	})
	t.Cleanup(ctrl.Close)

	opensBefore := promtestutil.ToFloat64(telemetry.PanelOpens.WithLabelValues("ambassadors"))
	ignoredBefore := promtestutil.ToFloat64(telemetry.CommandsIgnored)

	handleMessage(context.Background(), nil, ctrl, resolver, "hollowoak", "!", "viewer", "!stompy")

	if panel, _ := ctrl.State(); panel != overlay.PanelNone {
		t.Fatalf("panel = %v with overlay disabled, want none", panel)
	}
	if got := promtestutil.ToFloat64(telemetry.PanelOpens.WithLabelValues("ambassadors")); got != opensBefore {
		t.Fatalf("panel opens counted %v -> %v while overlay disabled", opensBefore, got)
	}
	if got := promtestutil.ToFloat64(telemetry.CommandsIgnored); got != ignoredBefore+1 {
		t.Fatalf("ignored counter = %v, want %v", got, ignoredBefore+1)
	}
}

// fakeIRCServer is a minimal IRC endpoint: it welcomes whoever sends NICK
// and drops one scripted chat line into the channel on JOIN.
func fakeIRCServer(t *testing.T, channel, chatLine string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			switch {
			case strings.HasPrefix(line, "NICK"):
				fmt.Fprint(conn, ":tmi.twitch.tv 001 testbot :Welcome, GLHF!\r\n")
			case strings.HasPrefix(line, "JOIN"):
				fmt.Fprintf(conn, ":viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #%s :%s\r\n", channel, chatLine)
			case strings.HasPrefix(line, "PING"):
				fmt.Fprint(conn, "PONG :tmi.twitch.tv\r\n")
			}
		}
	}()
	return ln.Addr().String()
}

func TestStartCommandListenerReportsConnection(t *testing.T) {
	telemetry.Init()
	resolver := fakeResolver{keys: map[string]bool{"stompy": true}}
	ctrl := newTestController(t, resolver)

	t.Setenv("TWITCH_BOT_USERNAME", "testbot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:fake")
	t.Setenv("TWITCH_IRC_ADDRESS", fakeIRCServer(t, "hollowoak", "!stompy"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listenerDone := make(chan struct{})
	go func() {
		StartCommandListener(ctx, nil, ctrl, resolver, "hollowoak")
		close(listenerDone)
	}()

	waitFor(t, "connected gauge", 3*time.Second, func() bool {
		return promtestutil.ToFloat64(telemetry.ChatConnectedGauge) == 1
	})
	// The scripted chat line drives the whole path: IRC -> normalize ->
	// controller -> panel open.
	waitFor(t, "panel open", 3*time.Second, func() bool {
		p, amb := ctrl.State()
		return p == overlay.PanelAmbassadors && amb == "stompy"
	})

	cancel()
	select {
	case <-listenerDone:
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop on context cancel")
	}
	if got := promtestutil.ToFloat64(telemetry.ChatConnectedGauge); got != 0 {
		t.Fatalf("connected gauge = %v after shutdown, want 0", got)
	}
}

func waitFor(t *testing.T, what string, within time.Duration, ok func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if ok() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandleMessageAuditRow(t *testing.T) {
	database := testutil.SetupTestDB(t)
	telemetry.Init()
	resolver := fakeResolver{keys: map[string]bool{"stompy": true}}
	ctrl := newTestController(t, resolver)

	channel := "chat-audit-test"
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = database.ExecContext(ctx, `DELETE FROM overlay_events WHERE channel = $1`, channel)
	})

	handleMessage(ctx, database, ctrl, resolver, channel, "!", "viewer", "!stompy")

	var count int
	err := database.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM overlay_events WHERE channel = $1 AND command = 'stompy' AND panel = 'ambassadors' AND ambassador_key = 'stompy'`,
		channel).Scan(&count)
	if err != nil {
		t.Fatalf("query overlay_events: %v", err)
	}
	if count != 1 {
		t.Fatalf("audit rows = %d, want 1", count)
	}
}
