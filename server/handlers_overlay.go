package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hollowoak/ambassador-overlay/catalog"
	"github.com/hollowoak/ambassador-overlay/overlay"
	"github.com/hollowoak/ambassador-overlay/telemetry"
)

// overlayState is the snapshot payload served to new frontend sessions.
type overlayState struct {
	Panel          overlay.PanelKey `json:"panel"`
	Ambassador     string           `json:"ambassador,omitempty"`
	DismissDelayMS int64            `json:"dismiss_delay_ms"`
}

func (h *Handlers) currentState() overlayState {
	panel, ambassador := h.ctrl.State()
	return overlayState{
		Panel:          panel,
		Ambassador:     ambassador,
		DismissDelayMS: h.ctrl.DismissDelay().Milliseconds(),
	}
}

// HandleOverlayState returns the current panel state so a (re)loading
// frontend can render without waiting for the next event.
func (h *Handlers) HandleOverlayState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.currentState())
}

// HandleOverlayEvents streams panel state changes to the frontend using
// Server-Sent Events. The first event is always a snapshot of the current
// state; wake requests ride along as a separate "wake" event.
func (h *Handlers) HandleOverlayEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Buffered so a slow client never blocks the controller's notify path;
	// a full buffer drops intermediate states, the final one still lands.
	events := make(chan overlay.StateChange, 16)
	subID := h.ctrl.Subscribe(func(change overlay.StateChange) {
		select {
		case events <- change:
		default:
		}
	})
	defer h.ctrl.Unsubscribe(subID)

	telemetry.EventStreamClients.Inc()
	defer telemetry.EventStreamClients.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE := func(event string, v any) bool {
		payload, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeSSE("state", h.currentState()) {
		return
	}

	ctx := r.Context()
	// Comment lines keep intermediaries from closing an idle stream.
	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case change := <-events:
			if change.WakeFor > 0 {
				if !writeSSE("wake", map[string]int64{"duration_ms": change.WakeFor.Milliseconds()}) {
					return
				}
			}
			if !writeSSE("state", change) {
				return
			}
		}
	}
}

// HandleOverlayInteraction records a user interaction with the overlay
// surface (hover, scroll, tap). The controller decides whether it cancels
// the pending auto-dismiss or is swallowed as the wake's own side effect.
func (h *Handlers) HandleOverlayInteraction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cancelled := h.ctrl.OnInteraction()
	if cancelled {
		telemetry.InteractionCancels.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// clickRequest carries the stack of UI surfaces under a click point,
// topmost first, as reported by the frontend hit test.
type clickRequest struct {
	Surfaces []overlay.Surface `json:"surfaces"`
}

// HandleOverlayClick processes a click hit test from the frontend. Clicks
// landing on overlay content are ignored; anything else dismisses the panel.
func (h *Handlers) HandleOverlayClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	// The outside-click counter is owned by the state-change subscriber in
	// main, which also sees dismissals injected outside this handler.
	dismissed := h.ctrl.OnOutsideClick(req.Surfaces)
	writeJSON(w, http.StatusOK, map[string]bool{"dismissed": dismissed})
}

// panelRequest selects a panel explicitly (settings button, nav buttons).
type panelRequest struct {
	Panel string `json:"panel"`
}

// HandleOverlayPanel sets the visible panel directly, bypassing chat. Used
// by the overlay's own buttons, so it also cancels any pending dismiss.
func (h *Handlers) HandleOverlayPanel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req panelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	panel, ok := overlay.ParsePanelKey(req.Panel)
	if !ok {
		http.Error(w, "unknown panel", http.StatusBadRequest)
		return
	}
	h.ctrl.SetPanel(panel)
	writeJSON(w, http.StatusOK, h.currentState())
}

// commandRequest injects a chat-style command without going through IRC.
type commandRequest struct {
	Command string `json:"command"`
}

// HandleAdminCommand lets an operator drive the overlay as if a viewer had
// typed the command, e.g. for rehearsing a segment before going live.
// Input gets the same normalization as chat, with the prefix sigil optional:
// "Stompy", "!stompy" and "stompy" all mean the same command.
func (h *Handlers) HandleAdminCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	raw := strings.TrimSpace(req.Command)
	if raw == "" {
		http.Error(w, "missing command", http.StatusBadRequest)
		return
	}
	prefix := os.Getenv("COMMAND_PREFIX")
	if prefix == "" {
		prefix = "!"
	}
	if !strings.HasPrefix(raw, prefix) {
		raw = prefix + raw
	}
	token := catalog.NormalizeCommand(raw, prefix)
	if token == "" {
		http.Error(w, "missing command", http.StatusBadRequest)
		return
	}
	accepted := h.ctrl.OnCommand(token)
	writeJSON(w, http.StatusOK, struct {
		Accepted bool `json:"accepted"`
		overlayState
	}{accepted, h.currentState()})
}

// HandleAdminCatalogRefresh forces an immediate reload of the ambassador
// catalog from the database, outside the periodic TTL.
func (h *Handlers) HandleAdminCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.catalog.Refresh(r.Context()); err != nil {
		http.Error(w, "refresh failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
