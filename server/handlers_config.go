package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// HandleConfig handles GET and PUT requests for safe configuration keys.
// Values written here land in the kv table and take effect on restart;
// secrets are never readable or writable through this endpoint.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	safeKeys := map[string]bool{
		"LOG_LEVEL":                true,
		"LOG_FORMAT":               true,
		"COMMAND_PREFIX":           true,
		"OVERLAY_ENABLED":          true,
		"OVERLAY_DISMISS_DELAY":    true,
		"CATALOG_REFRESH_INTERVAL": true,
		"CHAT_AUTO_POLL_INTERVAL":  true,
	}
	switch r.Method {
	case http.MethodGet:
		// Return safe keys with kv overrides taking precedence over env.
		out := map[string]string{}
		for k := range safeKeys {
			var v string
			_ = h.db.QueryRowContext(r.Context(), `SELECT value FROM kv WHERE key=$1`, "cfg:"+k).Scan(&v)
			if v == "" {
				v = os.Getenv(k)
			}
			if v != "" {
				out[k] = v
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPut:
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		for k, v := range body {
			if !safeKeys[k] {
				continue
			}
			if _, err := h.db.ExecContext(
				r.Context(),
				`INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW()) ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
				"cfg:"+k,
				strings.TrimSpace(v),
			); err != nil {
				slog.Error("failed to update config", slog.String("key", k), slog.Any("err", err))
				http.Error(w, "failed to update config", http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
