// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hollowoak/ambassador-overlay/catalog"
	"github.com/hollowoak/ambassador-overlay/overlay"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db      *sql.DB
	ctx     context.Context
	ctrl    *overlay.Controller
	catalog *catalog.Catalog
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, ctrl *overlay.Controller, cat *catalog.Catalog) *Handlers {
	return &Handlers{
		db:      db,
		ctx:     ctx,
		ctrl:    ctrl,
		catalog: cat,
	}
}

// writeJSON encodes v as the response body with the JSON content type.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}
