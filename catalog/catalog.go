// Package catalog provides the ambassador catalog: the set of animal
// profiles addressable from chat by a short key. It backs the controller's
// ambassador resolver with an in-memory snapshot refreshed from Postgres,
// so the per-message hot path never waits on the database.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultRefreshInterval is how long a cached snapshot is served before the
// next lookup triggers a reload.
const DefaultRefreshInterval = 5 * time.Minute

// Ambassador is one animal profile row.
type Ambassador struct {
	Key            string    `json:"key"`
	Name           string    `json:"name"`
	Species        string    `json:"species"`
	ScientificName string    `json:"scientific_name,omitempty"`
	Story          string    `json:"story,omitempty"`
	Mission        string    `json:"mission,omitempty"`
	ImagePath      string    `json:"image_path,omitempty"`
	Enabled        bool      `json:"enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Catalog serves ambassador lookups from a periodically refreshed snapshot.
type Catalog struct {
	db      *sql.DB
	refresh time.Duration

	mu       sync.RWMutex
	byKey    map[string]Ambassador
	loadedAt time.Time
}

// New creates a Catalog over db. refresh <= 0 uses DefaultRefreshInterval.
// The first snapshot is loaded lazily on first use; a cold cache that fails
// to load resolves nothing rather than erroring the chat path.
func New(db *sql.DB, refresh time.Duration) *Catalog {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	return &Catalog{db: db, refresh: refresh, byKey: map[string]Ambassador{}}
}

// NormalizeCommand turns raw chat text into a command token: the prefix
// sigil is stripped, the remainder lowercased, and inner whitespace
// collapsed to dashes so "!Winnie The Pooh" matches key "winnie-the-pooh".
// Returns "" when the text is not a command for the given prefix.
func NormalizeCommand(text, prefix string) string {
	text = strings.TrimSpace(text)
	if prefix == "" {
		prefix = "!"
	}
	if !strings.HasPrefix(text, prefix) {
		return ""
	}
	token := strings.TrimPrefix(text, prefix)
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return ""
	}
	return strings.Join(strings.Fields(token), "-")
}

// IsKnownAmbassador implements overlay.Resolver. Disabled profiles do not
// resolve, so a retired animal's command quietly stops working.
func (c *Catalog) IsKnownAmbassador(key string) bool {
	snap := c.snapshot(context.Background())
	a, ok := snap[key]
	return ok && a.Enabled
}

// Get returns one ambassador by key.
func (c *Catalog) Get(ctx context.Context, key string) (Ambassador, bool) {
	snap := c.snapshot(ctx)
	a, ok := snap[key]
	return a, ok
}

// List returns all enabled ambassadors sorted by key.
func (c *Catalog) List(ctx context.Context) []Ambassador {
	snap := c.snapshot(ctx)
	out := make([]Ambassador, 0, len(snap))
	for _, a := range snap {
		if a.Enabled {
			out = append(out, a)
		}
	}
	sortAmbassadors(out)
	return out
}

// Refresh forces an immediate reload from the database, bypassing the TTL.
func (c *Catalog) Refresh(ctx context.Context) error {
	byKey, err := c.load(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.byKey = byKey
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// snapshot returns the current key map, reloading it when stale. A failed
// reload keeps serving the previous snapshot.
func (c *Catalog) snapshot(ctx context.Context) map[string]Ambassador {
	c.mu.RLock()
	fresh := time.Since(c.loadedAt) < c.refresh
	snap := c.byKey
	c.mu.RUnlock()
	if fresh {
		return snap
	}
	if err := c.Refresh(ctx); err != nil {
		slog.Warn("catalog refresh failed; serving stale snapshot", slog.Any("err", err))
		return snap
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byKey
}

func (c *Catalog) load(ctx context.Context) (map[string]Ambassador, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT key, name, species, COALESCE(scientific_name,''), COALESCE(story,''), COALESCE(mission,''), COALESCE(image_path,''), enabled, COALESCE(updated_at, NOW()) FROM ambassadors`)
	if err != nil {
		return nil, fmt.Errorf("query ambassadors: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	byKey := make(map[string]Ambassador)
	for rows.Next() {
		var a Ambassador
		if err := rows.Scan(&a.Key, &a.Name, &a.Species, &a.ScientificName, &a.Story, &a.Mission, &a.ImagePath, &a.Enabled, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ambassador: %w", err)
		}
		byKey[a.Key] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ambassadors: %w", err)
	}
	return byKey, nil
}

func sortAmbassadors(list []Ambassador) {
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
}
