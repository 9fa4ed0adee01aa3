package server

import (
	"net/http"
	"strings"
)

// HandleAmbassadorsList returns all enabled ambassadors for the overlay's
// card carousel.
func (h *Handlers) HandleAmbassadorsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.catalog.List(r.Context()))
}

// HandleAmbassadorsDispatcher routes /ambassadors/{key} requests.
func (h *Handlers) HandleAmbassadorsDispatcher(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/ambassadors/")
	if key == "" || strings.Contains(key, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	ambassador, ok := h.catalog.Get(r.Context(), key)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ambassador)
}
