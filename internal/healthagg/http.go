package healthagg

import (
	"encoding/json"
	"net/http"
)

// Handler serves the gateway's own liveness and status endpoints.
type Handler struct {
	agg *Aggregator
}

func NewHandler(agg *Aggregator) *Handler { return &Handler{agg: agg} }

// Register mounts /health and /status on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /status", h.status)
}

// health is the liveness probe: always 200, no downstream probing
// (spec.md §4.4).
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// status reports the last known reachability of every backend. It never
// itself fails because a backend is unreachable.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.agg.Snapshot())
}
