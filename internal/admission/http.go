package admission

import (
	"encoding/json"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/cuemby/kilo-gateway/internal/gwerrors"
)

// TokenHeader is the header carrying the bearer token on protected
// requests. It is consumed at the gateway and never forwarded upstream
// (spec.md §4.3.2).
const TokenHeader = "X-Admin-Token"

// validateRateLimit bounds how often a candidate token can be checked
// against the store, so a guesser cannot brute-force a 256-bit token by
// sheer request volume. 5 req/s with a burst of 10 comfortably covers a
// legitimate client retrying a momentarily-misconfigured token.
const validateRateLimit = 5

// Handler implements the /admin/tokens* HTTP surface (spec.md §6).
type Handler struct {
	svc     *Service
	limiter *rate.Limiter
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, limiter: rate.NewLimiter(validateRateLimit, 2*validateRateLimit)}
}

// Register mounts the admin endpoints on mux, each rate-limited so a
// caller can't brute-force a token by volume of requests alone.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/tokens", h.limited(h.create))
	mux.HandleFunc("GET /admin/tokens", h.limited(h.list))
	mux.HandleFunc("POST /admin/tokens/{id}/revoke", h.limited(h.revoke))
	mux.HandleFunc("POST /admin/validate", h.limited(h.validate))
}

func (h *Handler) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			gwerrors.WriteJSON(w, gwerrors.TooManyRequests)
			return
		}
		next(w, r)
	}
}

func (h *Handler) authenticated(r *http.Request) bool {
	return h.svc.Validate(r.Header.Get(TokenHeader))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	created, err := h.svc.Create(h.authenticated(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.svc.List(h.authenticated(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	if !h.authenticated(r) {
		gwerrors.WriteJSON(w, gwerrors.Forbidden)
		return
	}

	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		gwerrors.WriteJSON(w, gwerrors.BadRequest.With("detail", "invalid token id"))
		return
	}

	info, err := h.svc.Revoke(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	if !h.authenticated(r) {
		gwerrors.WriteJSON(w, gwerrors.Forbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch err {
	case ErrForbidden:
		gwerrors.WriteJSON(w, gwerrors.Forbidden)
	case ErrNotFound:
		gwerrors.WriteJSON(w, gwerrors.NotFound)
	default:
		gwerrors.WriteJSON(w, gwerrors.Internal.Wrap(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
