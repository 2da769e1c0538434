package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/web3-frozen/yield-hub/internal/hub"
	"github.com/web3-frozen/yield-hub/internal/store"
)

// RequestHistory returns recent cross-chain requests for a token: the
// in-flight one (if any) first, then persisted terminal ones. Useful for
// diagnosing a silent remote.
func RequestHistory(h *hub.Hub, s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
				return
			}
			limit = n
		}

		reqs := []hub.PendingRequest{}
		if pending, ok := h.PendingFor(token); ok {
			reqs = append(reqs, *pending)
		}

		if s != nil {
			history, err := s.RequestHistory(r.Context(), token, limit)
			if err != nil {
				http.Error(w, `{"error":"failed to load request history"}`, http.StatusInternalServerError)
				return
			}
			reqs = append(reqs, history...)
		}

		writeJSON(w, http.StatusOK, reqs)
	}
}
