package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/web3-frozen/yield-hub/internal/hub"
)

// Data states the dashboard must be able to tell apart. "0.00%" with no
// qualifier is exactly the defect this taxonomy prevents.
const (
	stateCrossChain   = "fresh-cross-chain"
	stateSingleSource = "fresh-single-source"
	stateStaleCached  = "stale-cached"
	stateNoData       = "no-data"
)

type yieldView struct {
	hub.TokenSnapshot
	Optimized *hub.OptimizedYield `json:"optimized,omitempty"`
	DataState string              `json:"data_state"`
}

func buildYieldView(h *hub.Hub, token string) (*yieldView, error) {
	snap, err := h.Snapshot(token)
	if err != nil {
		return nil, err
	}

	view := &yieldView{TokenSnapshot: *snap}
	opt, err := h.OptimizedAPY(token)
	switch {
	case err == nil:
		view.Optimized = opt
		if opt.Mode == hub.ModeCrossChain {
			view.DataState = stateCrossChain
		} else {
			view.DataState = stateSingleSource
		}
	case errors.Is(err, hub.ErrNoFreshData):
		if !snap.LocalUpdatedAt.IsZero() || snap.RemoteActive {
			view.DataState = stateStaleCached
		} else {
			view.DataState = stateNoData
		}
	default:
		return nil, err
	}
	return view, nil
}

// ListYields returns the cached view for every registered token.
func ListYields(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views := []*yieldView{}
		for _, token := range h.Tokens() {
			view, err := buildYieldView(h, token)
			if err != nil {
				continue // token deregistered between list and read
			}
			views = append(views, view)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// GetYield returns one token's cached view with freshness flags.
func GetYield(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		view, err := buildYieldView(h, token)
		if err != nil {
			if errors.Is(err, hub.ErrUnknownToken) {
				http.Error(w, `{"error":"unknown token"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"failed to read yield"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// GetRisk returns the composite risk score and its sub-scores.
func GetRisk(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		m, err := h.RiskMetrics(token)
		if err != nil {
			if errors.Is(err, hub.ErrUnknownToken) {
				http.Error(w, `{"error":"unknown token"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"failed to score risk"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// RequestRefresh triggers a local refresh and/or a remote request for a
// token. The remote half is asynchronous: a 202 means the request was
// issued, not answered.
func RequestRefresh(h *hub.Hub) http.HandlerFunc {
	type request struct {
		Scope     string `json:"scope"` // "local", "remote", or "both" (default)
		Requester string `json:"requester"`
	}
	type response struct {
		Local     string `json:"local,omitempty"`
		RequestID string `json:"request_id,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Scope == "" {
			req.Scope = "both"
		}
		if req.Scope != "local" && req.Scope != "remote" && req.Scope != "both" {
			http.Error(w, `{"error":"scope must be local, remote, or both"}`, http.StatusBadRequest)
			return
		}
		if req.Requester == "" {
			req.Requester = "dashboard"
		}

		var resp response
		if req.Scope == "local" || req.Scope == "both" {
			switch err := h.RefreshLocal(r.Context(), token); {
			case err == nil:
				resp.Local = "refreshed"
			case errors.Is(err, hub.ErrUnknownToken):
				http.Error(w, `{"error":"unknown token"}`, http.StatusNotFound)
				return
			case errors.Is(err, hub.ErrStaleSourceData):
				resp.Local = "no source data, cache preserved"
			default:
				http.Error(w, `{"error":"local refresh failed"}`, http.StatusBadGateway)
				return
			}
		}

		if req.Scope == "remote" || req.Scope == "both" {
			reqID, err := h.RequestRemoteYield(r.Context(), token, req.Requester)
			switch {
			case err == nil:
				resp.RequestID = reqID
			case errors.Is(err, hub.ErrUnknownToken):
				http.Error(w, `{"error":"unknown token"}`, http.StatusNotFound)
				return
			case errors.Is(err, hub.ErrRequestInFlight):
				http.Error(w, `{"error":"request already in flight"}`, http.StatusConflict)
				return
			case errors.Is(err, hub.ErrEndpointNotConfigured):
				http.Error(w, `{"error":"remote endpoint not configured"}`, http.StatusServiceUnavailable)
				return
			default:
				http.Error(w, `{"error":"channel send failed"}`, http.StatusBadGateway)
				return
			}
		}

		writeJSON(w, http.StatusAccepted, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
