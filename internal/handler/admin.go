package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/web3-frozen/yield-hub/internal/channel"
	"github.com/web3-frozen/yield-hub/internal/hub"
)

// RequireAdmin guards the administrative routes with a bearer token.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, `{"error":"admin API disabled"}`, http.StatusForbidden)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RegisterToken adds a token to the hub registry.
func RegisterToken(h *hub.Hub) http.HandlerFunc {
	type request struct {
		Token    string `json:"token"`
		Decimals uint8  `json:"decimals"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Token == "" {
			http.Error(w, `{"error":"token required"}`, http.StatusBadRequest)
			return
		}

		switch err := h.RegisterToken(r.Context(), req.Token, req.Decimals); {
		case err == nil:
			writeJSON(w, http.StatusCreated, map[string]string{"token": req.Token})
		case errors.Is(err, hub.ErrAlreadyRegistered):
			http.Error(w, `{"error":"token registered with different decimals"}`, http.StatusConflict)
		default:
			http.Error(w, `{"error":"failed to register token"}`, http.StatusInternalServerError)
		}
	}
}

// DeregisterToken removes a token from the hub registry.
func DeregisterToken(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		switch err := h.DeregisterToken(r.Context(), token); {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, hub.ErrUnknownToken):
			http.Error(w, `{"error":"unknown token"}`, http.StatusNotFound)
		default:
			http.Error(w, `{"error":"failed to deregister token"}`, http.StatusInternalServerError)
		}
	}
}

// SetEndpoint configures the trusted remote scout endpoint.
func SetEndpoint(h *hub.Hub) http.HandlerFunc {
	type request struct {
		Chain   string `json:"chain"`
		Address string `json:"address"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Chain == "" || req.Address == "" {
			http.Error(w, `{"error":"chain and address required"}`, http.StatusBadRequest)
			return
		}
		h.SetRemoteEndpoint(channel.Endpoint{Chain: req.Chain, Address: req.Address})
		writeJSON(w, http.StatusOK, req)
	}
}

// SetWindows adjusts the freshness window and response timeout.
func SetWindows(h *hub.Hub) http.HandlerFunc {
	type request struct {
		FreshnessSeconds int64 `json:"freshness_seconds"`
		TimeoutSeconds   int64 `json:"timeout_seconds"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.FreshnessSeconds < 0 || req.TimeoutSeconds < 0 {
			http.Error(w, `{"error":"windows must be non-negative"}`, http.StatusBadRequest)
			return
		}
		h.SetWindows(
			time.Duration(req.FreshnessSeconds)*time.Second,
			time.Duration(req.TimeoutSeconds)*time.Second,
		)
		writeJSON(w, http.StatusOK, req)
	}
}
