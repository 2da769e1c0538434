// Package hub holds the cross-chain yield hub: the per-token yield cache,
// the remote request lifecycle, and the optimizer that merges local and
// remote readings. All mutation goes through the four entry points
// (RegisterToken, RefreshLocal, RequestRemoteYield, OnMessage); everything
// else is read-only.
package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/web3-frozen/yield-hub/internal/channel"
	"github.com/web3-frozen/yield-hub/internal/metrics"
	"github.com/web3-frozen/yield-hub/internal/protocol"
)

// RequestStatus is the lifecycle state of one cross-chain yield request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusCompleted RequestStatus = "completed"
	StatusFailed    RequestStatus = "failed"
	StatusExpired   RequestStatus = "expired"
)

// PendingRequest tracks one in-flight (or terminal) remote yield request.
type PendingRequest struct {
	RequestID    string        `json:"request_id"`
	Token        string        `json:"token"`
	Requester    string        `json:"requester"`
	CreatedAt    time.Time     `json:"created_at"`
	Status       RequestStatus `json:"status"`
	ResolvedAt   time.Time     `json:"resolved_at,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// TokenSnapshot is a consistent copy of one token's cached state.
type TokenSnapshot struct {
	Token             string    `json:"token"`
	Decimals          uint8     `json:"decimals"`
	LocalAPYBps       int64     `json:"local_apy_bps"`
	LocalTVL          int64     `json:"local_tvl"`
	LocalBorrowed     int64     `json:"local_borrowed"`
	LocalUpdatedAt    time.Time `json:"local_updated_at"`
	LocalFresh        bool      `json:"local_fresh"`
	RemoteAPYBps      int64     `json:"remote_apy_bps"`
	RemoteTVL         int64     `json:"remote_tvl"`
	RemoteProtocolTag string    `json:"remote_protocol_tag,omitempty"`
	RemoteUpdatedAt   time.Time `json:"remote_updated_at"`
	RemoteActive      bool      `json:"remote_active"`
	RemoteFresh       bool      `json:"remote_fresh"`
	RequestStatus     string    `json:"request_status,omitempty"`
}

// AuditEvent records a rejected inbound message for the audit trail.
type AuditEvent struct {
	Reason        string    `json:"reason"`
	ClaimedSender string    `json:"claimed_sender"`
	RequestID     string    `json:"request_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Store persists hub state across restarts and keeps the audit trail.
// All methods are write-through; the in-memory hub stays authoritative.
type Store interface {
	UpsertToken(ctx context.Context, token string, decimals uint8) error
	DeleteToken(ctx context.Context, token string) error
	SaveReading(ctx context.Context, snap TokenSnapshot) error
	SaveRequest(ctx context.Context, req PendingRequest) error
	SaveAudit(ctx context.Context, ev AuditEvent) error
}

// Config holds the hub's tunable policy knobs.
type Config struct {
	// Chain identifies the hub's own chain, mixed into request IDs.
	Chain string
	// FreshnessWindow is the maximum age a reading may have and still
	// participate in optimization.
	FreshnessWindow time.Duration
	// ResponseTimeout is how long a pending request may wait for a
	// response before lazy expiry.
	ResponseTimeout time.Duration
	// RequestFee is the fee supplied on each channel send.
	RequestFee int64
}

type tokenRecord struct {
	mu sync.Mutex

	token    string
	decimals uint8

	localAPYBps    int64
	localTVL       int64
	localBorrowed  int64
	localUpdatedAt time.Time

	remoteAPYBps      int64
	remoteTVL         int64
	remoteProtocolTag string
	remoteUpdatedAt   time.Time
	remoteActive      bool

	// pending is nil unless a request is in flight. Terminal requests
	// live only in the store's history.
	pending *PendingRequest
}

// Hub coordinates local and remote yield data for registered tokens.
type Hub struct {
	cfg    Config
	source LocalYieldSource
	sender channel.Sender
	store  Store
	logger *slog.Logger

	mu     sync.RWMutex
	tokens map[string]*tokenRecord

	epMu           sync.RWMutex
	remoteEndpoint channel.Endpoint

	reqMu    sync.Mutex
	requests map[string]string // requestID -> token

	now func() time.Time
}

// New builds a hub. store may be nil for ephemeral use.
func New(cfg Config, source LocalYieldSource, sender channel.Sender, store Store, logger *slog.Logger) *Hub {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 2 * time.Minute
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 5 * time.Minute
	}
	return &Hub{
		cfg:      cfg,
		source:   source,
		sender:   sender,
		store:    store,
		logger:   logger,
		tokens:   make(map[string]*tokenRecord),
		requests: make(map[string]string),
		now:      time.Now,
	}
}

// SetRemoteEndpoint configures the trusted remote scout. Must be set
// before any remote request can be issued; inbound messages from any
// other endpoint are rejected.
func (h *Hub) SetRemoteEndpoint(ep channel.Endpoint) {
	h.epMu.Lock()
	h.remoteEndpoint = ep
	h.epMu.Unlock()
	h.logger.Info("remote endpoint configured", "endpoint", ep.String())
}

// RemoteEndpoint returns the configured trusted remote scout.
func (h *Hub) RemoteEndpoint() channel.Endpoint {
	h.epMu.RLock()
	defer h.epMu.RUnlock()
	return h.remoteEndpoint
}

// SetWindows adjusts the freshness window and response timeout.
func (h *Hub) SetWindows(freshness, timeout time.Duration) {
	h.mu.Lock()
	if freshness > 0 {
		h.cfg.FreshnessWindow = freshness
	}
	if timeout > 0 {
		h.cfg.ResponseTimeout = timeout
	}
	h.mu.Unlock()
}

func (h *Hub) freshnessWindow() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.FreshnessWindow
}

func (h *Hub) responseTimeout() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.ResponseTimeout
}

func (h *Hub) isFresh(updatedAt time.Time) bool {
	if updatedAt.IsZero() {
		return false
	}
	return h.now().Sub(updatedAt) <= h.freshnessWindow()
}

// RegisterToken adds a token to the registry. Registering the same token
// with the same decimals is a no-op; different decimals fail with
// ErrAlreadyRegistered.
func (h *Hub) RegisterToken(ctx context.Context, token string, decimals uint8) error {
	h.mu.Lock()
	if rec, ok := h.tokens[token]; ok {
		same := rec.decimals == decimals
		h.mu.Unlock()
		if same {
			return nil
		}
		return ErrAlreadyRegistered
	}
	h.tokens[token] = &tokenRecord{token: token, decimals: decimals}
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.UpsertToken(ctx, token, decimals); err != nil {
			h.logger.Error("persist token failed", "token", token, "error", err)
		}
	}
	h.logger.Info("token registered", "token", token, "decimals", decimals)
	return nil
}

// DeregisterToken removes a token and drops any pending request index.
func (h *Hub) DeregisterToken(ctx context.Context, token string) error {
	h.mu.Lock()
	rec, ok := h.tokens[token]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownToken
	}
	delete(h.tokens, token)
	h.mu.Unlock()

	rec.mu.Lock()
	if rec.pending != nil {
		h.dropRequestIndex(rec.pending.RequestID)
	}
	rec.mu.Unlock()

	if h.store != nil {
		if err := h.store.DeleteToken(ctx, token); err != nil {
			h.logger.Error("delete token failed", "token", token, "error", err)
		}
	}
	h.logger.Info("token deregistered", "token", token)
	return nil
}

// Tokens lists registered token identifiers.
func (h *Hub) Tokens() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.tokens))
	for t := range h.tokens {
		out = append(out, t)
	}
	return out
}

func (h *Hub) record(token string) (*tokenRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.tokens[token]
	return rec, ok
}

// RefreshLocal reads the local lending market and overwrites the local
// side of the cache. A source with no data leaves the cache untouched
// and returns ErrStaleSourceData.
func (h *Hub) RefreshLocal(ctx context.Context, token string) error {
	rec, ok := h.record(token)
	if !ok {
		return ErrUnknownToken
	}

	reading, err := h.source.Read(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNoSourceData) {
			metrics.LocalRefreshTotal.WithLabelValues("no_data").Inc()
			return ErrStaleSourceData
		}
		metrics.LocalRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("read local source: %w", err)
	}

	rec.mu.Lock()
	rec.localAPYBps = reading.SupplyRateBps
	rec.localTVL = reading.TotalSupplied
	rec.localBorrowed = reading.TotalBorrowed
	rec.localUpdatedAt = h.now()
	snap := h.snapshotLocked(rec)
	rec.mu.Unlock()

	metrics.LocalRefreshTotal.WithLabelValues("ok").Inc()
	h.persistReading(ctx, snap)
	return nil
}

// RequestRemoteYield issues a cross-chain yield request for token. It
// blocks on the channel send but never on the response; at most one
// request per token may be pending at a time.
func (h *Hub) RequestRemoteYield(ctx context.Context, token, requester string) (string, error) {
	dest := h.RemoteEndpoint()
	if dest.IsZero() {
		return "", ErrEndpointNotConfigured
	}

	rec, ok := h.record(token)
	if !ok {
		return "", ErrUnknownToken
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	h.expireLocked(ctx, rec)
	if rec.pending != nil {
		return "", ErrRequestInFlight
	}

	createdAt := h.now()
	reqID := newRequestID(token, requester, createdAt, h.cfg.Chain)

	payload, err := protocol.EncodeRequest(&protocol.YieldRequest{
		RequestID:   reqID,
		Token:       token,
		RequestedAt: createdAt,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	// The send must succeed before anything is recorded: a failed send
	// leaves no pending entry behind.
	msgID, err := h.sender.Send(dest, payload, h.cfg.RequestFee)
	if err != nil {
		metrics.RemoteRequestsTotal.WithLabelValues("send_failed").Inc()
		return "", fmt.Errorf("%w: %v", ErrChannelSend, err)
	}

	rec.pending = &PendingRequest{
		RequestID: reqID,
		Token:     token,
		Requester: requester,
		CreatedAt: createdAt,
		Status:    StatusPending,
	}
	h.addRequestIndex(reqID, token)

	metrics.RemoteRequestsTotal.WithLabelValues("issued").Inc()
	h.logger.Info("remote yield requested",
		"token", token, "request_id", reqID, "message_id", msgID, "destination", dest.String())
	return reqID, nil
}

// OnMessage is the sole entry point for remote data. src must match the
// configured trusted endpoint exactly; the payload must decode to a
// response for a currently pending request. Anything else is rejected
// without touching cached state.
func (h *Hub) OnMessage(src channel.Endpoint, payload []byte) error {
	trusted := h.RemoteEndpoint()
	if trusted.IsZero() || src != trusted {
		h.audit("untrusted_sender", src.String(), "", "")
		return ErrUntrustedSender
	}

	resp, err := protocol.DecodeResponse(payload)
	if err != nil {
		h.audit("malformed_message", src.String(), "", err.Error())
		return ErrMalformedMessage
	}

	token, ok := h.lookupRequest(resp.RequestID)
	if !ok {
		h.audit("unknown_request", src.String(), resp.RequestID, "")
		return ErrUnknownOrStaleRequest
	}
	rec, ok := h.record(token)
	if !ok {
		h.audit("unknown_request", src.String(), resp.RequestID, "token gone")
		return ErrUnknownOrStaleRequest
	}

	ctx := context.Background()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	h.expireLocked(ctx, rec)
	if rec.pending == nil || rec.pending.RequestID != resp.RequestID {
		h.audit("unknown_request", src.String(), resp.RequestID, "not pending")
		return ErrUnknownOrStaleRequest
	}

	req := rec.pending
	rec.pending = nil
	h.dropRequestIndex(req.RequestID)
	req.ResolvedAt = h.now()

	if !resp.Success {
		req.Status = StatusFailed
		req.ErrorMessage = resp.ErrorMessage
		metrics.RemoteRequestsTotal.WithLabelValues("failed").Inc()
		h.logger.Warn("remote request failed",
			"token", token, "request_id", req.RequestID, "reason", resp.ErrorMessage)
		h.persistRequest(ctx, *req)
		return nil
	}

	rec.remoteAPYBps = resp.APYBps
	rec.remoteTVL = resp.TVL
	rec.remoteProtocolTag = resp.ProtocolTag
	// Freshness is stamped from the scout's clock, clamped so a skewed
	// response can never roll it backwards.
	stamp := resp.RespondedAt
	if stamp.IsZero() || stamp.After(h.now()) {
		stamp = h.now()
	}
	if stamp.After(rec.remoteUpdatedAt) {
		rec.remoteUpdatedAt = stamp
	}
	rec.remoteActive = true
	req.Status = StatusCompleted

	snap := h.snapshotLocked(rec)
	metrics.RemoteRequestsTotal.WithLabelValues("completed").Inc()
	h.logger.Info("remote yield received",
		"token", token, "request_id", req.RequestID,
		"apy_bps", resp.APYBps, "tvl", resp.TVL, "protocol", resp.ProtocolTag)

	h.persistRequest(ctx, *req)
	h.persistReading(ctx, snap)
	return nil
}

// expireLocked lazily expires an over-age pending request. Caller holds
// rec.mu.
func (h *Hub) expireLocked(ctx context.Context, rec *tokenRecord) {
	if rec.pending == nil {
		return
	}
	if h.now().Sub(rec.pending.CreatedAt) <= h.responseTimeout() {
		return
	}
	req := rec.pending
	rec.pending = nil
	h.dropRequestIndex(req.RequestID)
	req.Status = StatusExpired
	req.ResolvedAt = h.now()
	metrics.RemoteRequestsTotal.WithLabelValues("expired").Inc()
	h.logger.Warn("remote request expired", "token", rec.token, "request_id", req.RequestID)
	h.persistRequest(ctx, *req)
}

// PendingFor returns the in-flight request for token, if any.
func (h *Hub) PendingFor(token string) (*PendingRequest, bool) {
	rec, ok := h.record(token)
	if !ok {
		return nil, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.pending == nil {
		return nil, false
	}
	cp := *rec.pending
	return &cp, true
}

// Snapshot returns a consistent copy of one token's cached state.
func (h *Hub) Snapshot(token string) (*TokenSnapshot, error) {
	rec, ok := h.record(token)
	if !ok {
		return nil, ErrUnknownToken
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	snap := h.snapshotLocked(rec)
	return &snap, nil
}

func (h *Hub) snapshotLocked(rec *tokenRecord) TokenSnapshot {
	snap := TokenSnapshot{
		Token:             rec.token,
		Decimals:          rec.decimals,
		LocalAPYBps:       rec.localAPYBps,
		LocalTVL:          rec.localTVL,
		LocalBorrowed:     rec.localBorrowed,
		LocalUpdatedAt:    rec.localUpdatedAt,
		LocalFresh:        h.isFresh(rec.localUpdatedAt),
		RemoteAPYBps:      rec.remoteAPYBps,
		RemoteTVL:         rec.remoteTVL,
		RemoteProtocolTag: rec.remoteProtocolTag,
		RemoteUpdatedAt:   rec.remoteUpdatedAt,
		RemoteActive:      rec.remoteActive,
		RemoteFresh:       rec.remoteActive && h.isFresh(rec.remoteUpdatedAt),
	}
	if rec.pending != nil {
		snap.RequestStatus = string(rec.pending.Status)
	}
	return snap
}

// Restore seeds a token record from persisted state at boot. Not part of
// the runtime mutation surface.
func (h *Hub) Restore(snap TokenSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens[snap.Token] = &tokenRecord{
		token:             snap.Token,
		decimals:          snap.Decimals,
		localAPYBps:       snap.LocalAPYBps,
		localTVL:          snap.LocalTVL,
		localBorrowed:     snap.LocalBorrowed,
		localUpdatedAt:    snap.LocalUpdatedAt,
		remoteAPYBps:      snap.RemoteAPYBps,
		remoteTVL:         snap.RemoteTVL,
		remoteProtocolTag: snap.RemoteProtocolTag,
		remoteUpdatedAt:   snap.RemoteUpdatedAt,
		remoteActive:      snap.RemoteActive,
	}
}

func (h *Hub) addRequestIndex(reqID, token string) {
	h.reqMu.Lock()
	h.requests[reqID] = token
	h.reqMu.Unlock()
}

func (h *Hub) dropRequestIndex(reqID string) {
	h.reqMu.Lock()
	delete(h.requests, reqID)
	h.reqMu.Unlock()
}

func (h *Hub) lookupRequest(reqID string) (string, bool) {
	h.reqMu.Lock()
	defer h.reqMu.Unlock()
	token, ok := h.requests[reqID]
	return token, ok
}

func (h *Hub) audit(reason, sender, reqID, detail string) {
	metrics.ReceiveRejectsTotal.WithLabelValues(reason).Inc()
	h.logger.Warn("inbound message rejected",
		"reason", reason, "claimed_sender", sender, "request_id", reqID, "detail", detail)
	if h.store == nil {
		return
	}
	ev := AuditEvent{
		Reason:        reason,
		ClaimedSender: sender,
		RequestID:     reqID,
		Detail:        detail,
		OccurredAt:    h.now(),
	}
	if err := h.store.SaveAudit(context.Background(), ev); err != nil {
		h.logger.Error("persist audit event failed", "error", err)
	}
}

func (h *Hub) persistReading(ctx context.Context, snap TokenSnapshot) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveReading(ctx, snap); err != nil {
		h.logger.Error("persist reading failed", "token", snap.Token, "error", err)
	}
}

func (h *Hub) persistRequest(ctx context.Context, req PendingRequest) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveRequest(ctx, req); err != nil {
		h.logger.Error("persist request failed", "request_id", req.RequestID, "error", err)
	}
}

// newRequestID derives an unguessable identifier from the request tuple
// plus fresh UUID entropy.
func newRequestID(token, requester string, createdAt time.Time, chain string) string {
	sum := sha256.Sum256([]byte(
		token + "|" + requester + "|" + uuid.NewString() + "|" +
			createdAt.UTC().Format(time.RFC3339Nano) + "|" + chain))
	return hex.EncodeToString(sum[:])
}
