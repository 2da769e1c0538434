// Package store persists hub state in Postgres. The hub's in-memory
// cache stays authoritative; this layer is write-through so registrations
// and last-known readings survive a restart, and it keeps the request
// history and security audit trail.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/web3-frozen/yield-hub/internal/hub"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Tokens & readings ---

func (s *Store) UpsertToken(ctx context.Context, token string, decimals uint8) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (token, decimals)
		VALUES ($1, $2)
		ON CONFLICT (token) DO NOTHING`,
		token, int16(decimals))
	return err
}

func (s *Store) DeleteToken(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tokens WHERE token = $1`, token)
	return err
}

func (s *Store) SaveReading(ctx context.Context, snap hub.TokenSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tokens SET
			local_apy_bps = $2,
			local_tvl = $3,
			local_borrowed = $4,
			local_updated_at = $5,
			remote_apy_bps = $6,
			remote_tvl = $7,
			remote_protocol_tag = $8,
			remote_updated_at = $9,
			remote_active = $10
		WHERE token = $1`,
		snap.Token,
		snap.LocalAPYBps, snap.LocalTVL, snap.LocalBorrowed, nullTime(snap.LocalUpdatedAt),
		snap.RemoteAPYBps, snap.RemoteTVL, snap.RemoteProtocolTag, nullTime(snap.RemoteUpdatedAt),
		snap.RemoteActive)
	return err
}

// LoadTokens returns all persisted token records for boot restore.
func (s *Store) LoadTokens(ctx context.Context) ([]hub.TokenSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token, decimals, local_apy_bps, local_tvl, local_borrowed, local_updated_at,
		       remote_apy_bps, remote_tvl, remote_protocol_tag, remote_updated_at, remote_active
		FROM tokens ORDER BY token`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []hub.TokenSnapshot
	for rows.Next() {
		var snap hub.TokenSnapshot
		var decimals int16
		var localAt, remoteAt *time.Time
		if err := rows.Scan(&snap.Token, &decimals,
			&snap.LocalAPYBps, &snap.LocalTVL, &snap.LocalBorrowed, &localAt,
			&snap.RemoteAPYBps, &snap.RemoteTVL, &snap.RemoteProtocolTag, &remoteAt,
			&snap.RemoteActive); err != nil {
			return nil, err
		}
		snap.Decimals = uint8(decimals)
		if localAt != nil {
			snap.LocalUpdatedAt = *localAt
		}
		if remoteAt != nil {
			snap.RemoteUpdatedAt = *remoteAt
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// --- Request history ---

func (s *Store) SaveRequest(ctx context.Context, req hub.PendingRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO request_history (request_id, token, requester, status, error_message, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id) DO UPDATE
			SET status = $4, error_message = $5, resolved_at = $7`,
		req.RequestID, req.Token, req.Requester, string(req.Status), req.ErrorMessage,
		req.CreatedAt, nullTime(req.ResolvedAt))
	return err
}

// RequestHistory returns the most recent terminal requests for a token.
func (s *Store) RequestHistory(ctx context.Context, token string, limit int) ([]hub.PendingRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, token, requester, status, error_message, created_at, resolved_at
		FROM request_history
		WHERE token = $1
		ORDER BY created_at DESC
		LIMIT $2`, token, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []hub.PendingRequest
	for rows.Next() {
		var r hub.PendingRequest
		var status string
		var resolvedAt *time.Time
		if err := rows.Scan(&r.RequestID, &r.Token, &r.Requester, &status, &r.ErrorMessage, &r.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		r.Status = hub.RequestStatus(status)
		if resolvedAt != nil {
			r.ResolvedAt = *resolvedAt
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// --- Security audit ---

func (s *Store) SaveAudit(ctx context.Context, ev hub.AuditEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_audit (reason, claimed_sender, request_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.Reason, ev.ClaimedSender, ev.RequestID, ev.Detail, ev.OccurredAt)
	return err
}

// CleanupAudit deletes audit rows older than maxAge.
func (s *Store) CleanupAudit(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM message_audit WHERE occurred_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
