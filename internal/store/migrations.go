package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS tokens (
    token TEXT PRIMARY KEY,
    decimals SMALLINT NOT NULL,
    local_apy_bps BIGINT NOT NULL DEFAULT 0,
    local_tvl BIGINT NOT NULL DEFAULT 0,
    local_borrowed BIGINT NOT NULL DEFAULT 0,
    local_updated_at TIMESTAMPTZ,
    remote_apy_bps BIGINT NOT NULL DEFAULT 0,
    remote_tvl BIGINT NOT NULL DEFAULT 0,
    remote_protocol_tag TEXT NOT NULL DEFAULT '',
    remote_updated_at TIMESTAMPTZ,
    remote_active BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS request_history (
    request_id TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    requester TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    resolved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS request_history_token_idx
    ON request_history (token, created_at DESC);

CREATE TABLE IF NOT EXISTS message_audit (
    id BIGSERIAL PRIMARY KEY,
    reason TEXT NOT NULL,
    claimed_sender TEXT NOT NULL DEFAULT '',
    request_id TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS message_audit_occurred_idx
    ON message_audit (occurred_at);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
