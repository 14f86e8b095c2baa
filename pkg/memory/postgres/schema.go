// Package postgres provides a PostgreSQL-backed implementation of
// [memory.Persistence].
//
// Every chat is one row in the chat_histories table; its messages are kept
// as a JSONB document in the transcript wire format. Key-value inference
// caches are binary files owned by the inference engine, so they stay on the
// local file system below a configured directory.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, "/var/lib/toolchat/kv")
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveChat(ctx, chat)
//	chats, _ := store.LoadAllChats(ctx)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL: chat transcripts
// ─────────────────────────────────────────────────────────────────────────────

const ddlChatHistories = `
CREATE TABLE IF NOT EXISTS chat_histories (
    name          TEXT         PRIMARY KEY,
    id            BIGINT       NOT NULL,
    last_modified BIGINT       NOT NULL,
    messages      JSONB        NOT NULL DEFAULT '[]',
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_histories_last_modified
    ON chat_histories (last_modified DESC);
`

// Migrate creates or ensures all required database tables exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlChatHistories,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
