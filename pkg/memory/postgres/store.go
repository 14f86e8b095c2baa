package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/toolchat/pkg/memory"
	"github.com/MrWong99/toolchat/pkg/types"
)

// Compile-time interface check.
var _ memory.Persistence = (*Store)(nil)

// Store persists chats in PostgreSQL. All operations are safe for concurrent
// use.
type Store struct {
	pool   *pgxpool.Pool
	kv     memory.KVFiles
	logger *slog.Logger
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure the schema exists.
// kvDir is the local directory holding key-value cache files.
func NewStore(ctx context.Context, dsn, kvDir string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:   pool,
		kv:     memory.KVFiles{Dir: kvDir},
		logger: slog.Default(),
	}, nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveChat implements [memory.Persistence]. An existing row with the same
// name is replaced.
func (s *Store) SaveChat(ctx context.Context, chat types.ChatHistory) error {
	messages := chat.Messages
	if messages == nil {
		messages = []types.Message{}
	}
	doc, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("postgres store: encode %q: %w", chat.Name, err)
	}

	const q = `
		INSERT INTO chat_histories (name, id, last_modified, messages, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE
		SET    id            = EXCLUDED.id,
		       last_modified = EXCLUDED.last_modified,
		       messages      = EXCLUDED.messages,
		       updated_at    = now()`

	if _, err := s.pool.Exec(ctx, q, chat.Name, chat.ID, chat.LastModified, doc); err != nil {
		return fmt.Errorf("postgres store: save %q: %w", chat.Name, err)
	}
	return nil
}

// DeleteChat implements [memory.Persistence].
func (s *Store) DeleteChat(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_histories WHERE name = $1`, name); err != nil {
		return fmt.Errorf("postgres store: delete %q: %w", name, err)
	}
	return nil
}

// LoadAllChats implements [memory.Persistence]. Rows whose messages cannot
// be decoded are skipped with a warning.
func (s *Store) LoadAllChats(ctx context.Context) ([]types.ChatHistory, error) {
	const q = `
		SELECT name, id, last_modified, messages
		FROM   chat_histories
		ORDER  BY last_modified DESC, name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load: %w", err)
	}

	defer rows.Close()

	chats := []types.ChatHistory{}
	for rows.Next() {
		var (
			c   types.ChatHistory
			doc []byte
		)
		if err := rows.Scan(&c.Name, &c.ID, &c.LastModified, &doc); err != nil {
			return nil, fmt.Errorf("postgres store: scan rows: %w", err)
		}
		if err := json.Unmarshal(doc, &c.Messages); err != nil {
			s.logger.Warn("postgres store: skipping unreadable chat", "name", c.Name,
				"err", fmt.Errorf("%w: %v", memory.ErrCorrupt, err))
			continue
		}
		if c.Messages == nil {
			c.Messages = []types.Message{}
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: load: %w", err)
	}
	return chats, nil
}

// RenameKVChat implements [memory.Persistence].
func (s *Store) RenameKVChat(_ context.Context, oldName, newName string) error {
	return s.kv.Rename(oldName, newName)
}

// DeleteKVChat implements [memory.Persistence].
func (s *Store) DeleteKVChat(_ context.Context, name string) error {
	return s.kv.Delete(name)
}

// ChatPath implements [memory.Persistence]. It names the row holding the
// chat.
func (s *Store) ChatPath(name string) string {
	return "chat_histories/" + name
}

// KVChatPath implements [memory.Persistence].
func (s *Store) KVChatPath(key memory.KVKey) string {
	return s.kv.Path(key)
}
