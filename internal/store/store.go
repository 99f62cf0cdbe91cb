package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	message_id        text PRIMARY KEY,
	message_timestamp timestamptz,
	date_partition    date,
	user_name         text NOT NULL,
	message_text      text NOT NULL,
	is_media          boolean NOT NULL DEFAULT false,
	is_system_message boolean NOT NULL DEFAULT false,
	raw_line          text NOT NULL,
	imported_at       timestamptz NOT NULL DEFAULT now(),
	seq               bigserial
);
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_name = 'chat_messages' AND column_name = 'seq'
	) THEN
		ALTER TABLE chat_messages ADD COLUMN seq bigserial;
	END IF;
END $$;
CREATE INDEX IF NOT EXISTS chat_messages_date_partition_idx ON chat_messages (date_partition);
`

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the chat_messages table and its index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Name() string {
	return "postgres"
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
