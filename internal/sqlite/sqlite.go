// Package sqlite stores chat records in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
	"github.com/MikeSquared-Agency/waexport/migrations"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed record sink.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

type messageRow struct {
	ID              string         `db:"message_id"`
	Timestamp       sql.NullString `db:"message_timestamp"`
	DatePartition   sql.NullString `db:"date_partition"`
	UserName        string         `db:"user_name"`
	MessageText     string         `db:"message_text"`
	IsMedia         bool           `db:"is_media"`
	IsSystemMessage bool           `db:"is_system_message"`
	RawLine         string         `db:"raw_line"`
}

// Open connects to the database at path and applies pending migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := applyMigrations(db.DB, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("sqlite ready", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func applyMigrations(db *sql.DB, logger *slog.Logger) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("no sqlite migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("sqlite migrations applied")
	return nil
}

func (s *Store) Name() string {
	return "sqlite"
}

// WriteRecords inserts recs in a single transaction.
func (s *Store) WriteRecords(ctx context.Context, recs []chat.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO chat_messages (message_id, message_timestamp, date_partition, user_name,
			message_text, is_media, is_system_message, raw_line)
		VALUES (:message_id, :message_timestamp, :date_partition, :user_name,
			:message_text, :is_media, :is_system_message, :raw_line)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, toRow(r)); err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListByDate returns up to limit records for one date partition, oldest first.
func (s *Store) ListByDate(ctx context.Context, date chat.Date, limit int) ([]chat.Record, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT message_id, message_timestamp, date_partition, user_name,
		       message_text, is_media, is_system_message, raw_line
		FROM chat_messages
		WHERE date_partition = ?
		ORDER BY message_timestamp IS NULL, message_timestamp, rowid
		LIMIT ?`,
		date.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}

	out := make([]chat.Record, 0, len(rows))
	for _, row := range rows {
		r, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// CountByUser returns the number of records per user_name on one date.
func (s *Store) CountByUser(ctx context.Context, date chat.Date) (map[string]int, error) {
	var rows []struct {
		User  string `db:"user_name"`
		Count int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_name, count(*) AS n
		FROM chat_messages
		WHERE date_partition = ?
		GROUP BY user_name`,
		date.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.User] = r.Count
	}
	return counts, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toRow(r chat.Record) messageRow {
	row := messageRow{
		ID:              r.ID,
		UserName:        r.UserName,
		MessageText:     r.MessageText,
		IsMedia:         r.IsMedia,
		IsSystemMessage: r.IsSystemMessage,
		RawLine:         r.RawLine,
	}
	if r.Timestamp != nil {
		row.Timestamp = sql.NullString{String: r.Timestamp.UTC().Format(time.RFC3339), Valid: true}
	}
	if r.DatePartition != nil {
		row.DatePartition = sql.NullString{String: r.DatePartition.String(), Valid: true}
	}
	return row
}

func fromRow(row messageRow) (chat.Record, error) {
	r := chat.Record{
		ID:              row.ID,
		UserName:        row.UserName,
		MessageText:     row.MessageText,
		IsMedia:         row.IsMedia,
		IsSystemMessage: row.IsSystemMessage,
		RawLine:         row.RawLine,
	}
	if row.Timestamp.Valid {
		ts, err := time.Parse(time.RFC3339, row.Timestamp.String)
		if err != nil {
			return chat.Record{}, fmt.Errorf("parse timestamp of %s: %w", row.ID, err)
		}
		r.Timestamp = &ts
	}
	if row.DatePartition.Valid {
		d, err := chat.ParseDate(row.DatePartition.String)
		if err != nil {
			return chat.Record{}, fmt.Errorf("parse date of %s: %w", row.ID, err)
		}
		r.DatePartition = &d
	}
	return r, nil
}
