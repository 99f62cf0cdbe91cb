package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
)

var copyColumns = []string{
	"message_id", "message_timestamp", "date_partition", "user_name",
	"message_text", "is_media", "is_system_message", "raw_line",
}

// WriteRecords bulk-loads recs into chat_messages with COPY.
func (s *Store) WriteRecords(ctx context.Context, recs []chat.Record) error {
	if len(recs) == 0 {
		return nil
	}

	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"chat_messages"},
		copyColumns,
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			return rowValues(recs[i]), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy chat_messages: %w", err)
	}
	if int(n) != len(recs) {
		return fmt.Errorf("copy chat_messages: wrote %d of %d rows", n, len(recs))
	}
	return nil
}

func rowValues(r chat.Record) []any {
	var date *time.Time
	if r.DatePartition != nil {
		d := r.DatePartition.Time()
		date = &d
	}
	return []any{
		r.ID, r.Timestamp, date, r.UserName,
		r.MessageText, r.IsMedia, r.IsSystemMessage, r.RawLine,
	}
}

// ListByDate returns up to limit records for one date partition, oldest
// first. Records sharing a minute keep the order they were written in.
func (s *Store) ListByDate(ctx context.Context, date chat.Date, limit int) ([]chat.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, message_timestamp, date_partition, user_name,
		       message_text, is_media, is_system_message, raw_line
		FROM chat_messages
		WHERE date_partition = $1
		ORDER BY message_timestamp NULLS LAST, seq
		LIMIT $2`,
		date.Time(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Record
	for rows.Next() {
		var (
			r  chat.Record
			ts *time.Time
			dp *time.Time
		)
		if err := rows.Scan(&r.ID, &ts, &dp, &r.UserName, &r.MessageText, &r.IsMedia, &r.IsSystemMessage, &r.RawLine); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if ts != nil {
			utc := ts.UTC()
			r.Timestamp = &utc
		}
		if dp != nil {
			d := chat.DateOf(*dp)
			r.DatePartition = &d
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByUser returns the number of records per user_name on one date.
func (s *Store) CountByUser(ctx context.Context, date chat.Date) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_name, count(*)
		FROM chat_messages
		WHERE date_partition = $1
		GROUP BY user_name`,
		date.Time(),
	)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			user string
			n    int
		)
		if err := rows.Scan(&user, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[user] = n
	}
	return counts, rows.Err()
}
