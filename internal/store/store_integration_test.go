//go:build integration

package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_WriteAndListByDate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// A date far enough out that other runs don't collide.
	d := chat.Date{Year: 1999, Month: time.March, Day: 7}
	ts := time.Date(1999, time.March, 7, 21, 15, 0, 0, time.UTC)
	recs := []chat.Record{
		{ID: uuid.NewString(), Timestamp: &ts, DatePartition: &d, UserName: "Alice", MessageText: "Hello\nHow are you?", RawLine: "raw\nlines"},
		{ID: uuid.NewString(), DatePartition: &d, UserName: chat.UserSystem, MessageText: "Bob left", IsSystemMessage: true, RawLine: "Bob left"},
	}
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), `DELETE FROM chat_messages WHERE message_id = ANY($1)`, []string{recs[0].ID, recs[1].ID})
	})

	if err := s.WriteRecords(ctx, recs); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	got, err := s.ListByDate(ctx, d, 10)
	if err != nil {
		t.Fatalf("ListByDate failed: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("expected at least 2 records, got %d", len(got))
	}
	if got[0].MessageText != "Hello\nHow are you?" {
		t.Errorf("expected newline preserved, got %q", got[0].MessageText)
	}
	if got[0].Timestamp == nil || !got[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v", got[0].Timestamp)
	}

	counts, err := s.CountByUser(ctx, d)
	if err != nil {
		t.Fatalf("CountByUser failed: %v", err)
	}
	if counts["Alice"] < 1 || counts[chat.UserSystem] < 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestIntegration_SameMinuteKeepsWriteOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	d := chat.Date{Year: 1999, Month: time.March, Day: 8}
	ts := time.Date(1999, time.March, 8, 10, 0, 0, 0, time.UTC)
	var recs []chat.Record
	var ids []string
	for _, text := range []string{"z", "a", "m"} {
		id := uuid.NewString()
		ids = append(ids, id)
		recs = append(recs, chat.Record{ID: id, Timestamp: &ts, DatePartition: &d, UserName: "Alice", MessageText: text, RawLine: text})
	}
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), `DELETE FROM chat_messages WHERE message_id = ANY($1)`, ids)
	})

	if err := s.WriteRecords(ctx, recs); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	got, err := s.ListByDate(ctx, d, 10)
	if err != nil {
		t.Fatalf("ListByDate failed: %v", err)
	}
	var order []string
	for _, r := range got {
		for _, id := range ids {
			if r.ID == id {
				order = append(order, r.MessageText)
			}
		}
	}
	if strings.Join(order, "") != "zam" {
		t.Errorf("order = %v, want [z a m]", order)
	}
}
