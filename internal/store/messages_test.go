package store

import (
	"testing"
	"time"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
)

func TestRowValues_NullableColumns(t *testing.T) {
	vals := rowValues(chat.Record{ID: "a", UserName: chat.UserSystem, RawLine: "x"})

	if len(vals) != len(copyColumns) {
		t.Fatalf("expected %d values, got %d", len(copyColumns), len(vals))
	}
	if ts, ok := vals[1].(*time.Time); !ok || ts != nil {
		t.Errorf("expected nil *time.Time timestamp, got %#v", vals[1])
	}
	if d, ok := vals[2].(*time.Time); !ok || d != nil {
		t.Errorf("expected nil *time.Time date, got %#v", vals[2])
	}
}

func TestRowValues_DateAsMidnightUTC(t *testing.T) {
	d := chat.Date{Year: 2023, Month: time.December, Day: 31}
	vals := rowValues(chat.Record{ID: "a", DatePartition: &d, RawLine: "x"})

	got, ok := vals[2].(*time.Time)
	if !ok || got == nil {
		t.Fatalf("expected date value, got %#v", vals[2])
	}
	if !got.Equal(time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %s", got)
	}
}
