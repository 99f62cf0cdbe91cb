package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRecordValues_AbsentTimestamp(t *testing.T) {
	r := Record{ID: "x", UserName: UserSystem, MessageText: "a\nb", IsSystemMessage: true, RawLine: "a\nb"}
	got := r.Values()

	if len(got) != len(Columns) {
		t.Fatalf("expected %d cells, got %d", len(Columns), len(got))
	}
	if got[1] != "" || got[2] != "" {
		t.Errorf("expected empty timestamp/date cells, got %q %q", got[1], got[2])
	}
	if got[4] != "a\nb" || got[5] != "false" || got[6] != "true" {
		t.Errorf("cells = %q", got)
	}
}

func TestRecordValues_UTCTimestamp(t *testing.T) {
	ts := time.Date(2024, time.January, 1, 1, 30, 0, 0, time.UTC)
	d := Date{Year: 2023, Month: time.December, Day: 31}
	r := Record{ID: "x", Timestamp: &ts, DatePartition: &d, UserName: "Alice", MessageText: "hi", RawLine: "hi"}

	got := r.Values()
	if got[1] != "2024-01-01T01:30:00Z" {
		t.Errorf("timestamp cell = %q", got[1])
	}
	if got[2] != "2023-12-31" {
		t.Errorf("date cell = %q", got[2])
	}
}

func TestRecordJSON_NullsAndDate(t *testing.T) {
	d := Date{Year: 2023, Month: time.May, Day: 12}
	data, err := json.Marshal([]Record{
		{ID: "a", UserName: UserSystem, RawLine: "x"},
		{ID: "b", DatePartition: &d, UserName: "Bob", RawLine: "y"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s := string(data)
	if !strings.Contains(s, `"message_timestamp":null`) || !strings.Contains(s, `"date_partition":null`) {
		t.Errorf("expected null timestamp/date, got %s", s)
	}
	if !strings.Contains(s, `"date_partition":"2023-05-12"`) {
		t.Errorf("expected formatted date, got %s", s)
	}

	var back []Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back[1].DatePartition == nil || *back[1].DatePartition != d {
		t.Errorf("date round trip = %v", back[1].DatePartition)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2023-12-05")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != (Date{Year: 2023, Month: time.December, Day: 5}) {
		t.Errorf("date = %+v", d)
	}
	if _, err := ParseDate("05/12/2023"); err == nil {
		t.Error("expected error for non-ISO date")
	}
}
