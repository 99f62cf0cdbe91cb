package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
	"github.com/MikeSquared-Agency/waexport/internal/csvout"
	"github.com/MikeSquared-Agency/waexport/internal/hermes"
	"github.com/MikeSquared-Agency/waexport/internal/sink"
)

type memSink struct {
	mu     sync.Mutex
	recs   []chat.Record
	failOn string
}

func (m *memSink) WriteRecords(_ context.Context, recs []chat.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if m.failOn != "" && strings.Contains(r.MessageText, m.failOn) {
			return errors.New("sink rejected record")
		}
	}
	m.recs = append(m.recs, recs...)
	return nil
}

func (m *memSink) Close() error { return nil }

type fakePublisher struct {
	events []hermes.ImportEvent
}

func (p *fakePublisher) PublishImportCompleted(evt hermes.ImportEvent) error {
	p.events = append(p.events, evt)
	return nil
}

type fakeNotifier struct {
	messages []string
	threads  []string
}

func (n *fakeNotifier) PostMessage(_ context.Context, text string) (string, error) {
	n.messages = append(n.messages, text)
	return "1700000000.000100", nil
}

func (n *fakeNotifier) PostThread(_ context.Context, _ string, text string) error {
	n.threads = append(n.threads, text)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writeExport(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
	return path
}

func TestRunner_ImportsDirectory(t *testing.T) {
	inbox := t.TempDir()
	writeExport(t, inbox, "family.txt",
		"12/05/23, 9:15 PM - Alice: Hello",
		"How are you?",
		"13/05/23, 08:00 - Bob: Fine",
	)
	writeExport(t, inbox, "work.txt",
		"01/02/2024, 10:00 - Carol: <Media omitted>",
	)
	writeExport(t, inbox, "notes.md", "not an export")

	mem := &memSink{}
	pub := &fakePublisher{}
	note := &fakeNotifier{}
	r := NewRunner(Config{InboxDir: inbox, BatchSize: 1}, mem, discardLogger(),
		WithPublisher(pub), WithNotifier(note))

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(summary.Files))
	}
	if got := summary.Totals().Records; got != 3 {
		t.Errorf("records = %d, want 3", got)
	}
	if len(mem.recs) != 3 {
		t.Errorf("sink received %d records, want 3", len(mem.recs))
	}
	if len(pub.events) != 2 {
		t.Errorf("expected 2 import events, got %d", len(pub.events))
	}
	if len(note.messages) != 1 || len(note.threads) != 0 {
		t.Errorf("notifier messages=%d threads=%d", len(note.messages), len(note.threads))
	}
	if r.LastSummary() != summary {
		t.Error("LastSummary should return the latest run")
	}

	var family FileSummary
	for _, f := range summary.Files {
		if filepath.Base(f.Path) == "family.txt" {
			family = f
		}
	}
	// 12/05/23 with a meridiem only fits mm/dd/yy; 13/05/23 only fits dd/mm/yy.
	first := chat.Date{Year: 2023, Month: time.May, Day: 13}
	last := chat.Date{Year: 2023, Month: time.December, Day: 5}
	if family.FirstDate == nil || *family.FirstDate != first {
		t.Errorf("first date = %v, want %v", family.FirstDate, first)
	}
	if family.LastDate == nil || *family.LastDate != last {
		t.Errorf("last date = %v, want %v", family.LastDate, last)
	}
}

func TestRunner_SkipsUnchangedFiles(t *testing.T) {
	inbox := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "state.json")
	writeExport(t, inbox, "chat.txt", "12/05/23, 9:15 PM - Alice: Hello")

	mem := &memSink{}
	cfg := Config{InboxDir: inbox, StatePath: statePath}

	if _, err := NewRunner(cfg, mem, discardLogger()).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	summary, err := NewRunner(cfg, mem, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Skipped != 1 || len(summary.Files) != 0 {
		t.Errorf("skipped=%d files=%d, want 1 and 0", summary.Skipped, len(summary.Files))
	}
	if len(mem.recs) != 1 {
		t.Errorf("expected 1 record overall, got %d", len(mem.recs))
	}

	cfg.Force = true
	summary, err = NewRunner(cfg, mem, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if len(summary.Files) != 1 {
		t.Errorf("forced run imported %d files, want 1", len(summary.Files))
	}
}

func TestRunner_DirectoryModeContinuesAfterFailure(t *testing.T) {
	inbox := t.TempDir()
	writeExport(t, inbox, "a.txt", "12/05/23, 9:15 PM - Alice: poison")
	writeExport(t, inbox, "b.txt", "12/05/23, 9:16 PM - Bob: Fine")

	mem := &memSink{failOn: "poison"}
	note := &fakeNotifier{}
	r := NewRunner(Config{InboxDir: inbox}, mem, discardLogger(), WithNotifier(note))

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Failed() != 1 {
		t.Errorf("failed = %d, want 1", summary.Failed())
	}
	if len(mem.recs) != 1 || mem.recs[0].UserName != "Bob" {
		t.Errorf("records = %+v", mem.recs)
	}
	if len(note.threads) != 1 || !strings.Contains(note.threads[0], "a.txt") {
		t.Errorf("error thread = %v", note.threads)
	}
}

func TestRunner_SingleFileErrorsAreFatal(t *testing.T) {
	dir := t.TempDir()

	r := NewRunner(Config{SingleFile: filepath.Join(dir, "missing.txt")}, &memSink{}, discardLogger())
	if _, err := r.Run(context.Background()); !errors.Is(err, chat.ErrInputUnavailable) {
		t.Errorf("expected ErrInputUnavailable, got %v", err)
	}

	path := writeExport(t, dir, "bad.txt", "12/05/23, 9:15 PM - Alice: poison")
	r = NewRunner(Config{SingleFile: path}, &memSink{failOn: "poison"}, discardLogger())
	if _, err := r.Run(context.Background()); err == nil {
		t.Error("expected sink error to be returned")
	}
}

func TestRunner_DryRunWritesNothing(t *testing.T) {
	inbox := t.TempDir()
	out := t.TempDir()
	writeExport(t, inbox, "chat.txt", "12/05/23, 9:15 PM - Alice: Hello")

	mem := &memSink{}
	pub := &fakePublisher{}
	r := NewRunner(Config{InboxDir: inbox, DryRun: true}, mem, discardLogger(),
		WithPublisher(pub),
		WithFileSink(func(input string) (sink.Sink, error) {
			return csvout.Create(csvout.OutputPath(out, input))
		}),
	)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Totals().Records != 1 {
		t.Errorf("records = %d, want 1", summary.Totals().Records)
	}
	if len(mem.recs) != 0 || len(pub.events) != 0 {
		t.Errorf("dry run wrote %d records and %d events", len(mem.recs), len(pub.events))
	}
	if entries, _ := os.ReadDir(out); len(entries) != 0 {
		t.Errorf("dry run created %d files", len(entries))
	}
}

func TestRunner_WritesPerFileCSV(t *testing.T) {
	inbox := t.TempDir()
	out := t.TempDir()
	path := writeExport(t, inbox, "chat.txt",
		"12/05/23, 9:15 PM - Alice: Hello",
		"second line",
	)

	r := NewRunner(Config{InboxDir: inbox}, nil, discardLogger(),
		WithFileSink(func(input string) (sink.Sink, error) {
			return csvout.Create(csvout.OutputPath(out, input))
		}),
	)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(csvout.OutputPath(out, path))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !strings.HasPrefix(string(data), strings.Join(chat.Columns, ",")) {
		t.Errorf("missing header: %q", data)
	}
	if !strings.Contains(string(data), "\"Hello\nsecond line\"") {
		t.Errorf("continuation not preserved: %q", data)
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	inbox := t.TempDir()
	writeExport(t, inbox, "chat.txt", "12/05/23, 9:15 PM - Alice: Hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(Config{InboxDir: inbox}, &memSink{}, discardLogger()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunner_FailedFileIsNotRetriedUntilChanged(t *testing.T) {
	inbox := t.TempDir()
	path := writeExport(t, inbox, "chat.txt",
		"12/05/23, 9:15 PM - Alice: Hello",
		"12/05/23, 9:16 PM - Bob: boom",
		"12/05/23, 9:17 PM - Carol: Bye",
	)

	// good stores every batch the failing sink later rejects.
	good := &memSink{}
	bad := &memSink{failOn: "boom"}
	note := &fakeNotifier{}
	cfg := Config{InboxDir: inbox, BatchSize: 1, StatePath: filepath.Join(t.TempDir(), "state.json")}
	r := NewRunner(cfg, sink.Multi{good, bad}, discardLogger(), WithNotifier(note))

	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", first.Failed())
	}
	stored := len(good.recs)
	if stored != 2 {
		t.Fatalf("good sink has %d records after first run, want 2", stored)
	}

	for i := 0; i < 2; i++ {
		summary, err := r.Run(context.Background())
		if err != nil {
			t.Fatalf("rerun %d: %v", i, err)
		}
		if summary.Skipped != 1 || len(summary.Files) != 0 {
			t.Errorf("rerun %d: skipped=%d files=%d, want 1 and 0", i, summary.Skipped, len(summary.Files))
		}
	}
	if len(good.recs) != stored {
		t.Errorf("good sink has %d records after reruns, want %d", len(good.recs), stored)
	}
	if len(note.messages) != 1 {
		t.Errorf("summary posted %d times, want 1", len(note.messages))
	}

	// A fresh runner reads the failure back from the state file.
	if summary, err := NewRunner(cfg, sink.Multi{good, bad}, discardLogger()).Run(context.Background()); err != nil || summary.Skipped != 1 {
		t.Errorf("fresh runner: summary=%+v err=%v", summary, err)
	}

	writeExport(t, inbox, "chat.txt",
		"12/05/23, 9:15 PM - Alice: Hello",
		"12/05/23, 9:17 PM - Carol: Bye",
	)
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run after change: %v", err)
	}
	if len(summary.Files) != 1 || summary.Failed() != 0 {
		t.Errorf("changed file: files=%d failed=%d, want 1 and 0", len(summary.Files), summary.Failed())
	}
	if len(good.recs) != stored+2 {
		t.Errorf("good sink has %d records, want %d", len(good.recs), stored+2)
	}
}
