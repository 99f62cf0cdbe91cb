package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
)

// FileSummary is the outcome of importing one export file.
type FileSummary struct {
	Path      string     `json:"path"`
	Records   int        `json:"records"`
	Written   int        `json:"written"`
	Unparsed  int        `json:"unparsed"`
	System    int        `json:"system"`
	Media     int        `json:"media"`
	FirstDate *chat.Date `json:"first_date,omitempty"`
	LastDate  *chat.Date `json:"last_date,omitempty"`
	Err       string     `json:"error,omitempty"`
}

func (fs *FileSummary) observe(rec chat.Record) {
	d := rec.DatePartition
	if d == nil {
		return
	}
	if fs.FirstDate == nil || d.Time().Before(fs.FirstDate.Time()) {
		v := *d
		fs.FirstDate = &v
	}
	if fs.LastDate == nil || d.Time().After(fs.LastDate.Time()) {
		v := *d
		fs.LastDate = &v
	}
}

// RunSummary is the outcome of one import run.
type RunSummary struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	DryRun     bool          `json:"dry_run"`
	Skipped    int           `json:"skipped"`
	Files      []FileSummary `json:"files"`
}

// Totals adds up the per-file counters.
func (s *RunSummary) Totals() FileSummary {
	var t FileSummary
	for _, f := range s.Files {
		t.Records += f.Records
		t.Written += f.Written
		t.Unparsed += f.Unparsed
		t.System += f.System
		t.Media += f.Media
	}
	return t
}

// Failed counts files whose import returned an error.
func (s *RunSummary) Failed() int {
	n := 0
	for _, f := range s.Files {
		if f.Err != "" {
			n++
		}
	}
	return n
}

// FormatSummary renders a Slack-flavoured summary of a run.
func FormatSummary(s *RunSummary) string {
	var sb strings.Builder
	sb.WriteString("*Chat Import Summary*")
	if s.DryRun {
		sb.WriteString(" (dry run)")
	}
	sb.WriteString("\n")

	t := s.Totals()
	fmt.Fprintf(&sb, "%d files, %d records (%d system, %d media, %d unparsed)",
		len(s.Files), t.Records, t.System, t.Media, t.Unparsed)
	if s.Skipped > 0 {
		fmt.Fprintf(&sb, ", %d unchanged skipped", s.Skipped)
	}
	sb.WriteString("\n")

	for _, f := range s.Files {
		fmt.Fprintf(&sb, "  - %s: %d records", filepath.Base(f.Path), f.Records)
		if f.FirstDate != nil && f.LastDate != nil {
			fmt.Fprintf(&sb, " [%s .. %s]", f.FirstDate, f.LastDate)
		}
		if f.Unparsed > 0 {
			fmt.Fprintf(&sb, " (%d unparsed)", f.Unparsed)
		}
		if f.Err != "" {
			sb.WriteString(" FAILED")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatErrors lists failed files, or returns "" if none failed.
func FormatErrors(s *RunSummary) string {
	var sb strings.Builder
	for _, f := range s.Files {
		if f.Err == "" {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("*Errors*\n")
		}
		fmt.Fprintf(&sb, "  - %s: %s\n", filepath.Base(f.Path), f.Err)
	}
	return sb.String()
}
