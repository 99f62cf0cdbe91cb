// Package ingest imports chat export files into record sinks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
	"github.com/MikeSquared-Agency/waexport/internal/hermes"
	"github.com/MikeSquared-Agency/waexport/internal/sink"
)

const defaultPattern = "*.txt"

// Config holds the import configuration.
type Config struct {
	InboxDir   string
	SingleFile string // import one file only; failures are returned
	Pattern    string // base-name glob for export files (default: "*.txt")
	Location   *time.Location
	BatchSize  int
	DryRun     bool
	StatePath  string // empty keeps state in memory
	Force      bool   // re-import files already recorded in state
}

// Publisher announces finished imports.
type Publisher interface {
	PublishImportCompleted(evt hermes.ImportEvent) error
}

// Notifier posts run summaries for humans.
type Notifier interface {
	PostMessage(ctx context.Context, text string) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

// FileSinkFunc opens a sink dedicated to one input file, such as its CSV.
type FileSinkFunc func(input string) (sink.Sink, error)

// Option configures a Runner.
type Option func(*Runner)

func WithPublisher(p Publisher) Option { return func(r *Runner) { r.publisher = p } }
func WithNotifier(n Notifier) Option   { return func(r *Runner) { r.notifier = n } }
func WithFileSink(f FileSinkFunc) Option {
	return func(r *Runner) { r.fileSink = f }
}

// Runner imports export files one at a time.
type Runner struct {
	cfg       Config
	sink      sink.Sink
	fileSink  FileSinkFunc
	publisher Publisher
	notifier  Notifier
	logger    *slog.Logger

	runMu sync.Mutex // one run at a time; guards state
	state *State

	mu   sync.RWMutex
	last *RunSummary
}

// NewRunner creates an import runner writing to s, which may be nil when
// only per-file sinks are used.
func NewRunner(cfg Config, s sink.Sink, logger *slog.Logger, opts ...Option) *Runner {
	if cfg.Pattern == "" {
		cfg.Pattern = defaultPattern
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	r := &Runner{cfg: cfg, sink: s, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LastSummary returns the summary of the most recent completed run.
func (r *Runner) LastSummary() *RunSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Run imports every new or changed export. In directory mode a failing file
// is recorded and skipped; in single-file mode its error is returned. A file
// that failed is not attempted again until it changes, unless Force is set.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.state == nil {
		state, err := LoadState(r.cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		r.state = state
	}
	state := r.state

	files, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	summary := &RunSummary{StartedAt: time.Now().UTC(), DryRun: r.cfg.DryRun}
	r.logger.Info("files discovered", "count", len(files), "dry_run", r.cfg.DryRun)

	for _, path := range files {
		select {
		case <-ctx.Done():
			r.logger.Info("import interrupted, saving state")
			_ = state.Save()
			r.finish(ctx, summary)
			return summary, ctx.Err()
		default:
		}

		info, err := os.Stat(path)
		if err != nil {
			if r.cfg.SingleFile != "" {
				return summary, fmt.Errorf("%w: stat: %w", chat.ErrInputUnavailable, err)
			}
			r.logger.Warn("export disappeared before import", "path", path, "error", err)
			continue
		}
		if !r.cfg.Force && state.IsProcessed(path, info) {
			summary.Skipped++
			continue
		}
		// Part of a failed file may be stored already; wait for a new version.
		if !r.cfg.Force && state.HasFailed(path, info) {
			r.logger.Debug("skipping export that failed before", "path", path)
			summary.Skipped++
			continue
		}

		fs, err := r.importFile(ctx, path)
		summary.Files = append(summary.Files, fs)
		if err != nil {
			r.logger.Error("import failed", "path", path, "error", err)
			state.AddError(fmt.Sprintf("import %s: %v", path, err))
			if errors.Is(err, context.Canceled) {
				_ = state.Save()
				r.finish(ctx, summary)
				return summary, err
			}
			if !r.cfg.DryRun {
				state.MarkFailed(path, info, fs.Written, err)
			}
			if err := state.Save(); err != nil {
				r.logger.Warn("failed to save state", "error", err)
			}
			if r.cfg.SingleFile != "" {
				r.finish(ctx, summary)
				return summary, err
			}
			continue
		}

		r.logger.Info("file imported",
			"path", path,
			"records", fs.Records,
			"unparsed", fs.Unparsed,
			"dry_run", r.cfg.DryRun,
		)
		if !r.cfg.DryRun {
			state.MarkProcessed(path, info, fs.Records)
			r.publish(fs)
		}
		if err := state.Save(); err != nil {
			r.logger.Warn("failed to save state", "error", err)
		}
	}

	r.finish(ctx, summary)

	totals := summary.Totals()
	r.logger.Info("import complete",
		"files", len(summary.Files),
		"skipped", summary.Skipped,
		"records", totals.Records,
		"unparsed", totals.Unparsed,
		"errors", summary.Failed(),
		"dry_run", r.cfg.DryRun,
	)
	return summary, nil
}

func (r *Runner) importFile(ctx context.Context, path string) (FileSummary, error) {
	fs := FileSummary{Path: path}

	var sinks sink.Multi
	var own sink.Sink
	switch {
	case r.cfg.DryRun:
		sinks = sink.Multi{sink.Discard{}}
	default:
		if r.sink != nil {
			sinks = append(sinks, r.sink)
		}
		if r.fileSink != nil {
			s, err := r.fileSink(path)
			if err != nil {
				fs.Err = err.Error()
				return fs, fmt.Errorf("open file sink: %w", err)
			}
			own = s
			sinks = append(sinks, s)
		}
	}

	b := sink.NewBatcher(ctx, sinks, r.cfg.BatchSize)
	stats, err := chat.ParseFile(path, func(rec chat.Record) error {
		fs.observe(rec)
		return b.Add(rec)
	},
		chat.WithLocation(r.cfg.Location),
		chat.WithLogger(r.logger.With("file", filepath.Base(path))),
	)
	if err == nil {
		err = b.Flush()
	}
	if own != nil {
		if cerr := own.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", sink.NameOf(own), cerr)
		}
	}

	fs.Records = stats.Records
	fs.Unparsed = stats.Unparsed
	fs.System = stats.System
	fs.Media = stats.Media
	fs.Written = b.Written()
	if err != nil {
		fs.Err = err.Error()
	}
	return fs, err
}

func (r *Runner) publish(fs FileSummary) {
	if r.publisher == nil {
		return
	}
	evt := hermes.ImportEvent{
		Source:    fs.Path,
		Records:   fs.Records,
		Unparsed:  fs.Unparsed,
		System:    fs.System,
		Media:     fs.Media,
		FirstDate: fs.FirstDate,
		LastDate:  fs.LastDate,
		Timestamp: time.Now().UTC(),
	}
	if err := r.publisher.PublishImportCompleted(evt); err != nil {
		r.logger.Warn("failed to publish import event", "path", fs.Path, "error", err)
	}
}

// finish stores the summary and posts it. If no notifier is configured it
// logs the summary instead.
func (r *Runner) finish(ctx context.Context, summary *RunSummary) {
	summary.FinishedAt = time.Now().UTC()

	r.mu.Lock()
	r.last = summary
	r.mu.Unlock()

	if len(summary.Files) == 0 {
		return
	}

	text := FormatSummary(summary)
	if r.notifier == nil {
		r.logger.Info("import summary (no Slack configured)", "summary", text)
		return
	}

	ts, err := r.notifier.PostMessage(ctx, text)
	if err != nil {
		r.logger.Warn("failed to post import summary to Slack, logging instead",
			"error", err,
			"summary", text,
		)
		return
	}
	if errs := FormatErrors(summary); errs != "" {
		if err := r.notifier.PostThread(ctx, ts, errs); err != nil {
			r.logger.Warn("failed to post import errors to Slack", "error", err)
		}
	}
}

func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %w", chat.ErrInputUnavailable, err)
		}
		return []string{path}, nil
	}

	dir := expandHome(r.cfg.InboxDir)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox %s is not a directory", dir)
	}

	var files []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip errors
		}
		if info.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(r.cfg.Pattern, info.Name()); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("error walking inbox", "dir", dir, "error", err)
	}
	return files, nil
}
