package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/waexport/internal/api"
	"github.com/MikeSquared-Agency/waexport/internal/config"
	"github.com/MikeSquared-Agency/waexport/internal/csvout"
	"github.com/MikeSquared-Agency/waexport/internal/hermes"
	"github.com/MikeSquared-Agency/waexport/internal/ingest"
	"github.com/MikeSquared-Agency/waexport/internal/scheduler"
	"github.com/MikeSquared-Agency/waexport/internal/sink"
	"github.com/MikeSquared-Agency/waexport/internal/slack"
	"github.com/MikeSquared-Agency/waexport/internal/sqlite"
	"github.com/MikeSquared-Agency/waexport/internal/store"
)

const usage = `usage:
  waexport parse [-o out.csv] [-tz Zone] [-dry-run] FILE
  waexport serve`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	var err error
	switch os.Args[1] {
	case "parse":
		err = runParse(cfg, os.Args[2:])
	case "serve":
		err = runServe(cfg)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("waexport failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func runParse(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	out := fs.String("o", "", "CSV output path (default: <input>_messages.csv)")
	tz := fs.String("tz", cfg.Timezone, "timezone the export was written in")
	dryRun := fs.Bool("dry-run", false, "parse and report without writing anything")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("parse needs exactly one FILE argument\n%s", usage)
	}
	input := fs.Arg(0)

	cfg.Timezone = *tz
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := openDeps(ctx, cfg, *dryRun)
	if err != nil {
		return err
	}
	defer deps.Close()

	runner := ingest.NewRunner(ingest.Config{
		SingleFile: input,
		Location:   loc,
		BatchSize:  cfg.BatchSize,
		DryRun:     *dryRun,
		Force:      true,
	}, deps.shared(), slog.Default(), deps.runnerOptions(func(in string) (sink.Sink, error) {
		path := *out
		if path == "" {
			path = csvout.OutputPath(cfg.OutputDir, in)
		}
		return csvout.Create(path)
	})...)

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	totals := summary.Totals()
	slog.Info("export parsed",
		"file", input,
		"records", totals.Records,
		"unparsed", totals.Unparsed,
		"dry_run", *dryRun,
	)
	return nil
}

func runServe(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, _ := cfg.Location()

	slog.Info("waexport starting", "port", cfg.Port, "inbox", cfg.InboxDir, "timezone", cfg.Timezone)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := openDeps(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Slack is optional; without it run summaries are only logged.
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		deps.notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, import summaries will only be logged")
	}

	runner := ingest.NewRunner(ingest.Config{
		InboxDir:  cfg.InboxDir,
		Location:  loc,
		BatchSize: cfg.BatchSize,
		StatePath: cfg.StatePath,
	}, deps.shared(), slog.Default(), deps.runnerOptions(func(in string) (sink.Sink, error) {
		return csvout.Create(csvout.OutputPath(cfg.OutputDir, in))
	})...)

	sched, err := scheduler.New(slog.Default())
	if err != nil {
		return err
	}
	err = sched.Every(ctx, "inbox-scan", cfg.ScanInterval, func(ctx context.Context) {
		if _, err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("inbox scan failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	sched.Start()

	srv := api.NewServer(api.Options{
		Port:           cfg.Port,
		APIToken:       cfg.APIToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Location:       loc,
		Status:         runner,
		Messages:       deps.reader,
		Logger:         slog.Default(),
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("waexport ready", "port", cfg.Port, "scan_interval", cfg.ScanInterval.String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	if err := sched.Stop(); err != nil {
		slog.Warn("scheduler shutdown", "error", err)
	}
	slog.Info("waexport stopped")
	return nil
}

// deps holds the optional backends configured through the environment.
type deps struct {
	sinks    sink.Multi
	reader   api.MessageReader
	hermes   *hermes.Client
	notifier ingest.Notifier
}

func openDeps(ctx context.Context, cfg config.Config, dryRun bool) (*deps, error) {
	d := &deps{}
	if dryRun {
		return d, nil
	}

	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.sinks = append(d.sinks, db)
		if err := db.EnsureSchema(ctx); err != nil {
			d.Close()
			return nil, err
		}
		d.reader = db
		slog.Info("database connected")
	}

	if cfg.SQLitePath != "" {
		lite, err := sqlite.Open(cfg.SQLitePath, slog.Default())
		if err != nil {
			d.Close()
			return nil, err
		}
		d.sinks = append(d.sinks, lite)
		if d.reader == nil {
			d.reader = lite
		}
	}

	if cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			d.Close()
			return nil, err
		}
		d.sinks = append(d.sinks, hc)
		d.hermes = hc
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	return d, nil
}

// shared returns the sink every imported file writes to, or nil if only
// per-file CSVs are produced.
func (d *deps) shared() sink.Sink {
	if len(d.sinks) == 0 {
		return nil
	}
	return d.sinks
}

func (d *deps) runnerOptions(csv ingest.FileSinkFunc) []ingest.Option {
	opts := []ingest.Option{ingest.WithFileSink(csv)}
	if d.hermes != nil {
		opts = append(opts, ingest.WithPublisher(d.hermes))
	}
	if d.notifier != nil {
		opts = append(opts, ingest.WithNotifier(d.notifier))
	}
	return opts
}

func (d *deps) Close() {
	if err := d.sinks.Close(); err != nil {
		slog.Warn("closing sinks", "error", err)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
