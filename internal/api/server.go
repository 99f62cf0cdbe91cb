package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/waexport/internal/chat"
	"github.com/MikeSquared-Agency/waexport/internal/ingest"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// StatusSource reports the most recent import run.
type StatusSource interface {
	LastSummary() *ingest.RunSummary
}

// MessageReader reads stored records back.
type MessageReader interface {
	ListByDate(ctx context.Context, date chat.Date, limit int) ([]chat.Record, error)
	CountByUser(ctx context.Context, date chat.Date) (map[string]int, error)
}

type Options struct {
	Port           int
	APIToken       string // empty disables bearer auth
	MaxUploadBytes int64
	Location       *time.Location
	Status         StatusSource  // optional
	Messages       MessageReader // optional
	Logger         *slog.Logger
}

type Server struct {
	router *chi.Mux
	http   *http.Server
	opts   Options
	logger *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		opts:   opts,
		logger: opts.Logger,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1/waexport", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(opts.APIToken))
			r.Post("/parse", s.parse)
			r.Get("/messages", s.messages)
			r.Get("/messages/counts", s.messageCounts)
		})
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// BearerAuthMiddleware requires "Authorization: Bearer <token>". An empty
// token lets every request through.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"agent": "waexport", "status": "ok"}
	if s.opts.Status != nil {
		if last := s.opts.Status.LastSummary(); last != nil {
			resp["last_run"] = last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type parseResponse struct {
	Records []chat.Record `json:"records"`
	Stats   chat.Stats    `json:"stats"`
}

// parse handles POST /api/v1/waexport/parse with a raw export as the body.
func (s *Server) parse(w http.ResponseWriter, r *http.Request) {
	loc := s.opts.Location
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid tz: %v", err))
			return
		}
		loc = l
	}

	body := http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	recs, stats, err := chat.Collect(body,
		chat.WithLocation(loc),
		chat.WithLogger(s.logger.With("request_id", middleware.GetReqID(r.Context()))),
	)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("export exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read export: %v", err))
		return
	}
	if recs == nil {
		recs = []chat.Record{}
	}

	writeJSON(w, http.StatusOK, parseResponse{Records: recs, Stats: stats})
}

// messages handles GET /api/v1/waexport/messages?date=YYYY-MM-DD&limit=N.
func (s *Server) messages(w http.ResponseWriter, r *http.Request) {
	date, ok := s.messageDate(w, r)
	if !ok {
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := s.opts.Messages.ListByDate(r.Context(), date, limit)
	if err != nil {
		s.logger.Error("list messages failed", "date", date.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "list messages failed")
		return
	}
	if recs == nil {
		recs = []chat.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":     date,
		"count":    len(recs),
		"messages": recs,
	})
}

// messageCounts handles GET /api/v1/waexport/messages/counts?date=YYYY-MM-DD.
func (s *Server) messageCounts(w http.ResponseWriter, r *http.Request) {
	date, ok := s.messageDate(w, r)
	if !ok {
		return
	}

	counts, err := s.opts.Messages.CountByUser(r.Context(), date)
	if err != nil {
		s.logger.Error("count messages failed", "date", date.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "count messages failed")
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":   date,
		"total":  total,
		"counts": counts,
	})
}

// messageDate checks a store is configured and parses the date query
// parameter, writing the error response itself when it returns false.
func (s *Server) messageDate(w http.ResponseWriter, r *http.Request) (chat.Date, bool) {
	if s.opts.Messages == nil {
		writeError(w, http.StatusNotImplemented, "no message store configured")
		return chat.Date{}, false
	}
	date, err := chat.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return chat.Date{}, false
	}
	return date, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
