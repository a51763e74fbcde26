package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/CZERTAINLY/cipher-lens/internal/catalog"
	"github.com/CZERTAINLY/cipher-lens/internal/model"

	gocron "github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultRefreshTimeout  = 2 * time.Minute
)

// Server exposes the assessment engine over HTTP. It keeps the last
// successfully fetched catalog in memory and refreshes it on a schedule.
type Server struct {
	cfg     model.Server
	fetcher catalog.Fetcher
	db      *sql.DB
	stats   model.Stats

	mx        sync.RWMutex
	strengths catalog.StrengthMap
	refreshed time.Time

	scheduler gocron.Scheduler
}

// New returns a server storing assessments in db. The caller owns db, it
// may be shared with the catalog cache of the fetcher.
func New(cfg model.Server, db *sql.DB, fetcher catalog.Fetcher, stats model.Stats) (*Server, error) {
	switch {
	case db == nil:
		return nil, errors.New("database is required")
	case fetcher == nil:
		return nil, errors.New("catalog fetcher is required")
	case stats == nil:
		return nil, errors.New("stats are required")
	}

	return &Server{
		cfg:     cfg,
		fetcher: fetcher,
		db:      db,
		stats:   stats,
	}, nil
}

// Refresh fetches the catalog. On failure the previous catalog stays in use.
func (s *Server) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultRefreshTimeout)
	defer cancel()

	m, err := s.fetcher.Fetch(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "refreshing cipher suite catalog failed: keeping the previous one", "error", err)
		return err
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	s.strengths = m
	s.refreshed = time.Now()
	slog.InfoContext(ctx, "cipher suite catalog refreshed", "entries", m.Len())
	return nil
}

func (s *Server) catalog() (catalog.StrengthMap, time.Time) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.strengths, s.refreshed
}

// Start refreshes the catalog once and schedules next refreshes when
// configured. A failed first refresh is not fatal.
func (s *Server) Start(ctx context.Context) error {
	_ = s.Refresh(ctx)

	scheduler, err := newScheduler(ctx, s.cfg.Refresh, func() {
		_ = s.Refresh(ctx)
	})
	if err != nil {
		return err
	}
	if scheduler == nil {
		return nil
	}
	s.scheduler = scheduler
	s.scheduler.Start()
	return nil
}

// ListenAndServe serves the API on cfg.Addr until ctx is canceled
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is like ListenAndServe with a listener provided by the caller
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close stops the scheduled refreshes
func (s *Server) Close(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Shutdown(); err != nil {
		slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
	}
}

// newScheduler returns nil when no refresh is configured
func newScheduler(ctx context.Context, cfgp *model.Refresh, refresh func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, nil
	}
	cfg := *cfgp
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		if _, err := model.ParseCron(cfg.Cron); err != nil {
			return nil, fmt.Errorf("parsing server.refresh.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	case cfg.Duration != "":
		d, err := cfgp.Interval()
		if err != nil {
			return nil, fmt.Errorf("parsing server.refresh.duration: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("server.refresh.duration must be positive, got %s", d)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(refresh),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
