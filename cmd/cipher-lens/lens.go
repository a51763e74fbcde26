package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/CZERTAINLY/cipher-lens/internal/bom"
	"github.com/CZERTAINLY/cipher-lens/internal/catalog"
	"github.com/CZERTAINLY/cipher-lens/internal/model"
	"github.com/CZERTAINLY/cipher-lens/internal/parallel"
	"github.com/CZERTAINLY/cipher-lens/internal/report"
	"github.com/CZERTAINLY/cipher-lens/internal/sslscan"
	"github.com/CZERTAINLY/cipher-lens/internal/store"

	"golang.org/x/sync/errgroup"
)

// Options are the per invocation switches of scan, discover and assess
type Options struct {
	NoSecure   bool
	NoScan     bool
	Strength   bool
	Ext        string
	Output     string
	ReportFile string
	CBOM       string
	Format     report.Format
}

type enumerator interface {
	Enumerate(ctx context.Context, target model.TLSTarget) (string, error)
}

// Lens is a component, which encapsulates the assessment pipeline and executes it.
type Lens struct {
	opts       Options
	workers    int
	fetcher    catalog.Fetcher
	enumerator enumerator
	stats      model.Stats
	stdout     io.Writer
	closeDB    func()
}

func NewLens(ctx context.Context, config model.Config, opts Options, stats model.Stats, stdout io.Writer) (*Lens, error) {
	if config.Version != 0 {
		return nil, fmt.Errorf("config version %d is not supported, expected 0", config.Version)
	}
	if opts.Ext == "" {
		opts.Ext = sslscan.DefaultExt
	}
	if opts.Output == "" {
		opts.Output = "."
	}

	db, closeDB, err := cacheDB(ctx, config, nil, "")
	if err != nil {
		return nil, err
	}

	enum := sslscan.New(opts.Output).
		WithBinary(config.Enumerator.Binary).
		WithArgs(config.Enumerator.Args...).
		WithTimeout(config.Enumerator.TimeoutDuration()).
		WithExt(opts.Ext)

	return &Lens{
		opts:       opts,
		workers:    config.Enumerator.Workers,
		fetcher:    newFetcher(config, db),
		enumerator: enum,
		stats:      stats,
		stdout:     stdout,
		closeDB:    closeDB,
	}, nil
}

// newFetcher returns the catalog client, wrapped by the sqlite cache when
// db is not nil.
func newFetcher(config model.Config, db *sql.DB) catalog.Fetcher {
	client := catalog.NewClient(config.Classifier.URL).
		WithTimeout(config.Classifier.TimeoutDuration())
	if db == nil {
		return client
	}
	return catalog.NewCached(client, store.NewCatalog(db), config.Classifier.Cache.TTLDuration())
}

// cacheDB opens the catalog cache database. It returns nil when the cache is
// disabled and reuses shared when the cache lives in the file at sharedPath,
// so one sqlite file never gets two connection pools. The returned close
// function is never nil.
func cacheDB(ctx context.Context, config model.Config, shared *sql.DB, sharedPath string) (*sql.DB, func(), error) {
	nop := func() {}
	cache := config.Classifier.Cache
	if !cache.Enabled {
		return nil, nop, nil
	}
	if shared != nil && filepath.Clean(cache.Path) == filepath.Clean(sharedPath) {
		return shared, nop, nil
	}

	db, err := store.InitDB(ctx, cache.Path)
	if err != nil {
		return nil, nop, fmt.Errorf("failure initializing sqlite database: %w", err)
	}
	return db, func() {
		if err := db.Close(); err != nil {
			slog.ErrorContext(ctx, "Got error while closing *sql.DB.", slog.String("error", err.Error()))
		}
	}, nil
}

func (l *Lens) Close() {
	l.closeDB()
}

// Scan enumerates ciphers of all targets unless NoScan is set, then
// assesses every document found in the output directory. The catalog is
// fetched while sslscan runs.
func (l *Lens) Scan(ctx context.Context, targets []model.TLSTarget) error {
	if err := os.MkdirAll(l.opts.Output, 0o755); err != nil {
		return &model.DocumentError{Path: l.opts.Output, Err: fmt.Errorf("%w: %w", model.ErrIO, err)}
	}

	var strengths catalog.StrengthMap
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		strengths, err = l.fetcher.Fetch(gctx)
		return err
	})
	if !l.opts.NoScan {
		g.Go(func() error {
			return l.enumerate(gctx, targets)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var paths []string
	for path, err := range sslscan.Documents(ctx, l.opts.Output, l.opts.Ext) {
		if err != nil {
			return err
		}
		paths = append(paths, path)
	}
	slog.DebugContext(ctx, "cipher-scan documents collected", "dir", l.opts.Output, "documents", len(paths))

	records, err := l.records(ctx, paths)
	if err != nil {
		return err
	}
	return l.emit(ctx, records, strengths)
}

// Assess is Scan without the enumeration for explicitly given documents.
func (l *Lens) Assess(ctx context.Context, paths ...string) error {
	var strengths catalog.StrengthMap
	var records []model.CipherRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		strengths, err = l.fetcher.Fetch(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = l.records(gctx, paths)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return l.emit(ctx, records, strengths)
}

// enumerate runs sslscan for all targets with a bounded concurrency. A failed
// target is logged and skipped.
func (l *Lens) enumerate(ctx context.Context, targets []model.TLSTarget) error {
	m := parallel.NewMap(ctx, l.workers, l.enumerator.Enumerate)
	for path, err := range m.Iter(slice(targets)) {
		l.stats.IncTargets()
		if err != nil {
			l.stats.IncErrTargets()
			if errors.Is(err, model.ErrExternalTool) && ctx.Err() == nil {
				slog.WarnContext(ctx, "cipher enumeration failed: skipping target", "error", err)
				continue
			}
			return err
		}
		slog.DebugContext(ctx, "cipher enumeration done", "output", path)
	}
	return ctx.Err()
}

// records parses all documents in order. The first malformed or unreadable
// document fails the whole run.
func (l *Lens) records(ctx context.Context, paths []string) ([]model.CipherRecord, error) {
	var ret []model.CipherRecord
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := sslscan.ParseFile(ctx, path)
		if err != nil {
			l.stats.IncErrDocuments()
			return nil, err
		}
		l.stats.IncDocuments()
		ret = append(ret, sslscan.Records(doc)...)
	}
	return ret, nil
}

func (l *Lens) emit(ctx context.Context, records []model.CipherRecord, strengths catalog.StrengthMap) error {
	rep, err := report.Build(records, strengths, l.opts.NoSecure)
	if err != nil {
		return err
	}
	listed, suppressed := rep.Ciphers()
	l.stats.AddCiphers(listed + suppressed)
	l.stats.AddSuppressedCiphers(suppressed)

	if err := ctx.Err(); err != nil {
		return err
	}
	sinks := report.NewSinks(l.stdout, l.opts.ReportFile)
	if err := sinks.Emit(rep, report.Options{Format: l.opts.Format, Strength: l.opts.Strength}); err != nil {
		return err
	}

	if l.opts.CBOM != "" {
		if err := l.cbom(ctx, records, strengths); err != nil {
			return err
		}
	}

	for key, value := range l.stats.Stats() {
		slog.DebugContext(ctx, "stats", key, value)
	}
	return nil
}

// cbom stores every record regardless of NoSecure
func (l *Lens) cbom(ctx context.Context, records []model.CipherRecord, strengths catalog.StrengthMap) error {
	all, err := report.Build(records, strengths, false)
	if err != nil {
		return err
	}
	b, err := bom.NewBuilder("1.6")
	if err != nil {
		return err
	}
	f, err := os.Create(l.opts.CBOM)
	if err != nil {
		return &model.DocumentError{Path: l.opts.CBOM, Err: fmt.Errorf("%w: %w", model.ErrIO, err)}
	}
	if err := b.AppendReport(ctx, all).AsJSON(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("formatting BOM as JSON: %w", err)
	}
	if err := f.Close(); err != nil {
		return &model.DocumentError{Path: l.opts.CBOM, Err: fmt.Errorf("%w: %w", model.ErrIO, err)}
	}
	return nil
}

func slice[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, v := range s {
			if !yield(v, nil) {
				return
			}
		}
	}
}
