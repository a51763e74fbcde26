package catalog

import (
	"context"
	"log/slog"
	"time"
)

// Store persists the catalog between runs
type Store interface {
	LoadCatalog(ctx context.Context) ([]Entry, time.Time, error)
	SaveCatalog(ctx context.Context, entries []Entry, fetched time.Time) error
}

// Cached is a Fetcher, which serves the catalog from a Store while it is
// younger than ttl and fetches a new one otherwise.
type Cached struct {
	fetcher Fetcher
	store   Store
	ttl     time.Duration
	now     func() time.Time
}

func NewCached(fetcher Fetcher, store Store, ttl time.Duration) Cached {
	return Cached{
		fetcher: fetcher,
		store:   store,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Fetch implements Fetcher. Failures of the store are logged and the
// catalog is fetched instead, a failure to fetch is returned as is.
func (c Cached) Fetch(ctx context.Context) (StrengthMap, error) {
	entries, fetched, err := c.store.LoadCatalog(ctx)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "loading cached catalog", "error", err)
	case len(entries) > 0 && c.now().Sub(fetched) < c.ttl:
		slog.DebugContext(ctx, "using cached catalog", "fetched", fetched, "entries", len(entries))
		return NewStrengthMap(entries), nil
	}

	m, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return StrengthMap{}, err
	}
	if err := c.store.SaveCatalog(ctx, m.Entries(), c.now()); err != nil {
		slog.WarnContext(ctx, "storing catalog", "error", err)
	}
	return m, nil
}
