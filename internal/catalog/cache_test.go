package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CZERTAINLY/cipher-lens/internal/catalog"
	"github.com/CZERTAINLY/cipher-lens/internal/catalog/mock"
	"github.com/CZERTAINLY/cipher-lens/internal/model"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type memStore struct {
	entries []catalog.Entry
	fetched time.Time
	loadErr error
	saved   int
}

func (s *memStore) LoadCatalog(context.Context) ([]catalog.Entry, time.Time, error) {
	return s.entries, s.fetched, s.loadErr
}

func (s *memStore) SaveCatalog(_ context.Context, entries []catalog.Entry, fetched time.Time) error {
	s.entries = entries
	s.fetched = fetched
	s.saved++
	return nil
}

func TestCached(t *testing.T) {
	t.Parallel()

	fresh := catalog.NewStrengthMap([]catalog.Entry{
		{ID: "C02F", Name: "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", Strength: model.StrengthRecommended},
		{ID: "000A", Name: "TLS_RSA_WITH_3DES_EDE_CBC_SHA", Strength: model.StrengthInsecure},
	})
	cached := []catalog.Entry{
		{ID: "C02F", Name: "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", Strength: model.StrengthSecure},
	}

	type given struct {
		store   *memStore
		fetches int
		err     error
	}
	type then struct {
		len   int
		saved int
		err   error
	}
	var testCases = []struct {
		scenario string
		given    given
		then     then
	}{
		{
			scenario: "empty cache",
			given:    given{store: &memStore{}, fetches: 1},
			then:     then{len: 2, saved: 1},
		},
		{
			scenario: "fresh cache",
			given:    given{store: &memStore{entries: cached, fetched: time.Now().Add(-time.Hour)}},
			then:     then{len: 1},
		},
		{
			scenario: "stale cache",
			given:    given{store: &memStore{entries: cached, fetched: time.Now().Add(-25 * time.Hour)}, fetches: 1},
			then:     then{len: 2, saved: 1},
		},
		{
			scenario: "broken cache",
			given:    given{store: &memStore{loadErr: errors.New("database is locked")}, fetches: 1},
			then:     then{len: 2, saved: 1},
		},
		{
			scenario: "fetch failure",
			given:    given{store: &memStore{entries: cached, fetched: time.Now().Add(-48 * time.Hour)}, fetches: 1, err: model.ErrClassificationUnavailable},
			then:     then{err: model.ErrClassificationUnavailable},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			fetcher := mock.NewMockFetcher(ctrl)
			if tc.given.fetches > 0 {
				if tc.given.err != nil {
					fetcher.EXPECT().Fetch(gomock.Any()).Return(catalog.StrengthMap{}, tc.given.err).Times(tc.given.fetches)
				} else {
					fetcher.EXPECT().Fetch(gomock.Any()).Return(fresh, nil).Times(tc.given.fetches)
				}
			}

			m, err := catalog.NewCached(fetcher, tc.given.store, 24*time.Hour).Fetch(t.Context())
			if tc.then.err != nil {
				require.ErrorIs(t, err, tc.then.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then.len, m.Len())
			require.Equal(t, tc.then.saved, tc.given.store.saved)
		})
	}
}
