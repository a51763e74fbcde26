package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/CZERTAINLY/cipher-lens/internal/catalog"
	"github.com/CZERTAINLY/cipher-lens/internal/model"
	"github.com/CZERTAINLY/cipher-lens/internal/store"

	"github.com/stretchr/testify/require"
)

const specialFilename = ":memory:"

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDB(t.Context(), specialFilename)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func TestInitDB(t *testing.T) {
	t.Run("fail", func(t *testing.T) {
		t.Parallel()
		db, err := store.InitDB(t.Context(), "/non/existing/path")
		require.Error(t, err)
		require.Nil(t, db)
	})

	t.Run("file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "state.db")
		db, err := store.InitDB(t.Context(), path)
		require.NoError(t, err)
		require.NoError(t, store.SaveAssessment(t.Context(), db, store.Assessment{UUID: "uuid-1", Created: time.Now(), Report: []byte(`{}`)}))
		require.NoError(t, db.Close())

		// reopening keeps the data
		db, err = store.InitDB(t.Context(), path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		_, err = store.GetAssessment(t.Context(), db, "uuid-1")
		require.NoError(t, err)
	})

	t.Run("fail canceled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		db, err := store.InitDB(ctx, specialFilename)
		require.Error(t, err)
		require.Nil(t, db)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	c := store.NewCatalog(db)

	entries, fetched, err := c.LoadCatalog(t.Context())
	require.NoError(t, err)
	require.Empty(t, entries)
	require.True(t, fetched.IsZero())

	first := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	err = c.SaveCatalog(t.Context(), []catalog.Entry{
		{ID: "C02F", Name: "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", OpenSSLName: "ECDHE-RSA-AES128-GCM-SHA256", Strength: model.StrengthRecommended},
		{ID: "0x000a", Name: "TLS_RSA_WITH_3DES_EDE_CBC_SHA", OpenSSLName: "DES-CBC3-SHA", Strength: model.StrengthInsecure},
	}, first)
	require.NoError(t, err)

	entries, fetched, err = c.LoadCatalog(t.Context())
	require.NoError(t, err)
	require.True(t, first.Equal(fetched))
	require.Equal(t, []catalog.Entry{
		{ID: "000A", Name: "TLS_RSA_WITH_3DES_EDE_CBC_SHA", OpenSSLName: "DES-CBC3-SHA", Strength: model.StrengthInsecure},
		{ID: "C02F", Name: "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", OpenSSLName: "ECDHE-RSA-AES128-GCM-SHA256", Strength: model.StrengthRecommended},
	}, entries)

	// save replaces the whole catalog
	second := first.Add(24 * time.Hour)
	err = c.SaveCatalog(t.Context(), []catalog.Entry{
		{ID: "1301", Name: "TLS_AES_128_GCM_SHA256", Strength: model.Strength("deprecated")},
	}, second)
	require.NoError(t, err)

	entries, fetched, err = c.LoadCatalog(t.Context())
	require.NoError(t, err)
	require.True(t, second.Equal(fetched))
	require.Len(t, entries, 1)
	require.Equal(t, model.Strength("deprecated"), entries[0].Strength)
}

func TestCatalog_Cached(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	c := store.NewCatalog(db)
	err := c.SaveCatalog(t.Context(), []catalog.Entry{
		{ID: "C02F", Name: "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", Strength: model.StrengthRecommended},
	}, time.Now())
	require.NoError(t, err)

	// nil fetcher: a fresh cache never reaches it
	m, err := catalog.NewCached(nil, c, time.Hour).Fetch(t.Context())
	require.NoError(t, err)
	s, err := m.Strength("0xc02f")
	require.NoError(t, err)
	require.Equal(t, model.StrengthRecommended, s)
}

func TestAssessment(t *testing.T) {
	t.Parallel()

	type given struct {
		setup func(t *testing.T, db *sql.DB)
		uuid  string
	}
	type then struct {
		err error
	}

	save := func(uuid string) func(t *testing.T, db *sql.DB) {
		return func(t *testing.T, db *sql.DB) {
			t.Helper()
			require.NoError(t, store.SaveAssessment(t.Context(), db, store.Assessment{
				UUID:     uuid,
				Created:  time.Unix(1700000000, 0),
				NoSecure: true,
				Report:   []byte(`{"groups":[]}`),
			}))
		}
	}

	var testCases = []struct {
		scenario string
		given    given
		then     then
	}{
		{
			scenario: "existing",
			given:    given{setup: save("uuid-1"), uuid: "uuid-1"},
		},
		{
			scenario: "missing",
			given:    given{setup: save("uuid-1"), uuid: "uuid-2"},
			then:     then{err: store.ErrNotFound},
		},
		{
			scenario: "empty db",
			given:    given{setup: func(*testing.T, *sql.DB) {}, uuid: "uuid-1"},
			then:     then{err: store.ErrNotFound},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			db := setupTestDB(t)
			tc.given.setup(t, db)

			row, err := store.GetAssessment(t.Context(), db, tc.given.uuid)
			if tc.then.err != nil {
				require.ErrorIs(t, err, tc.then.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.given.uuid, row.UUID)
			require.True(t, row.NoSecure)
			require.Equal(t, int64(1700000000), row.Created.Unix())
			require.JSONEq(t, `{"groups":[]}`, string(row.Report))
			require.Contains(t, row.String(), `uuid: "uuid-1"`)
		})
	}
}

func TestSaveAssessment_Twice(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	a := store.Assessment{UUID: "uuid-1", Created: time.Now(), Report: []byte(`{}`)}
	require.NoError(t, store.SaveAssessment(t.Context(), db, a))
	require.ErrorIs(t, store.SaveAssessment(t.Context(), db, a), store.ErrAlreadyExists)
}

func TestDeleteAssessment(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	require.NoError(t, store.SaveAssessment(t.Context(), db, store.Assessment{UUID: "uuid-1", Created: time.Now(), Report: []byte(`{}`)}))

	require.NoError(t, store.DeleteAssessment(t.Context(), db, "uuid-1"))
	require.ErrorIs(t, store.DeleteAssessment(t.Context(), db, "uuid-1"), store.ErrNotFound)
	_, err := store.GetAssessment(t.Context(), db, "uuid-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTx_Rollback(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	err := store.Tx(t.Context(), db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO assessments (uuid, created, nosecure, report) VALUES ('uuid-1', 0, false, '{}')`)
		require.NoError(t, err)
		return sql.ErrConnDone
	})
	require.ErrorIs(t, err, sql.ErrConnDone)
	_, err = store.GetAssessment(t.Context(), db, "uuid-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}
