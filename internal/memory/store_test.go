package memory

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alvmarrod/bechdel-mirror/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyYearCountsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.InsertYearCount(ctx, 2019, 4))

	err := s.ApplyYearCounts(ctx, []storage.YearCountMutation{
		{Kind: storage.MutationUpdate, Year: 2019, Count: 5},
		{Kind: storage.MutationUpdate, Year: 2030, Count: 1},
	})
	require.ErrorIs(t, err, storage.ErrYearNotFound)

	count, found, err := s.GetCount(ctx, 2019)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 4, count)
}

func TestUpdateTouchesModifiedOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.InsertYearCount(ctx, 2020, 18))
	before := s.GetYearCount(2020)

	require.NoError(t, s.UpdateYearCount(ctx, 2020, 18))
	assert.Equal(t, before.ModifiedAt, s.GetYearCount(2020).ModifiedAt)

	require.NoError(t, s.UpdateYearCount(ctx, 2020, 19))
	assert.Equal(t, 19, s.GetYearCount(2020).Count)
}

func TestFailLookups(t *testing.T) {
	s := NewStore()
	s.FailLookups = errors.New("database is locked")

	_, _, err := s.GetCount(context.Background(), 2020)
	require.EqualError(t, err, "database is locked")
}

func TestSaveMoviesDeduplicates(t *testing.T) {
	s := NewStore()
	rec := storage.MovieRecord{BechdelID: sql.Null[int]{V: 9036, Valid: true}}

	n, err := s.SaveMovies(context.Background(), []storage.MovieRecord{rec, rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, s.Movies(), 1)

	_, err = s.SaveMovies(context.Background(), []storage.MovieRecord{{}})
	require.Error(t, err)
}

func TestLoadFromStorage(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewStorage(storage.DriverSQLite, filepath.Join(t.TempDir(), "load.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.InsertYearCount(ctx, 1999, 7))
	require.NoError(t, db.InsertYearCount(ctx, 2000, 9))

	s := NewStore()
	require.NoError(t, s.LoadFromStorage(ctx, db))

	rows, err := s.ListYearCounts(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1999, rows[0].Year)

	// New rows get IDs past the loaded ones
	require.NoError(t, s.InsertYearCount(ctx, 2001, 1))
	assert.Greater(t, s.GetYearCount(2001).ID, rows[1].ID)
}

func TestLoadFromStorageSeedsStoredMovies(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewStorage(storage.DriverSQLite, filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.EnsureSchema(ctx))

	stored := storage.MovieRecord{
		BechdelID: sql.Null[int]{V: 9036, Valid: true},
		Title:     sql.Null[string]{V: "All the Bright Places", Valid: true},
	}
	_, err = db.SaveMovies(ctx, []storage.MovieRecord{stored})
	require.NoError(t, err)

	s := NewStore()
	require.NoError(t, s.LoadFromStorage(ctx, db))

	fresh := storage.MovieRecord{BechdelID: sql.Null[int]{V: 9100, Valid: true}}
	inserted, err := s.SaveMovies(ctx, []storage.MovieRecord{stored, fresh})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Len(t, s.Movies(), 2)

	// Nothing reached the database
	n, err := db.CountMovies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
