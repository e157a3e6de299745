package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alvmarrod/bechdel-mirror/internal/storage"
	"github.com/sirupsen/logrus"
)

// Store holds year counts and movies in memory. It satisfies the same
// collaborator contracts as storage.Storage and backs dry runs and tests.
type Store struct {
	counts    map[int]*storage.PersistedYearCount // year -> row
	movies    map[int]storage.MovieRecord         // bechdel_id -> record
	idCounter int                                 // auto-increment for row IDs
	mu        sync.RWMutex

	// FailLookups makes GetCount return this error, for exercising
	// persistence failures.
	FailLookups error
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		counts: make(map[int]*storage.PersistedYearCount),
		movies: make(map[int]storage.MovieRecord),
	}
}

// EnsureSchema is a no-op; maps are ready on construction
func (s *Store) EnsureSchema(ctx context.Context) error {
	return nil
}

// GetCount returns the count for a year and whether it exists
func (s *Store) GetCount(ctx context.Context, year int) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.FailLookups != nil {
		return 0, false, s.FailLookups
	}

	row, exists := s.counts[year]
	if !exists {
		return 0, false, nil
	}
	return row.Count, true, nil
}

// GetYearCount returns a copy of the row for a year, nil if not found
func (s *Store) GetYearCount(year int) *storage.PersistedYearCount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if row, exists := s.counts[year]; exists {
		rowCopy := *row
		return &rowCopy
	}
	return nil
}

// InsertYearCount creates a row for a new year
func (s *Store) InsertYearCount(ctx context.Context, year, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(year, count)
}

func (s *Store) insertLocked(year, count int) error {
	if _, exists := s.counts[year]; exists {
		return fmt.Errorf("year %d already exists", year)
	}

	now := time.Now()
	s.idCounter++
	s.counts[year] = &storage.PersistedYearCount{
		ID:         s.idCounter,
		Year:       year,
		Count:      count,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	return nil
}

// UpdateYearCount replaces the count for an existing year
func (s *Store) UpdateYearCount(ctx context.Context, year, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(year, count)
}

func (s *Store) updateLocked(year, count int) error {
	row, exists := s.counts[year]
	if !exists {
		return fmt.Errorf("failed to update count for year %d: %w", year, storage.ErrYearNotFound)
	}

	if row.Count != count {
		row.Count = count
		row.ModifiedAt = time.Now()
	}
	return nil
}

// ApplyYearCounts applies all mutations or none of them
func (s *Store) ApplyYearCounts(ctx context.Context, mutations []storage.YearCountMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Snapshot for rollback
	backup := make(map[int]storage.PersistedYearCount, len(s.counts))
	for year, row := range s.counts {
		backup[year] = *row
	}
	backupCounter := s.idCounter

	for _, m := range mutations {
		var err error
		switch m.Kind {
		case storage.MutationInsert:
			err = s.insertLocked(m.Year, m.Count)
		case storage.MutationUpdate:
			err = s.updateLocked(m.Year, m.Count)
		default:
			err = fmt.Errorf("unknown mutation kind %d for year %d", m.Kind, m.Year)
		}

		if err != nil {
			s.counts = make(map[int]*storage.PersistedYearCount, len(backup))
			for year, row := range backup {
				rowCopy := row
				s.counts[year] = &rowCopy
			}
			s.idCounter = backupCounter
			return err
		}
	}
	return nil
}

// ListYearCounts returns copies of all rows ordered by year
func (s *Store) ListYearCounts(ctx context.Context) ([]*storage.PersistedYearCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*storage.PersistedYearCount, 0, len(s.counts))
	for _, row := range s.counts {
		rowCopy := *row
		rows = append(rows, &rowCopy)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Year < rows[j].Year })
	return rows, nil
}

// SaveMovies stores records whose bechdel_id is not yet known
func (s *Store) SaveMovies(ctx context.Context, movies []storage.MovieRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range movies {
		if !m.BechdelID.Valid {
			return 0, fmt.Errorf("movie at index %d has no bechdel_id", i)
		}
	}

	inserted := 0
	for _, m := range movies {
		if _, exists := s.movies[m.BechdelID.V]; exists {
			continue
		}
		s.movies[m.BechdelID.V] = m
		inserted++
	}
	return inserted, nil
}

// Movies returns all stored movies ordered by bechdel_id
func (s *Store) Movies() []storage.MovieRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movies := make([]storage.MovieRecord, 0, len(s.movies))
	for _, m := range s.movies {
		movies = append(movies, m)
	}
	sort.Slice(movies, func(i, j int) bool { return movies[i].BechdelID.V < movies[j].BechdelID.V })
	return movies
}

// LoadFromStorage populates the year counts and the known movie IDs
// from SQL storage (for dry runs). Seeded movies carry only BechdelID.
func (s *Store) LoadFromStorage(ctx context.Context, store *storage.Storage) error {
	logrus.Info("Loading year counts and movie IDs from database into memory...")

	rows, err := store.ListYearCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load year counts: %w", err)
	}

	ids, err := store.ListMovieIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load movie ids: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		s.counts[row.Year] = row

		// Update counter to avoid ID conflicts
		if row.ID > s.idCounter {
			s.idCounter = row.ID
		}
	}

	for _, id := range ids {
		s.movies[id] = storage.MovieRecord{BechdelID: sql.Null[int]{V: id, Valid: true}}
	}

	logrus.Infof("Loaded %d year counts and %d movie IDs into memory", len(rows), len(ids))
	return nil
}
