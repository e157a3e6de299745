package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrYearNotFound is returned when an update targets a year with no row
var ErrYearNotFound = errors.New("year not found")

// Storage handles all database operations
type Storage struct {
	db     *sql.DB
	driver string
}

// NewStorage opens a connection for the given driver and verifies it.
// The schema is not created here; call EnsureSchema.
func NewStorage(driver, dsn string) (*Storage, error) {
	switch driver {
	case DriverSQLite:
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = dsn + sep + "_journal_mode=WAL&_synchronous=NORMAL"
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single-owner job, one connection keeps SQLite writes serialized
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Storage{db: db, driver: driver}, nil
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS year_counts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		year INTEGER UNIQUE NOT NULL,
		count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		modified_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS movies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bechdel_id INTEGER UNIQUE NOT NULL,
		bechdel_url TEXT,
		title TEXT,
		imdb_url TEXT,
		pass BOOLEAN,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS year_counts (
		id SERIAL PRIMARY KEY,
		year INTEGER UNIQUE NOT NULL,
		count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		modified_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS movies (
		id SERIAL PRIMARY KEY,
		bechdel_id INTEGER UNIQUE NOT NULL,
		bechdel_url TEXT,
		title TEXT,
		imdb_url TEXT,
		pass BOOLEAN,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);
	`

// EnsureSchema creates tables if they don't exist
func (s *Storage) EnsureSchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rebind rewrites ? placeholders into $n for postgres
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetYearCount retrieves the row for a year, returns nil if not found
func (s *Storage) GetYearCount(ctx context.Context, year int) (*PersistedYearCount, error) {
	var row PersistedYearCount
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, year, count, created_at, modified_at
		FROM year_counts
		WHERE year = ?
	`), year).Scan(&row.ID, &row.Year, &row.Count, &row.CreatedAt, &row.ModifiedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get year count: %w", err)
	}

	return &row, nil
}

// GetCount returns the persisted count for a year and whether a row exists
func (s *Storage) GetCount(ctx context.Context, year int) (int, bool, error) {
	row, err := s.GetYearCount(ctx, year)
	if err != nil {
		return 0, false, err
	}
	if row == nil {
		return 0, false, nil
	}
	return row.Count, true, nil
}

// InsertYearCount creates the row for a year seen for the first time
func (s *Storage) InsertYearCount(ctx context.Context, year, count int) error {
	return s.insertYearCount(ctx, s.db, year, count)
}

func (s *Storage) insertYearCount(ctx context.Context, ex execer, year, count int) error {
	_, err := ex.ExecContext(ctx, s.rebind(`
		INSERT INTO year_counts (year, count)
		VALUES (?, ?)
	`), year, count)
	if err != nil {
		return fmt.Errorf("failed to insert count for year %d: %w", year, err)
	}
	return nil
}

// UpdateYearCount replaces the stored count for a year. modified_at only
// moves when the count actually changes.
func (s *Storage) UpdateYearCount(ctx context.Context, year, count int) error {
	return s.updateYearCount(ctx, s.db, year, count)
}

func (s *Storage) updateYearCount(ctx context.Context, ex execer, year, count int) error {
	res, err := ex.ExecContext(ctx, s.rebind(`
		UPDATE year_counts SET
			count = ?,
			modified_at = CASE WHEN count <> ? THEN CURRENT_TIMESTAMP ELSE modified_at END
		WHERE year = ?
	`), count, count, year)
	if err != nil {
		return fmt.Errorf("failed to update count for year %d: %w", year, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("failed to update count for year %d: %w", year, ErrYearNotFound)
	}
	return nil
}

// ApplyYearCounts writes a whole mutation plan in a single transaction.
// Either every mutation lands or none do.
func (s *Storage) ApplyYearCounts(ctx context.Context, mutations []YearCountMutation) error {
	if len(mutations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range mutations {
		switch m.Kind {
		case MutationInsert:
			err = s.insertYearCount(ctx, tx, m.Year, m.Count)
		case MutationUpdate:
			err = s.updateYearCount(ctx, tx, m.Year, m.Count)
		default:
			err = fmt.Errorf("unknown mutation kind %d for year %d", m.Kind, m.Year)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit year counts: %w", err)
	}
	return nil
}

// ListYearCounts returns every persisted year ordered by year
func (s *Storage) ListYearCounts(ctx context.Context) ([]*PersistedYearCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, year, count, created_at, modified_at
		FROM year_counts
		ORDER BY year ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list year counts: %w", err)
	}
	defer rows.Close()

	var counts []*PersistedYearCount
	for rows.Next() {
		var row PersistedYearCount
		if err := rows.Scan(&row.ID, &row.Year, &row.Count, &row.CreatedAt, &row.ModifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan year count: %w", err)
		}
		counts = append(counts, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating year counts: %w", err)
	}

	return counts, nil
}

// SaveMovies appends movie records in one transaction, ignoring any
// bechdel_id that is already stored. Returns the number of new rows.
func (s *Storage) SaveMovies(ctx context.Context, movies []MovieRecord) (int, error) {
	if len(movies) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO movies (bechdel_id, bechdel_url, title, imdb_url, pass)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (bechdel_id) DO NOTHING
	`))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare movie insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i, m := range movies {
		if !m.BechdelID.Valid {
			return 0, fmt.Errorf("movie at index %d has no bechdel_id", i)
		}

		res, err := stmt.ExecContext(ctx,
			int64(m.BechdelID.V),
			nullString(m.BechdelURL),
			nullString(m.Title),
			nullString(m.IMDbURL),
			nullBool(m.Pass),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert movie %d: %w", m.BechdelID.V, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit movies: %w", err)
	}

	return inserted, nil
}

// GetMovie retrieves a movie by bechdel_id, returns nil if not found
func (s *Storage) GetMovie(ctx context.Context, bechdelID int) (*MovieRecord, error) {
	var m MovieRecord
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT bechdel_id, bechdel_url, title, imdb_url, pass
		FROM movies
		WHERE bechdel_id = ?
	`), bechdelID).Scan(&m.BechdelID, &m.BechdelURL, &m.Title, &m.IMDbURL, &m.Pass)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get movie: %w", err)
	}

	return &m, nil
}

// ListMovieIDs returns every stored bechdel_id in ascending order
func (s *Storage) ListMovieIDs(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT bechdel_id FROM movies ORDER BY bechdel_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list movie ids: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan movie id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate movie ids: %w", err)
	}

	return ids, nil
}

// CountMovies returns the number of stored movies
func (s *Storage) CountMovies(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM movies").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count movies: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func nullString(v sql.Null[string]) any {
	if !v.Valid {
		return nil
	}
	return v.V
}

func nullBool(v sql.Null[bool]) any {
	if !v.Valid {
		return nil
	}
	return v.V
}
