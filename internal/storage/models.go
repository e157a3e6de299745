package storage

import (
	"database/sql"
	"time"
)

// YearCount is a freshly scraped (year, movie count) pair. It is never
// persisted directly, only compared against PersistedYearCount.
type YearCount struct {
	Year  int
	Count int
}

// PersistedYearCount is one row of the year_counts table
type PersistedYearCount struct {
	ID         int
	Year       int
	Count      int
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// MovieRecord is a single movie scraped from a year listing page.
// Fields that no link populated stay invalid (unset), which is distinct
// from an empty title or a failing test result.
type MovieRecord struct {
	BechdelID  sql.Null[int]
	BechdelURL sql.Null[string]
	Title      sql.Null[string]
	IMDbURL    sql.Null[string]
	Pass       sql.Null[bool]
}

// Metrics tracks run statistics for export on exit
type Metrics struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	PagesFetched      int       `json:"pages_fetched"`
	PagesFailed       int       `json:"pages_failed"`
	YearsSeen         int       `json:"years_seen"`
	YearsInserted     int       `json:"years_inserted"`
	YearsUpdated      int       `json:"years_updated"`
	YearsUnchanged    int       `json:"years_unchanged"`
	HeadersSkipped    int       `json:"headers_skipped"`
	MoviesExtracted   int       `json:"movies_extracted"`
	MoviesSkipped     int       `json:"movies_skipped"`
	MoviesSaved       int       `json:"movies_saved"`
	TotalFetchTimeMs  int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs    int64     `json:"avg_fetch_time_ms"`
	TerminationReason string    `json:"termination_reason"`
}

// MutationKind distinguishes inserts from updates in a reconciliation plan
type MutationKind int

const (
	MutationInsert MutationKind = iota + 1
	MutationUpdate
)

func (k MutationKind) String() string {
	switch k {
	case MutationInsert:
		return "insert"
	case MutationUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// YearCountMutation is one corrective write against the year_counts table.
// Previous is only meaningful for updates.
type YearCountMutation struct {
	Kind     MutationKind
	Year     int
	Count    int
	Previous int
}
