// Package reconcile diffs freshly scraped per-year counts against the
// persisted counts and plans the minimal corrective writes.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/alvmarrod/bechdel-mirror/internal/storage"
)

var (
	// ErrPersistenceUnavailable marks a failed lookup against the counts
	// store. A missing year is not an error.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrInvalidCount is returned for a negative scraped count
	ErrInvalidCount = errors.New("invalid count")
)

// CountLookup reads the persisted count for a year. found is false, with
// a nil error, when the year has never been stored.
type CountLookup interface {
	GetCount(ctx context.Context, year int) (count int, found bool, err error)
}

// Mutator applies a plan's mutations to the counts store
type Mutator interface {
	ApplyYearCounts(ctx context.Context, mutations []storage.YearCountMutation) error
}

// LookupError wraps a store failure for a specific year
type LookupError struct {
	Year int
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup count for year %d: %v: %v", e.Year, ErrPersistenceUnavailable, e.Err)
}

func (e *LookupError) Unwrap() []error {
	return []error{ErrPersistenceUnavailable, e.Err}
}

// MapLookup is an in-memory CountLookup keyed by year
type MapLookup map[int]int

func (m MapLookup) GetCount(_ context.Context, year int) (int, bool, error) {
	count, ok := m[year]
	return count, ok, nil
}

// Plan is the outcome of a reconciliation: mutations in input order and
// the years that need a movie re-scrape, each listed once.
type Plan struct {
	Mutations []storage.YearCountMutation
	Stale     []int
	Unchanged int

	// Duplicates counts scraped entries folded into an earlier entry
	// for the same year
	Duplicates int
}

// Empty reports whether nothing needs to be written or re-scraped
func (p *Plan) Empty() bool {
	return len(p.Mutations) == 0
}

// Summary counts inserts, updates and unchanged years
func (p *Plan) Summary() (inserted, updated, unchanged int) {
	for _, m := range p.Mutations {
		switch m.Kind {
		case storage.MutationInsert:
			inserted++
		case storage.MutationUpdate:
			updated++
		}
	}
	return inserted, updated, p.Unchanged
}

// Reconcile compares each scraped count with the persisted one, in order:
// absent years become inserts, changed counts become updates, equal
// counts produce nothing. Both inserted and updated years are stale.
//
// A year repeated within scraped is planned once, at its first position,
// using its last scraped count.
func Reconcile(ctx context.Context, scraped []storage.YearCount, lookup CountLookup) (*Plan, error) {
	plan := &Plan{
		Mutations: []storage.YearCountMutation{},
		Stale:     []int{},
	}

	latest := make(map[int]int, len(scraped))
	for _, yc := range scraped {
		if yc.Count < 0 {
			return nil, fmt.Errorf("year %d has count %d: %w", yc.Year, yc.Count, ErrInvalidCount)
		}
		latest[yc.Year] = yc.Count
	}

	seen := make(map[int]bool, len(latest))
	for _, yc := range scraped {
		if seen[yc.Year] {
			plan.Duplicates++
			continue
		}
		seen[yc.Year] = true
		count := latest[yc.Year]

		persisted, found, err := lookup.GetCount(ctx, yc.Year)
		if err != nil {
			return nil, &LookupError{Year: yc.Year, Err: err}
		}

		switch {
		case !found:
			plan.Mutations = append(plan.Mutations, storage.YearCountMutation{
				Kind:  storage.MutationInsert,
				Year:  yc.Year,
				Count: count,
			})
		case persisted != count:
			plan.Mutations = append(plan.Mutations, storage.YearCountMutation{
				Kind:     storage.MutationUpdate,
				Year:     yc.Year,
				Count:    count,
				Previous: persisted,
			})
		default:
			plan.Unchanged++
			continue
		}

		plan.Stale = append(plan.Stale, yc.Year)
	}

	return plan, nil
}

// Apply hands the whole plan to the store. Stores apply it atomically.
func Apply(ctx context.Context, store Mutator, plan *Plan) error {
	if plan.Empty() {
		return nil
	}
	if err := store.ApplyYearCounts(ctx, plan.Mutations); err != nil {
		return fmt.Errorf("failed to apply %d mutations: %w", len(plan.Mutations), err)
	}
	return nil
}
