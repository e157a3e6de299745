package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/bechdel-mirror/internal/storage"
)

// Tracker holds and manages sync run metrics
type Tracker struct {
	mu               sync.Mutex
	data             storage.Metrics
	totalFetchTimeMs int64
	fetchCount       int
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: storage.Metrics{
			StartTime: time.Now(),
		},
	}
}

// RecordFetch records the outcome and duration of one page fetch
func (t *Tracker) RecordFetch(duration time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
	if err != nil {
		t.data.PagesFailed++
	} else {
		t.data.PagesFetched++
	}
}

// RecordYears records the outcome of year-count extraction
func (t *Tracker) RecordYears(seen, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.YearsSeen += seen
	t.data.HeadersSkipped += skipped
}

// RecordPlan records the reconciliation summary
func (t *Tracker) RecordPlan(inserted, updated, unchanged int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.YearsInserted += inserted
	t.data.YearsUpdated += updated
	t.data.YearsUnchanged += unchanged
}

// RecordMovies records extracted and skipped movie records for one year
func (t *Tracker) RecordMovies(extracted, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.MoviesExtracted += extracted
	t.data.MoviesSkipped += skipped
}

// RecordSaved records newly persisted movies
func (t *Tracker) RecordSaved(saved int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.MoviesSaved += saved
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs

	// Calculate average fetch time
	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	return snapshot
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Finalize metrics
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.data.TotalFetchTimeMs = t.totalFetchTimeMs

	if t.fetchCount > 0 {
		t.data.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	jsonData, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress returns a one-line summary of the current metrics
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Pages: %d fetched, %d failed | Years: %d seen, %d inserted, %d updated, %d unchanged, %d skipped | Movies: %d extracted, %d skipped, %d saved",
		t.data.PagesFetched,
		t.data.PagesFailed,
		t.data.YearsSeen,
		t.data.YearsInserted,
		t.data.YearsUpdated,
		t.data.YearsUnchanged,
		t.data.HeadersSkipped,
		t.data.MoviesExtracted,
		t.data.MoviesSkipped,
		t.data.MoviesSaved,
	)
}
