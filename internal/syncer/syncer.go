// Package syncer sequences a single incremental mirror run: scrape year
// counts, reconcile them with the store, then re-scrape stale years.
package syncer

import (
	"context"
	"fmt"

	"github.com/alvmarrod/bechdel-mirror/internal/config"
	"github.com/alvmarrod/bechdel-mirror/internal/extract"
	"github.com/alvmarrod/bechdel-mirror/internal/metrics"
	"github.com/alvmarrod/bechdel-mirror/internal/reconcile"
	"github.com/alvmarrod/bechdel-mirror/internal/scraper"
	"github.com/alvmarrod/bechdel-mirror/internal/storage"
	"github.com/sirupsen/logrus"
)

// CountStore is the persisted year-counts collaborator
type CountStore interface {
	EnsureSchema(ctx context.Context) error
	reconcile.CountLookup
	reconcile.Mutator
}

// MovieStore is the append-only movie persistence collaborator
type MovieStore interface {
	SaveMovies(ctx context.Context, movies []storage.MovieRecord) (int, error)
}

// Stage names a step of the pipeline, used to report where a run failed
type Stage string

const (
	StageSchema        Stage = "schema"
	StageFetchCounts   Stage = "fetch_counts"
	StageExtractCounts Stage = "extract_counts"
	StageReconcile     Stage = "reconcile"
	StageApply         Stage = "apply"
	StageFetchMovies   Stage = "fetch_movies"
	StageExtractMovies Stage = "extract_movies"
	StageSaveMovies    Stage = "save_movies"
)

// StageError is the fatal error of a run. Year is set for per-year stages.
type StageError struct {
	Stage Stage
	Year  int
	Err   error
}

func (e *StageError) Error() string {
	if e.Year != 0 {
		return fmt.Sprintf("stage %s (year %d): %v", e.Stage, e.Year, e.Err)
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Report summarizes a completed run
type Report struct {
	Inserted        int
	Updated         int
	Unchanged       int
	StaleYears      []int
	RescrapedYears  []int
	HeadersSkipped  int
	MoviesExtracted int
	MoviesSkipped   int
	MoviesSaved     int
}

// Syncer owns no logic of its own; it wires extractors, the
// reconciliation engine and the stores together
type Syncer struct {
	cfg     *config.Config
	fetcher scraper.Fetcher
	counts  CountStore
	movies  MovieStore
	tracker *metrics.Tracker
}

// New creates a Syncer. tracker may be nil.
func New(cfg *config.Config, fetcher scraper.Fetcher, counts CountStore, movies MovieStore, tracker *metrics.Tracker) *Syncer {
	if tracker == nil {
		tracker = metrics.NewTracker()
	}
	return &Syncer{
		cfg:     cfg,
		fetcher: fetcher,
		counts:  counts,
		movies:  movies,
		tracker: tracker,
	}
}

// Run performs one sync. Years are processed strictly one after another.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	if err := s.counts.EnsureSchema(ctx); err != nil {
		return nil, &StageError{Stage: StageSchema, Err: err}
	}

	scraped, err := s.scrapeCounts(ctx, report)
	if err != nil {
		return nil, err
	}

	plan, err := reconcile.Reconcile(ctx, scraped, s.counts)
	if err != nil {
		return nil, &StageError{Stage: StageReconcile, Err: err}
	}

	report.Inserted, report.Updated, report.Unchanged = plan.Summary()
	report.StaleYears = plan.Stale
	s.tracker.RecordPlan(report.Inserted, report.Updated, report.Unchanged)
	logrus.Infof("Inserted %d, Updated %d, No change %d", report.Inserted, report.Updated, report.Unchanged)

	if err := reconcile.Apply(ctx, s.counts, plan); err != nil {
		return nil, &StageError{Stage: StageApply, Err: err}
	}

	report.RescrapedYears = extraYears(plan.Stale, s.cfg.RescrapeYears)
	years := append(append([]int{}, plan.Stale...), report.RescrapedYears...)

	if len(years) == 0 {
		logrus.Info("No movies to scrape, all up-to-date.")
		return report, nil
	}
	if len(report.RescrapedYears) > 0 {
		logrus.Infof("Re-scraping unchanged years on request: %v", report.RescrapedYears)
	}

	var records []storage.MovieRecord
	for idx, year := range years {
		if err := ctx.Err(); err != nil {
			warnUnscraped(plan.Stale)
			return nil, &StageError{Stage: StageFetchMovies, Year: year, Err: err}
		}

		logrus.Infof("[%d/%d] Scraping movies for year %d", idx+1, len(years), year)
		yearRecords, err := s.scrapeMovies(ctx, year, report)
		if err != nil {
			warnUnscraped(plan.Stale)
			return nil, err
		}
		records = append(records, yearRecords...)
	}

	saved, err := s.movies.SaveMovies(ctx, records)
	if err != nil {
		warnUnscraped(plan.Stale)
		return nil, &StageError{Stage: StageSaveMovies, Err: err}
	}
	report.MoviesSaved = saved
	s.tracker.RecordSaved(saved)
	logrus.Infof("Saved %d new movies (%d already stored)", saved, len(records)-saved)

	return report, nil
}

// extraYears returns the requested years that are not already stale,
// deduplicated and in request order
func extraYears(stale, requested []int) []int {
	seen := make(map[int]bool, len(stale)+len(requested))
	for _, year := range stale {
		seen[year] = true
	}

	var extra []int
	for _, year := range requested {
		if seen[year] {
			continue
		}
		seen[year] = true
		extra = append(extra, year)
	}
	return extra
}

// warnUnscraped names the years whose new counts are stored but whose
// movies were not saved. They stay up to date until their count moves.
func warnUnscraped(stale []int) {
	if len(stale) == 0 {
		return
	}
	logrus.Warnf("Counts already stored for years %v but their movies were not saved; rerun with --rescrape-year to recover them", stale)
}

func (s *Syncer) scrapeCounts(ctx context.Context, report *Report) ([]storage.YearCount, error) {
	body, err := s.fetcher.Fetch(ctx, s.cfg.ListURL)
	if err != nil {
		return nil, &StageError{Stage: StageFetchCounts, Err: err}
	}

	results, err := extract.YearCountsFromHTML(body)
	if err != nil {
		return nil, &StageError{Stage: StageExtractCounts, Err: err}
	}
	logrus.Info("Parsed h3 elements for movie counts per year")

	counts := extract.Counts(results)
	report.HeadersSkipped = len(results) - len(counts)
	s.tracker.RecordYears(len(counts), report.HeadersSkipped)

	if len(counts) == 0 {
		logrus.Warn("No year counts found on listing page, nothing to reconcile")
		return counts, nil
	}

	minYear, maxYear := counts[0].Year, counts[0].Year
	for _, yc := range counts {
		minYear = min(minYear, yc.Year)
		maxYear = max(maxYear, yc.Year)
	}
	logrus.Infof("Grabbed %d year counts from %s, from: %d, to: %d", len(counts), s.cfg.ListURL, minYear, maxYear)

	return counts, nil
}

func (s *Syncer) scrapeMovies(ctx context.Context, year int, report *Report) ([]storage.MovieRecord, error) {
	url := scraper.YearURL(s.cfg.YearURLTemplate, year)

	body, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, &StageError{Stage: StageFetchMovies, Year: year, Err: err}
	}

	results, err := extract.MoviesFromHTML(body, s.cfg.SiteOrigin)
	if err != nil {
		return nil, &StageError{Stage: StageExtractMovies, Year: year, Err: err}
	}

	records := extract.Records(results)
	skipped := len(results) - len(records)
	report.MoviesExtracted += len(records)
	report.MoviesSkipped += skipped
	s.tracker.RecordMovies(len(records), skipped)

	logrus.WithFields(logrus.Fields{
		"year":    year,
		"movies":  len(records),
		"skipped": skipped,
	}).Info("Extracted movies")

	return records, nil
}
