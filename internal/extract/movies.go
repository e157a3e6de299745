package extract

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/bechdel-mirror/internal/storage"
	"github.com/sirupsen/logrus"
)

// MovieResult holds the record built from one movie container. The record
// is always present; Skip is set when it lacks the natural key.
type MovieResult struct {
	Record storage.MovieRecord
	Skip   SkipReason
}

// Skipped reports whether the record cannot be persisted
func (r MovieResult) Skipped() bool {
	return r.Skip != ""
}

// Movies extracts one result per movie container. origin is prefixed to
// the relative detail-page links.
func Movies(containers *goquery.Selection, origin string) []MovieResult {
	results := make([]MovieResult, 0, containers.Length())

	containers.Each(func(_ int, container *goquery.Selection) {
		record := movieRecord(container, origin)

		result := MovieResult{Record: record}
		if !record.BechdelID.Valid {
			result.Skip = SkipMissingBechdelID
			logrus.WithFields(logrus.Fields{
				"reason": result.Skip,
				"title":  record.Title.V,
			}).Warn("Movie has no bechdel id")
		}
		results = append(results, result)
	})

	return results
}

// MoviesFromHTML parses a year listing page and extracts its movies
func MoviesFromHTML(body []byte, origin string) ([]MovieResult, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return nil, err
	}
	return Movies(doc.Find(MovieSelector), origin), nil
}

// Records keeps only the records that carry a bechdel id
func Records(results []MovieResult) []storage.MovieRecord {
	records := make([]storage.MovieRecord, 0, len(results))
	for _, r := range results {
		if !r.Skipped() {
			records = append(records, r.Record)
		}
	}
	return records
}

func movieRecord(container *goquery.Selection, origin string) storage.MovieRecord {
	var m storage.MovieRecord

	container.Find("a").Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}

		switch {
		case IsIMDbLink(href):
			// Last IMDb link wins if there are several
			m.IMDbURL = sql.Null[string]{V: href, Valid: true}
			m.Pass = sql.Null[bool]{}
			if src, ok := link.Find("img").First().Attr("src"); ok {
				m.Pass = sql.Null[bool]{V: !IsFailingBadge(src), Valid: true}
			}

		case IsDetailLink(href):
			m.BechdelURL = sql.Null[string]{V: ResolveSiteURL(origin, href), Valid: true}

			if title := strings.TrimSpace(link.Text()); title != "" {
				m.Title = sql.Null[string]{V: title, Valid: true}
			}

			if id, ok := link.Attr("id"); ok {
				if token, ok := splitNumericID(id); ok {
					if n, err := strconv.Atoi(token); err == nil {
						m.BechdelID = sql.Null[int]{V: n, Valid: true}
					}
				}
			}
		}
	})

	return m
}
