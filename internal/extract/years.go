package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/bechdel-mirror/internal/storage"
	"github.com/sirupsen/logrus"
)

// YearResult is the outcome for one year header: either a count or a
// skip reason. Detail carries the offending identifier, if any.
type YearResult struct {
	Count  storage.YearCount
	Skip   SkipReason
	Detail string
}

// Skipped reports whether the header was malformed
func (r YearResult) Skipped() bool {
	return r.Skip != ""
}

// YearCounts extracts one result per header node, in source order.
// Malformed headers are skipped with a warning, never an error.
func YearCounts(headers *goquery.Selection) []YearResult {
	results := make([]YearResult, 0, headers.Length())

	headers.Each(func(_ int, header *goquery.Selection) {
		result := yearCount(header)
		if result.Skipped() {
			logrus.WithFields(logrus.Fields{
				"reason": result.Skip,
				"id":     result.Detail,
			}).Warn("Skipping year header")
		}
		results = append(results, result)
	})

	return results
}

// YearCountsFromHTML parses a full listing page and extracts its headers
func YearCountsFromHTML(body []byte) ([]YearResult, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return nil, err
	}
	return YearCounts(doc.Find(YearHeaderSelector)), nil
}

// Counts keeps only the successfully extracted year counts
func Counts(results []YearResult) []storage.YearCount {
	counts := make([]storage.YearCount, 0, len(results))
	for _, r := range results {
		if !r.Skipped() {
			counts = append(counts, r.Count)
		}
	}
	return counts
}

func yearCount(header *goquery.Selection) YearResult {
	anchor := header.Find("a").First()
	if anchor.Length() == 0 {
		return YearResult{Skip: SkipNoAnchor}
	}

	id, ok := anchor.Attr("id")
	if !ok || id == "" {
		return YearResult{Skip: SkipNoIdentifier}
	}

	token, ok := splitNumericID(id)
	if !ok {
		return YearResult{Skip: SkipMalformedIdentifier, Detail: id}
	}

	year, err := strconv.Atoi(token)
	if err != nil {
		return YearResult{Skip: SkipMalformedIdentifier, Detail: id}
	}

	return YearResult{
		Count: storage.YearCount{Year: year, Count: movieCount(header.Find("span").First())},
	}
}

// movieCount parses annotations like "(18 movies)", defaulting to 0
func movieCount(span *goquery.Selection) int {
	if span.Length() == 0 {
		return 0
	}

	text := strings.TrimSpace(span.Text())
	text = strings.TrimPrefix(text, "(")

	count, err := strconv.Atoi(leadingDigits(text))
	if err != nil {
		return 0
	}
	return count
}
