// Package extract turns parsed listing pages into typed records. Pages are
// parsed with goquery; extractors only ever see filtered node selections.
package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Selectors for the nodes each extractor consumes
const (
	YearHeaderSelector = "h3"
	MovieSelector      = "div.movie"
)

// SkipReason explains why an extraction unit produced no usable record
type SkipReason string

const (
	SkipNoAnchor            SkipReason = "no_anchor"
	SkipNoIdentifier        SkipReason = "no_identifier"
	SkipMalformedIdentifier SkipReason = "malformed_identifier"
	SkipMissingBechdelID    SkipReason = "missing_bechdel_id"
)

// ParseDocument parses raw markup into a queryable document
func ParseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}
