package extract

import (
	"regexp"
	"strings"
)

// Link patterns on movie listing pages
var (
	imdbLinkPattern   = regexp.MustCompile(`imdb`)
	detailLinkPattern = regexp.MustCompile(`view`)
	nopassPattern     = regexp.MustCompile(`nopass`)
)

// IsIMDbLink reports whether href points at the movie's IMDb page
func IsIMDbLink(href string) bool {
	return imdbLinkPattern.MatchString(href)
}

// IsDetailLink reports whether href points at the site's own movie page
func IsDetailLink(href string) bool {
	return detailLinkPattern.MatchString(href)
}

// IsFailingBadge reports whether an image source is the "nopass" badge
func IsFailingBadge(src string) bool {
	return nopassPattern.MatchString(src)
}

// ResolveSiteURL prefixes the site origin to a relative path. Absolute
// URLs are returned untouched.
func ResolveSiteURL(origin, href string) string {
	if strings.Contains(href, "://") {
		return href
	}

	// Handle protocol-relative URLs
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}

	return strings.TrimSuffix(origin, "/") + href
}

// splitNumericID splits identifiers such as "year-2020" or "movie-9036".
// It returns the numeric suffix only when there are exactly two
// dash-separated tokens and the second is all ASCII digits.
func splitNumericID(id string) (string, bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 2 || !isDigits(parts[1]) {
		return "", false
	}
	return parts[1], true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// leadingDigits returns the run of digits at the start of s
func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}
