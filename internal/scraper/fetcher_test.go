package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body><h3>%s</h3></body></html>", r.UserAgent())
	})
	mux.HandleFunc("/large", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, largePage())
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCollyFetcherReturnsBody(t *testing.T) {
	srv := newSite(t)

	var observed []string
	f := NewCollyFetcher(5*time.Second, "bechdel-mirror-test", func(url string, elapsed time.Duration, err error) {
		observed = append(observed, url)
		assert.NoError(t, err)
	})

	body, err := f.Fetch(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Contains(t, string(body), "<h3>bechdel-mirror-test</h3>")

	// Revisiting the same URL is allowed
	_, err = f.Fetch(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Len(t, observed, 2)
}

// largePage is bigger than colly's default 10 MiB body limit
func largePage() string {
	return "<html><body>" + strings.Repeat("<h3>x</h3>", (11<<20)/10) + "</body></html>"
}

func TestCollyFetcherReadsLargeBody(t *testing.T) {
	srv := newSite(t)
	f := NewCollyFetcher(10*time.Second, "", nil)

	body, err := f.Fetch(context.Background(), srv.URL+"/large")
	require.NoError(t, err)
	assert.Len(t, body, len(largePage()))
	assert.True(t, strings.HasSuffix(string(body), "</body></html>"))
}

func TestCollyFetcherHTTPError(t *testing.T) {
	srv := newSite(t)
	f := NewCollyFetcher(5*time.Second, "", nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Equal(t, srv.URL+"/missing", fetchErr.URL)
}

func TestCollyFetcherTransportError(t *testing.T) {
	srv := newSite(t)
	url := srv.URL + "/ok"
	srv.Close()

	f := NewCollyFetcher(2*time.Second, "", nil)
	_, err := f.Fetch(context.Background(), url)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.StatusCode)
}

func TestSiteOrigin(t *testing.T) {
	origin, err := SiteOrigin("https://BechdelTest.com/?list=all")
	require.NoError(t, err)
	assert.Equal(t, "https://bechdeltest.com", origin)

	origin, err = SiteOrigin("//bechdeltest.com/year/2020")
	require.NoError(t, err)
	assert.Equal(t, "https://bechdeltest.com", origin)

	_, err = SiteOrigin("/year/2020")
	require.Error(t, err)
}

func TestYearURL(t *testing.T) {
	assert.Equal(t, "https://bechdeltest.com/year/2020", YearURL("https://bechdeltest.com/year/%d", 2020))
}
