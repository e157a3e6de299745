package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alvmarrod/bechdel-mirror/internal/scraper"
	"github.com/alvmarrod/bechdel-mirror/internal/storage"
)

// Config holds all runtime configuration parameters
type Config struct {
	ListURL          string `json:"list_url"`
	YearURLTemplate  string `json:"year_url_template"`
	SiteOrigin       string `json:"site_origin"`
	DBDriver         string `json:"db_driver"`
	DBDSN            string `json:"db_dsn"`
	RequestTimeoutMs int    `json:"request_timeout_ms"`
	UserAgent        string `json:"user_agent"`
	MetricsPath      string `json:"metrics_path"`
	DryRun           bool   `json:"dry_run"`
	RescrapeYears    []int  `json:"rescrape_years"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadConfig reads and validates configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.ListURL == "" {
		cfg.ListURL = "https://bechdeltest.com/?list=all"
	}
	if cfg.YearURLTemplate == "" {
		cfg.YearURLTemplate = "https://bechdeltest.com/year/%d"
	}
	if cfg.SiteOrigin == "" {
		cfg.SiteOrigin = originOf(cfg.ListURL)
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = storage.DriverSQLite
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = "bechdel.db"
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 10000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "bechdel-mirror"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
}

// originOf derives the site origin from the listing URL, falling back
// to bechdeltest.com when the listing URL has no scheme or host
func originOf(listURL string) string {
	origin, err := scraper.SiteOrigin(listURL)
	if err != nil {
		return "https://bechdeltest.com"
	}
	return origin
}

// SetListURL replaces the listing URL. A site origin that was derived
// from the previous listing URL follows the new one.
func (cfg *Config) SetListURL(listURL string) {
	if cfg.SiteOrigin == originOf(cfg.ListURL) {
		cfg.SiteOrigin = originOf(listURL)
	}
	cfg.ListURL = listURL
}

// Validate checks that required fields are present and values are sensible
func (cfg *Config) Validate() error {
	if cfg.ListURL == "" {
		return fmt.Errorf("list_url is required")
	}
	if strings.Count(cfg.YearURLTemplate, "%d") != 1 {
		return fmt.Errorf("year_url_template must contain exactly one %%d")
	}
	if !strings.Contains(cfg.SiteOrigin, "://") {
		return fmt.Errorf("site_origin must be an absolute URL")
	}
	if cfg.DBDriver != storage.DriverSQLite && cfg.DBDriver != storage.DriverPostgres {
		return fmt.Errorf("db_driver must be %q or %q", storage.DriverSQLite, storage.DriverPostgres)
	}
	if cfg.DBDSN == "" {
		return fmt.Errorf("db_dsn is required")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	for _, year := range cfg.RescrapeYears {
		if year <= 0 {
			return fmt.Errorf("rescrape_years must be positive, got %d", year)
		}
	}
	return nil
}
