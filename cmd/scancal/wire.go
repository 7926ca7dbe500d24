package main

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/joho/godotenv"

	"scancal/internal/aggregate"
	"scancal/internal/capture"
	"scancal/internal/config"
	appLog "scancal/internal/log"
	"scancal/internal/mention"
	"scancal/internal/metrics"
	"scancal/internal/parser"
	"scancal/internal/scan"
)

type app struct {
	cfg       *config.Config
	loc       *time.Location
	parser    *parser.Client
	agg       *aggregate.Aggregator
	scanner   *scan.Scanner
	directory *mention.DirectoryCache
	metrics   *metrics.Metrics
	now       func() time.Time
}

// wire loads the configuration (file, then .env and SCANCAL_* variables,
// then flags) and builds the pipeline.
func (o *rootOptions) wire() (*app, error) {
	if err := o.loadEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	config.ApplyOverrides(cfg, o.v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appLog.Configure(appLog.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	client := parser.New(parser.Options{
		BaseURL:      cfg.Parser.BaseURL,
		StreamPath:   cfg.Parser.StreamPath,
		ParsePath:    cfg.Parser.ParsePath,
		ContactsPath: cfg.Parser.ContactsPath,
		Timeout:      cfg.Parser.Timeout,
	})
	m := metrics.New()

	var scraper capture.Scraper
	if cfg.Scrape.URL != "" {
		scraper = newPageScraper(cfg)(cfg.Scrape.URL)
	}

	a := &app{
		cfg:       cfg,
		loc:       loc,
		parser:    client,
		agg:       aggregate.New(aggregate.WithLocation(loc)),
		directory: mention.NewDirectoryCache(client),
		metrics:   m,
		now:       time.Now,
	}
	a.scanner = a.scannerFor(scraper)

	appLog.Debug("effective config",
		"config_path", o.configPath,
		"timezone", cfg.Timezone,
		"parser", cfg.Parser.BaseURL,
		"scrape_url", cfg.Scrape.URL,
		"watch", cfg.Watch,
	)

	return a, nil
}

// scannerFor builds a scanner over src that writes to the app's session.
func (a *app) scannerFor(src capture.Scraper) *scan.Scanner {
	return scan.New(scan.Options{
		Aggregator: a.agg,
		Scraper:    src,
		Parser:     a.parser,
		TextParser: a.parser,
		Metrics:    a.metrics,
		TimeZone:   a.cfg.Timezone,
	})
}

// calendarTZ is the ctz value for calendar links, empty unless enabled.
func (a *app) calendarTZ() string {
	if a.cfg.Calendar.IncludeCTZ {
		return a.cfg.Timezone
	}
	return ""
}

// loadEnv reads the explicit --env-file, or ./.env when it exists.
// Variables already set in the environment win.
func (o *rootOptions) loadEnv() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", o.envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// newPageScraper returns a factory for headless browser scrapes that share
// the configured wait selector, timeout and profile.
func newPageScraper(cfg *config.Config) func(url string) capture.Scraper {
	var alloc []chromedp.ExecAllocatorOption
	if cfg.Scrape.UserDataDir != "" {
		alloc = append(alloc, chromedp.UserDataDir(cfg.Scrape.UserDataDir))
	}
	return func(url string) capture.Scraper {
		return capture.NewChromeScraper(capture.ChromeOptions{
			URL:              url,
			WaitSelector:     cfg.Scrape.WaitSelector,
			Timeout:          cfg.Scrape.Timeout,
			AllocatorOptions: alloc,
		})
	}
}
