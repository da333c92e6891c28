// Package insider downloads the QuiverQuant insider trading feed one
// processing date at a time and merges it into per-ticker history files and
// per-date universe files.
//
// Layout under the destination root:
//
//	quiver/insidertrading/<ticker>.csv
//	quiver/insidertrading/universe/<yyyyMMdd>.csv
package insider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"insidertrading/internal/domain"
	"insidertrading/internal/gather"
	"insidertrading/internal/quiver"
	"insidertrading/internal/store"
	"insidertrading/internal/symbols"
	"insidertrading/internal/util"
)

// Dataset location below the destination and processed-data roots.
const (
	VendorName  = "quiver"
	DatasetName = "insidertrading"
)

// DefaultRateInterval is the minimum spacing between vendor requests.
const DefaultRateInterval = 2 * time.Second

var (
	// ErrInvalidDate rejects processing dates that are unset, today or later.
	ErrInvalidDate = errors.New("invalid processing date")
	// ErrNoData means the vendor returned nothing for the date.
	ErrNoData = errors.New("no data for date")
	// ErrResolutionUnavailable means history files were written but the
	// universe file was skipped because no symbol mapping data is available.
	ErrResolutionUnavailable = errors.New("symbol resolution unavailable; universe file not written")
)

// Compile-time interface check.
var _ gather.Gatherer = (*Downloader)(nil)

// Settings is the explicit configuration of a Downloader.
type Settings struct {
	// DestinationDir is the root the dataset is written under.
	DestinationDir string
	// ProcessedDir is the root existing files are read from before merging.
	// Empty means DestinationDir.
	ProcessedDir string

	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	// RetryDelay is the pause between failed attempts; zero retries at once.
	RetryDelay time.Duration
	// RateInterval is the minimum spacing between requests; zero means
	// DefaultRateInterval.
	RateInterval time.Duration
}

// Archive keeps the raw transactions of each processed date.
type Archive interface {
	WriteTransactions(ctx context.Context, date time.Time, txs []domain.Transaction) error
	ReadTransactions(ctx context.Context, date time.Time) ([]domain.Transaction, error)
}

// Journal records the outcome of each run.
type Journal interface {
	RecordRun(ctx context.Context, rec store.RunRecord) error
}

// Report summarises one run.
type Report struct {
	RunID         string
	Date          time.Time
	Started       time.Time
	Duration      time.Duration
	Transactions  int
	Tickers       int
	HistoryLines  int
	UniverseLines int
	FilesWritten  int
	Err           error
}

// Success reports whether the run completed without error.
func (r *Report) Success() bool { return r.Err == nil }

// Downloader runs the fetch, aggregate and merge pipeline.
type Downloader struct {
	settings   Settings
	resolver   symbols.Resolver
	archive    Archive
	journal    Journal
	httpClient *http.Client
	offline    bool
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithResolver enables universe files. Without a resolver every run reports
// ErrResolutionUnavailable after writing history files.
func WithResolver(r symbols.Resolver) Option {
	return func(d *Downloader) { d.resolver = r }
}

// WithArchive stores the raw transactions of every fetched date.
func WithArchive(a Archive) Option {
	return func(d *Downloader) { d.archive = a }
}

// WithJournal records every attempted run.
func WithJournal(j Journal) Option {
	return func(d *Downloader) { d.journal = j }
}

// WithHTTPClient sets the HTTP client used for vendor requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Downloader) { d.httpClient = hc }
}

// WithOffline reads transactions from the archive instead of the vendor.
func WithOffline(offline bool) Option {
	return func(d *Downloader) { d.offline = offline }
}

// WithClock overrides the clock used to reject current and future dates.
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) { d.log = l }
}

// NewDownloader creates a Downloader from explicit settings.
func NewDownloader(s Settings, opts ...Option) (*Downloader, error) {
	if s.DestinationDir == "" {
		return nil, errors.New("destination dir is required")
	}
	if s.BaseURL == "" {
		s.BaseURL = quiver.DefaultBaseURL
	}
	if s.Timeout == 0 {
		s.Timeout = quiver.DefaultTimeout
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = quiver.DefaultMaxAttempts
	}
	if s.RateInterval == 0 {
		s.RateInterval = DefaultRateInterval
	}

	d := &Downloader{
		settings: s,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("gatherer", d.Name())

	if d.offline && d.archive == nil {
		return nil, errors.New("offline mode requires an archive")
	}
	return d, nil
}

// Name returns the gatherer identifier.
func (d *Downloader) Name() string { return VendorName + "-" + DatasetName }

// Run processes date and reports whether every step succeeded. Failures are
// logged; files written before a failure stay on disk.
func (d *Downloader) Run(ctx context.Context, date time.Time) bool {
	rep, err := d.Process(ctx, date)
	d.logOutcome(rep, err)
	return err == nil
}

// Process runs the pipeline for date with a rate limiter scoped to this
// call and returns the run report together with its error.
func (d *Downloader) Process(ctx context.Context, date time.Time) (*Report, error) {
	limiter := util.NewIntervalLimiter(d.settings.RateInterval)
	defer limiter.Close()

	return d.process(ctx, date, limiter)
}

// Backfill processes every date in r in order, sharing one rate limiter
// across the whole range. It stops early only when ctx is done.
func (d *Downloader) Backfill(ctx context.Context, r gather.DateRange) ([]*Report, error) {
	limiter := util.NewIntervalLimiter(d.settings.RateInterval)
	defer limiter.Close()

	var reports []*Report
	for _, day := range r.Days() {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := d.process(ctx, day, limiter)
		d.logOutcome(rep, err)
		reports = append(reports, rep)
	}
	return reports, nil
}

func (d *Downloader) process(ctx context.Context, date time.Time, limiter quiver.Limiter) (*Report, error) {
	rep := &Report{
		RunID:   uuid.NewString(),
		Date:    gather.Day(date),
		Started: d.now(),
	}

	rep.Err = d.execute(ctx, date, limiter, rep)
	rep.Duration = d.now().Sub(rep.Started)

	if !errors.Is(rep.Err, ErrInvalidDate) {
		d.record(ctx, rep)
	}
	return rep, rep.Err
}

func (d *Downloader) execute(ctx context.Context, date time.Time, limiter quiver.Limiter, rep *Report) error {
	day := gather.Day(date)
	if date.IsZero() || !day.Before(gather.Day(d.now().UTC())) {
		return fmt.Errorf("%w: %s", ErrInvalidDate, date.Format(domain.VendorDateLayout))
	}

	txs, err := d.load(ctx, day, limiter)
	if err != nil {
		return err
	}
	rep.Transactions = len(txs)

	if d.archive != nil && !d.offline {
		if err := d.archive.WriteTransactions(ctx, day, txs); err != nil {
			d.log.Warn("archiving raw transactions", "date", day.Format(domain.VendorDateLayout), "error", err)
		}
	}

	batch := Aggregate(txs, day, d.resolver, d.log)
	rep.Tickers = len(batch.Tickers)
	rep.HistoryLines = batch.Lines()
	rep.UniverseLines = len(batch.Universe)

	stamp := day.Format(domain.FileDateLayout)

	if d.resolver != nil && len(batch.Universe) > 0 {
		name := filepath.Join("universe", stamp+".csv")
		if _, err := MergeWrite(d.readPath(name), d.writePath(name), batch.Universe, Lexical); err != nil {
			return fmt.Errorf("universe file: %w", err)
		}
		rep.FilesWritten++
	}

	tickers := make([]string, 0, len(batch.Tickers))
	for t := range batch.Tickers {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		name := strings.ToLower(ticker) + ".csv"
		if _, err := MergeWrite(d.readPath(name), d.writePath(name), batch.Tickers[ticker], ByDate); err != nil {
			return fmt.Errorf("history file for %s: %w", ticker, err)
		}
		rep.FilesWritten++
	}

	if d.resolver == nil {
		return ErrResolutionUnavailable
	}
	return nil
}

// load returns the day's transactions from the vendor, or from the archive
// in offline mode.
func (d *Downloader) load(ctx context.Context, day time.Time, limiter quiver.Limiter) ([]domain.Transaction, error) {
	if d.offline {
		txs, err := d.archive.ReadTransactions(ctx, day)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no archive for %s", ErrNoData, day.Format(domain.VendorDateLayout))
		}
		return txs, err
	}

	opts := []quiver.ClientOption{
		quiver.WithLimiter(limiter),
		quiver.WithRetries(d.settings.MaxAttempts, d.settings.RetryDelay),
		quiver.WithLogger(d.log),
	}
	if d.httpClient != nil {
		opts = append(opts, quiver.WithHTTPClient(d.httpClient))
	} else {
		opts = append(opts, quiver.WithTimeout(d.settings.Timeout))
	}

	client, err := quiver.NewClient(d.settings.BaseURL, d.settings.APIKey, opts...)
	if err != nil {
		return nil, err
	}

	body, err := client.Fetch(ctx, quiver.InsidersPath(day))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoData, day.Format(domain.VendorDateLayout))
	}
	return quiver.ParseTransactions(body)
}

func (d *Downloader) datasetDir(root string) string {
	return filepath.Join(root, VendorName, DatasetName)
}

func (d *Downloader) writePath(name string) string {
	return filepath.Join(d.datasetDir(d.settings.DestinationDir), name)
}

func (d *Downloader) readPath(name string) string {
	root := d.settings.ProcessedDir
	if root == "" {
		root = d.settings.DestinationDir
	}
	return filepath.Join(d.datasetDir(root), name)
}

func (d *Downloader) record(ctx context.Context, rep *Report) {
	if d.journal == nil {
		return
	}
	rec := store.RunRecord{
		ID:             rep.RunID,
		ProcessDate:    rep.Date,
		StartedAt:      rep.Started,
		Duration:       rep.Duration,
		Success:        rep.Success(),
		HistoryWritten: rep.Err == nil || errors.Is(rep.Err, ErrResolutionUnavailable),
		Transactions:   rep.Transactions,
		Tickers:        rep.Tickers,
		UniverseLines:  rep.UniverseLines,
		FilesWritten:   rep.FilesWritten,
	}
	if rep.Err != nil {
		rec.Error = rep.Err.Error()
	}
	if err := d.journal.RecordRun(ctx, rec); err != nil {
		d.log.Warn("recording run in journal", "run", rep.RunID, "error", err)
	}
}

func (d *Downloader) logOutcome(rep *Report, err error) {
	date := rep.Date.Format(domain.VendorDateLayout)
	switch {
	case err == nil:
		d.log.Info("finished downloading/processing",
			"date", date,
			"transactions", rep.Transactions,
			"tickers", rep.Tickers,
			"universe_lines", rep.UniverseLines,
			"elapsed", rep.Duration,
		)
	case errors.Is(err, ErrInvalidDate):
		d.log.Info("encountered invalid processing date, skipping", "date", date)
	case errors.Is(err, ErrNoData):
		d.log.Warn("no data returned", "date", date, "error", err)
	default:
		d.log.Error("run failed",
			"date", date,
			"files_written", rep.FilesWritten,
			"error", err,
		)
	}
}
