// Package symbols resolves ticker symbols to permanent security identifiers
// using a directory of map files.
//
// A map file is named after the security's permanent ticker and lists, one
// row per symbol change, the last date a symbol was in use:
//
//	19980102,abc,Q
//	20150310,abc,Q
//	20501231,abcd,Q
//
// The first row's date is the listing date. The security above traded as
// ABC until 2015-03-10 and as ABCD afterwards.
package symbols

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultListingDate is used for tickers that no map file covers.
var DefaultListingDate = time.Date(1998, time.January, 2, 0, 0, 0, 0, time.UTC)

// ErrUnavailable means the map file directory does not exist.
var ErrUnavailable = errors.New("symbol mapping data unavailable")

// Resolver maps a ticker and as-of date to a permanent security identifier.
type Resolver interface {
	Resolve(ticker string, asOf time.Time) (string, error)
}

// interval is one row range of a map file: the security traded as a
// symbol during (from, to].
type interval struct {
	from, to time.Time
	first    bool
	sid      string
}

// MapFileResolver resolves tickers from map files loaded into memory.
type MapFileResolver struct {
	byTicker map[string][]interval
	log      *slog.Logger
}

// OpenMapFiles loads every *.csv map file in dir. It returns ErrUnavailable
// if dir does not exist. Unreadable individual files are logged and skipped.
func OpenMapFiles(dir string, log *slog.Logger) (*MapFileResolver, error) {
	if log == nil {
		log = slog.Default()
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, dir)
		}
		return nil, fmt.Errorf("stat map files dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnavailable, dir)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("listing map files: %w", err)
	}
	sort.Strings(paths)

	r := &MapFileResolver{
		byTicker: make(map[string][]interval),
		log:      log,
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			log.Warn("skipping map file", "path", path, "error", err)
			continue
		}
		err = r.add(f)
		f.Close()
		if err != nil {
			log.Warn("skipping map file", "path", path, "error", err)
		}
	}

	log.Info("loaded map files", "files", len(paths), "tickers", len(r.byTicker), "dir", dir)
	return r, nil
}

type mapRow struct {
	date   time.Time
	ticker string
}

// add indexes the rows of one map file.
func (r *MapFileResolver) add(src io.Reader) error {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	var rows []mapRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(record) < 2 {
			continue
		}
		d, err := time.Parse("20060102", strings.TrimSpace(record[0]))
		if err != nil {
			return fmt.Errorf("map file date %q: %w", record[0], err)
		}
		ticker := strings.ToUpper(strings.TrimSpace(record[1]))
		if ticker == "" {
			continue
		}
		rows = append(rows, mapRow{date: d, ticker: ticker})
	}
	if len(rows) == 0 {
		return nil
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].date.Before(rows[j].date) })

	sid := FormatID(rows[0].ticker, rows[0].date)
	for i, row := range rows {
		iv := interval{to: row.date, sid: sid, first: i == 0}
		if i > 0 {
			iv.from = rows[i-1].date
		}
		r.byTicker[row.ticker] = append(r.byTicker[row.ticker], iv)
	}
	return nil
}

// Resolve returns the identifier of the security that traded as ticker on
// asOf. A ticker no map file covers on that date gets an identifier built
// from the ticker and DefaultListingDate.
func (r *MapFileResolver) Resolve(ticker string, asOf time.Time) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return "", errors.New("resolve: empty ticker")
	}

	day := asOf.UTC().Truncate(24 * time.Hour)
	for _, iv := range r.byTicker[ticker] {
		if (iv.first || day.After(iv.from)) && !day.After(iv.to) {
			return iv.sid, nil
		}
	}

	r.log.Debug("no map file covers ticker", "ticker", ticker, "asOf", day.Format("2006-01-02"))
	return FormatID(ticker, DefaultListingDate), nil
}

// FormatID renders a security identifier: the first ticker the security
// traded under and its listing date.
func FormatID(ticker string, listed time.Time) string {
	return strings.ToUpper(ticker) + " " + listed.Format("20060102")
}
