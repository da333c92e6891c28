package insider

import (
	"log/slog"
	"strings"
	"time"

	"insidertrading/internal/domain"
	"insidertrading/internal/symbols"
)

// Batch is one processing date's output before it is written to disk.
type Batch struct {
	// Tickers maps a normalized ticker to its history lines, in input order.
	Tickers map[string][]string
	// Universe holds one line per transaction whose security resolved.
	Universe []string
	// Dropped counts transactions skipped for a missing or unusable ticker.
	Dropped int
}

// Lines returns the total number of history lines in the batch.
func (b Batch) Lines() int {
	n := 0
	for _, lines := range b.Tickers {
		n += len(lines)
	}
	return n
}

// Aggregate buckets transactions by normalized ticker and builds the
// universe lines. Every line carries the processing date, not the
// transaction's own date. A nil resolver produces no universe lines at all.
func Aggregate(txs []domain.Transaction, date time.Time, resolver symbols.Resolver, log *slog.Logger) Batch {
	if log == nil {
		log = slog.Default()
	}

	b := Batch{Tickers: make(map[string][]string)}
	stamp := date.Format(domain.FileDateLayout)

	for _, tx := range txs {
		if tx.Ticker == nil {
			b.Dropped++
			continue
		}
		ticker := domain.NormalizeTicker(*tx.Ticker)
		if ticker == "" {
			b.Dropped++
			continue
		}
		if !usableTicker(ticker) {
			log.Warn("dropping transaction with unusable ticker", "ticker", ticker)
			b.Dropped++
			continue
		}

		row := fragment(tx)
		b.Tickers[ticker] = append(b.Tickers[ticker], stamp+","+row)

		if resolver == nil {
			continue
		}
		sid, err := resolver.Resolve(ticker, date)
		if err != nil {
			log.Warn("resolving security identifier", "ticker", ticker, "error", err)
			continue
		}
		b.Universe = append(b.Universe, sid+","+ticker+","+stamp+","+row)
	}

	return b
}

// nameCleaner removes commas and turns line breaks into spaces so a name
// always stays inside one CSV field of one line.
var nameCleaner = strings.NewReplacer(",", "", "\r\n", " ", "\r", " ", "\n", " ")

// fragment renders name,shares,pricePerShare,sharesOwnedFollowing.
func fragment(tx domain.Transaction) string {
	name := strings.ToLower(strings.TrimSpace(nameCleaner.Replace(tx.NameValue())))
	return strings.Join([]string{
		name,
		domain.FormatDecimal(tx.Shares),
		domain.FormatDecimal(tx.PricePerShare),
		domain.FormatDecimal(tx.SharesOwnedFollowing),
	}, ",")
}

// usableTicker reports whether ticker can name a file in the dataset dir.
func usableTicker(ticker string) bool {
	return !strings.ContainsAny(ticker, `/\`) && !strings.Contains(ticker, "..")
}
