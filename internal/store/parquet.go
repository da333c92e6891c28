package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"insidertrading/internal/domain"
)

// ArchiveStore keeps the raw transactions of each processed date in Parquet
// files, so a date can be re-processed without calling the vendor again.
type ArchiveStore struct {
	DataDir string
}

// NewArchiveStore creates an ArchiveStore rooted at the given directory.
func NewArchiveStore(dataDir string) *ArchiveStore {
	return &ArchiveStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// TransactionRecord is the Parquet schema for one raw vendor transaction.
// Nil pointers are nulls: the vendor sent no value.
type TransactionRecord struct {
	Date                 string  `parquet:"date"` // yyyy-MM-dd, empty when unset
	Ticker               *string `parquet:"ticker"`
	Name                 *string `parquet:"name"`
	Shares               *string `parquet:"shares"`
	PricePerShare        *string `parquet:"price_per_share"`
	SharesOwnedFollowing *string `parquet:"shares_owned_following"`
}

// ---------------------------------------------------------------------------
// Archive implementation
// ---------------------------------------------------------------------------

// WriteTransactions replaces the archive file for date with txs.
//
//	<DataDir>/quiver/insidertrading/<yyyyMMdd>.parquet
func (s *ArchiveStore) WriteTransactions(_ context.Context, date time.Time, txs []domain.Transaction) error {
	records := make([]TransactionRecord, 0, len(txs))
	for _, tx := range txs {
		records = append(records, TransactionRecord{
			Date:                 tx.Date.String(),
			Ticker:               tx.Ticker,
			Name:                 tx.Name,
			Shares:               decimalPtr(tx.Shares),
			PricePerShare:        decimalPtr(tx.PricePerShare),
			SharesOwnedFollowing: decimalPtr(tx.SharesOwnedFollowing),
		})
	}

	path := s.archivePath(date)
	if err := writeParquetFile(path, records); err != nil {
		return fmt.Errorf("writing archive for %s: %w", date.Format(domain.FileDateLayout), err)
	}
	return nil
}

// ReadTransactions returns the archived transactions for date. The error
// wraps os.ErrNotExist when the date was never archived.
func (s *ArchiveStore) ReadTransactions(_ context.Context, date time.Time) ([]domain.Transaction, error) {
	path := s.archivePath(date)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("archive for %s: %w", date.Format(domain.FileDateLayout), err)
	}

	records, err := readParquetFile[TransactionRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading archive %s: %w", path, err)
	}

	txs := make([]domain.Transaction, 0, len(records))
	for _, r := range records {
		tx := domain.Transaction{Ticker: r.Ticker, Name: r.Name}
		if r.Date != "" {
			d, err := time.Parse(domain.VendorDateLayout, r.Date)
			if err != nil {
				return nil, fmt.Errorf("archive %s: date %q: %w", path, r.Date, err)
			}
			tx.Date = domain.Date{Time: d}
		}
		if tx.Shares, err = parseDecimalPtr(r.Shares); err != nil {
			return nil, fmt.Errorf("archive %s: shares: %w", path, err)
		}
		if tx.PricePerShare, err = parseDecimalPtr(r.PricePerShare); err != nil {
			return nil, fmt.Errorf("archive %s: price_per_share: %w", path, err)
		}
		if tx.SharesOwnedFollowing, err = parseDecimalPtr(r.SharesOwnedFollowing); err != nil {
			return nil, fmt.Errorf("archive %s: shares_owned_following: %w", path, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// archivePath returns the filesystem path for a date's archive file.
func (s *ArchiveStore) archivePath(date time.Time) string {
	return filepath.Join(s.DataDir, "quiver", "insidertrading", date.Format(domain.FileDateLayout)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
