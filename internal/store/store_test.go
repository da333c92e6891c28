package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insidertrading/internal/domain"
)

func TestArchiveStorePath(t *testing.T) {
	as := NewArchiveStore("/data")

	got := as.archivePath(time.Date(2022, 2, 14, 0, 0, 0, 0, time.UTC))
	want := filepath.Join("/data", "quiver", "insidertrading", "20220214.parquet")
	assert.Equal(t, want, got)
}

func TestArchiveStoreWriteRead(t *testing.T) {
	as := NewArchiveStore(t.TempDir())
	ctx := context.Background()
	day := time.Date(2022, 2, 14, 0, 0, 0, 0, time.UTC)

	txs := []domain.Transaction{
		{
			Date:                 domain.NewDate(2022, 2, 14),
			Ticker:               domain.StrPtr("ABC"),
			Name:                 domain.StrPtr("J. Doe"),
			Shares:               decimal.NewNullDecimal(decimal.NewFromInt(100)),
			PricePerShare:        decimal.NewNullDecimal(decimal.RequireFromString("12.5")),
			SharesOwnedFollowing: decimal.NewNullDecimal(decimal.NewFromInt(900)),
		},
		{
			// Every optional field absent.
		},
	}

	require.NoError(t, as.WriteTransactions(ctx, day, txs))

	got, err := as.ReadTransactions(ctx, day)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.True(t, first.Date.Equal(txs[0].Date.Time))
	assert.Equal(t, "ABC", first.TickerValue())
	assert.Equal(t, "J. Doe", first.NameValue())
	assert.Equal(t, "100", domain.FormatDecimal(first.Shares))
	assert.Equal(t, "12.5", domain.FormatDecimal(first.PricePerShare))
	assert.Equal(t, "900", domain.FormatDecimal(first.SharesOwnedFollowing))

	empty := got[1]
	assert.True(t, empty.Date.IsZero())
	assert.Nil(t, empty.Ticker)
	assert.Nil(t, empty.Name)
	assert.False(t, empty.Shares.Valid)
	assert.False(t, empty.PricePerShare.Valid)
	assert.False(t, empty.SharesOwnedFollowing.Valid)
}

func TestArchiveStoreOverwrite(t *testing.T) {
	as := NewArchiveStore(t.TempDir())
	ctx := context.Background()
	day := time.Date(2022, 2, 14, 0, 0, 0, 0, time.UTC)

	require.NoError(t, as.WriteTransactions(ctx, day, []domain.Transaction{
		{Ticker: domain.StrPtr("ABC")},
		{Ticker: domain.StrPtr("XYZ")},
	}))
	require.NoError(t, as.WriteTransactions(ctx, day, []domain.Transaction{
		{Ticker: domain.StrPtr("DEF")},
	}))

	got, err := as.ReadTransactions(ctx, day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DEF", got[0].TickerValue())
}

func TestArchiveStoreMissing(t *testing.T) {
	as := NewArchiveStore(t.TempDir())

	_, err := as.ReadTransactions(context.Background(), time.Date(2022, 2, 14, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func newTestJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := NewJournal(filepath.Join(t.TempDir(), "state", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRecordAndList(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	started := time.Date(2022, 2, 15, 6, 0, 0, 0, time.UTC)
	first := RunRecord{
		ID:            "run-1",
		ProcessDate:   time.Date(2022, 2, 14, 0, 0, 0, 0, time.UTC),
		StartedAt:     started,
		Duration:      1500 * time.Millisecond,
		Success:       true,
		Transactions:  3,
		Tickers:       2,
		UniverseLines: 3,
		FilesWritten:  3,
	}
	second := RunRecord{
		ID:          "run-2",
		ProcessDate: time.Date(2022, 2, 15, 0, 0, 0, 0, time.UTC),
		StartedAt:   started.Add(time.Hour),
		Duration:    250 * time.Millisecond,
		Error:       "no data for date",
	}
	require.NoError(t, j.RecordRun(ctx, first))
	require.NoError(t, j.RecordRun(ctx, second))

	runs, err := j.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.Equal(t, "run-2", runs[0].ID)
	assert.False(t, runs[0].Success)
	assert.Equal(t, "no data for date", runs[0].Error)

	got := runs[1]
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.ProcessDate.Equal(first.ProcessDate))
	assert.True(t, got.StartedAt.Equal(first.StartedAt))
	assert.Equal(t, first.Duration, got.Duration)
	assert.True(t, got.Success)
	assert.Equal(t, 3, got.Transactions)
	assert.Equal(t, 2, got.Tickers)
	assert.Equal(t, 3, got.UniverseLines)
	assert.Equal(t, 3, got.FilesWritten)

	limited, err := j.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "run-2", limited[0].ID)
}

func TestJournalRecordReplaces(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	rec := RunRecord{ID: "run-1", ProcessDate: time.Date(2022, 2, 14, 0, 0, 0, 0, time.UTC), StartedAt: time.Now()}
	require.NoError(t, j.RecordRun(ctx, rec))
	rec.Success = true
	require.NoError(t, j.RecordRun(ctx, rec))

	runs, err := j.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success)
}

func TestJournalLastCompleted(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	_, ok, err := j.LastCompleted(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range []struct {
		day            int
		success        bool
		historyWritten bool
	}{
		{day: 10, success: true, historyWritten: true},
		// History merged but no universe file: still completed.
		{day: 12, success: false, historyWritten: true},
		{day: 14, success: false, historyWritten: false},
	} {
		require.NoError(t, j.RecordRun(ctx, RunRecord{
			ID:             string(rune('a' + i)),
			ProcessDate:    time.Date(2022, 2, r.day, 0, 0, 0, 0, time.UTC),
			StartedAt:      now.Add(time.Duration(i) * time.Minute),
			Success:        r.success,
			HistoryWritten: r.historyWritten,
		}))
	}

	last, ok, err := j.LastCompleted(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2022, 2, 12, 0, 0, 0, 0, time.UTC), last)

	runs, err := j.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.False(t, runs[0].HistoryWritten)
	assert.True(t, runs[1].HistoryWritten)
	assert.False(t, runs[1].Success)
}

func TestJournalUpgradesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE runs (
			id TEXT PRIMARY KEY,
			process_date TEXT NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			success INTEGER NOT NULL,
			transactions INTEGER NOT NULL,
			tickers INTEGER NOT NULL,
			universe_lines INTEGER NOT NULL,
			files_written INTEGER NOT NULL,
			error TEXT NOT NULL
		);
		INSERT INTO runs VALUES ('old', '2022-02-10', '2022-02-11T00:00:00Z', 0, 1, 1, 1, 1, 2, '');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	j, err := NewJournal(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	last, ok, err := j.LastCompleted(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2022, 2, 10, 0, 0, 0, 0, time.UTC), last)

	require.NoError(t, j.RecordRun(context.Background(), RunRecord{
		ID:          "new",
		ProcessDate: time.Date(2022, 2, 11, 0, 0, 0, 0, time.UTC),
		StartedAt:   time.Date(2022, 2, 12, 0, 0, 0, 0, time.UTC),
	}))
}
