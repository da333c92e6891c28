// Package store persists the raw vendor transactions of each processed date
// and the journal of pipeline runs.
package store

import "time"

// RunRecord is one journal entry describing a pipeline run.
type RunRecord struct {
	ID          string
	ProcessDate time.Time
	StartedAt   time.Time
	Duration    time.Duration
	Success     bool
	// HistoryWritten is true when every per-ticker file was merged, even if
	// the run failed afterwards (no symbol mapping data).
	HistoryWritten bool
	Transactions   int
	Tickers        int
	UniverseLines  int
	FilesWritten   int
	Error          string
}
