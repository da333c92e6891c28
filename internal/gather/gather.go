// Package gather defines the contract shared by dataset downloaders.
package gather

import (
	"context"
	"fmt"
	"time"
)

// Gatherer downloads and persists one processing date of a dataset.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run processes a single date and reports whether it fully succeeded.
	Run(ctx context.Context, date time.Time) bool
}

// DateRange represents an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange validates and returns the range [start, end].
func NewDateRange(start, end time.Time) (DateRange, error) {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return DateRange{}, fmt.Errorf("date range end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return DateRange{Start: start, End: end}, nil
}

// Days returns every calendar date in the range in ascending order.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := Day(r.Start); !d.After(Day(r.End)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
