package insider

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"insidertrading/internal/domain"
)

// Order selects how merged lines are sorted.
type Order int

const (
	// ByDate sorts history lines by the yyyyMMdd date in their first column.
	ByDate Order = iota
	// Lexical sorts lines by plain string order.
	Lexical
)

// MergeWrite unions lines with the existing contents of readPath, removes
// exact duplicates, sorts them in the given order and overwrites writePath
// with the result. A missing readPath counts as empty. It returns the number
// of lines written.
func MergeWrite(readPath, writePath string, lines []string, order Order) (int, error) {
	set := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		set[line] = struct{}{}
	}

	existing, err := readLines(readPath)
	if err != nil {
		return 0, err
	}
	for _, line := range existing {
		set[line] = struct{}{}
	}

	merged := make([]string, 0, len(set))
	for line := range set {
		merged = append(merged, line)
	}
	if err := sortLines(merged, order); err != nil {
		return 0, fmt.Errorf("sorting %s: %w", writePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(writePath), 0o755); err != nil {
		return 0, fmt.Errorf("creating dir for %s: %w", writePath, err)
	}
	var sb strings.Builder
	for _, line := range merged {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(writePath, []byte(sb.String()), 0o644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", writePath, err)
	}
	return len(merged), nil
}

// readLines returns the non-empty lines of path, or nil if it does not exist.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func sortLines(lines []string, order Order) error {
	if order == Lexical {
		sort.Strings(lines)
		return nil
	}

	dates := make(map[string]time.Time, len(lines))
	for _, line := range lines {
		head, _, _ := strings.Cut(line, ",")
		d, err := time.Parse(domain.FileDateLayout, head)
		if err != nil {
			return fmt.Errorf("line %q: %w", line, err)
		}
		dates[line] = d
	}

	// Lines sharing a date fall back to string order so rewrites are stable.
	sort.Slice(lines, func(i, j int) bool {
		di, dj := dates[lines[i]], dates[lines[j]]
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return lines[i] < lines[j]
	})
	return nil
}
