// Package corpus discovers monthly Reddit archive files under a base
// directory and intersects them with an optional year-month window
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	perr "redarc/internal/platform/errors"
)

// SourceKind selects which archive subdirectories contribute to a scan
type SourceKind int

const (
	// Comments selects comments/RC_YYYY-MM.zst files
	Comments SourceKind = iota
	// Submissions selects submissions/RS_YYYY-MM.zst files
	Submissions
	// Both selects comments and submissions
	Both
)

// String renders the source kind name used in paths and log fields
func (s SourceKind) String() string {
	switch s {
	case Comments:
		return "comments"
	case Submissions:
		return "submissions"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// YearMonth is a (year, month) pair, totally ordered lexicographically
type YearMonth struct {
	Year  int
	Month int
}

// Before reports whether ym sorts strictly before other
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// String renders YYYY-MM
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// YearMonthRange is a closed [From, To] interval. A zero-value bound
// ({0, 0}) on either side means unbounded in that direction
type YearMonthRange struct {
	From YearMonth
	To   YearMonth
}

// Contains reports whether ym falls within the range, honoring unbounded ends
func (r YearMonthRange) Contains(ym YearMonth) bool {
	if !isZero(r.From) && ym.Before(r.From) {
		return false
	}
	if !isZero(r.To) && r.To.Before(ym) {
		return false
	}
	return true
}

func isZero(ym YearMonth) bool { return ym.Year == 0 && ym.Month == 0 }

// MonthlyFile is an immutable, discovered archive file
type MonthlyFile struct {
	Path      string
	Source    SourceKind // Comments or Submissions; never Both
	YearMonth YearMonth
}

var filenamePattern = regexp.MustCompile(`^(RC|RS)_(\d{4})-(\d{2})\.zst$`)

// parseFilename validates a bare filename against the RC/RS_YYYY-MM.zst
// discipline and returns the derived source kind and year-month
func parseFilename(name string) (SourceKind, YearMonth, bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, YearMonth{}, false
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, YearMonth{}, false
	}
	month, err := strconv.Atoi(m[3])
	if err != nil || month < 1 || month > 12 {
		return 0, YearMonth{}, false
	}
	kind := Comments
	if m[1] == "RS" {
		kind = Submissions
	}
	return kind, YearMonth{Year: year, Month: month}, true
}

// Discover enumerates the comments/ and/or submissions/ subdirectories of
// baseDir, validates each filename, and intersects with window. Results are
// sorted deterministically by (year-month ascending, Comments before
// Submissions). An empty baseDir is a configuration error and a missing or
// non-directory base is a discovery error; an empty intersection with window
// is success with a nil slice, not an error
func Discover(baseDir string, sources SourceKind, window YearMonthRange) ([]MonthlyFile, error) {
	if baseDir == "" {
		return nil, perr.Configurationf("corpus: base_dir is required")
	}
	if fi, err := os.Stat(baseDir); err != nil || !fi.IsDir() {
		return nil, perr.Discoveryf("corpus: base directory %q is not accessible", baseDir)
	}

	var kinds []SourceKind
	switch sources {
	case Comments, Submissions:
		kinds = []SourceKind{sources}
	case Both:
		kinds = []SourceKind{Comments, Submissions}
	default:
		return nil, perr.Configurationf("corpus: unknown source kind %v", sources)
	}

	var out []MonthlyFile
	for _, kind := range kinds {
		sub := filepath.Join(baseDir, kind.String())
		entries, err := os.ReadDir(sub)
		if err != nil {
			if os.IsNotExist(err) {
				continue // an absent subdir contributes nothing, not an error
			}
			return nil, perr.Wrapf(err, perr.ErrorCodeDiscovery, "corpus: reading %q", sub)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			gotKind, ym, ok := parseFilename(e.Name())
			if !ok || gotKind != kind {
				continue
			}
			if !window.Contains(ym) {
				continue
			}
			out = append(out, MonthlyFile{
				Path:      filepath.Join(sub, e.Name()),
				Source:    kind,
				YearMonth: ym,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].YearMonth != out[j].YearMonth {
			return out[i].YearMonth.Before(out[j].YearMonth)
		}
		return out[i].Source < out[j].Source // Comments (0) before Submissions (1)
	})

	return out, nil
}
