package sinks

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"redarc/internal/core/corpus"
	"redarc/internal/core/record"
	"redarc/internal/platform/atomicfile"
)

// fieldString reads a string field out of whatever transform.Transform.Apply
// produced: a plain record.Record, or a projected record.Ordered
func fieldString(rec any, field string) string {
	switch v := rec.(type) {
	case record.Record:
		return v.String(field)
	case record.Ordered:
		s, _ := v.Get(field)
		str, _ := s.(string)
		return str
	default:
		return ""
	}
}

// fieldInt64 reads an integer field the same way, accepting the numeric and
// numeric-string encodings Reddit archives mix across eras
func fieldInt64(rec any, field string) (int64, bool) {
	switch v := rec.(type) {
	case record.Record:
		return v.Int64(field)
	case record.Ordered:
		raw, ok := v.Get(field)
		if !ok {
			return 0, false
		}
		return record.Record{field: raw}.Int64(field)
	default:
		return 0, false
	}
}

// CountByMonth tallies matched records per YYYY-MM, across sources, per
// spec.md §4.8. Output is a single TSV (month\tcount, ascending) written on
// Close
type CountByMonth struct {
	path string

	mu     sync.Mutex
	counts map[string]uint64
}

// NewCountByMonth constructs a CountByMonth sink writing its TSV to path
func NewCountByMonth(path string) *CountByMonth {
	return &CountByMonth{path: path, counts: make(map[string]uint64)}
}

// Write implements Sink
func (s *CountByMonth) Write(f corpus.MonthlyFile, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[f.YearMonth.String()]++
	return nil
}

// Close writes the accumulated counts and publishes the TSV
func (s *CountByMonth) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	months := make([]string, 0, len(s.counts))
	for m := range s.counts {
		months = append(months, m)
	}
	sort.Strings(months)

	return atomicfile.Write(s.path, func(w io.Writer) error {
		for _, m := range months {
			if _, err := fmt.Fprintf(w, "%s\t%d\n", m, s.counts[m]); err != nil {
				return err
			}
		}
		return nil
	})
}

// AuthorCounts tallies matched records per author, across all months and
// sources, per spec.md §4.8. TSV rows sort by count descending, ties by
// author ascending, matching the teacher's own unadorned TSV manifest style
// (fmt.Fprintf over a bufio.Writer) rather than a terminal-table library
type AuthorCounts struct {
	path string

	mu     sync.Mutex
	counts map[string]uint64
}

// NewAuthorCounts constructs an AuthorCounts sink writing its TSV to path
func NewAuthorCounts(path string) *AuthorCounts {
	return &AuthorCounts{path: path, counts: make(map[string]uint64)}
}

// Write implements Sink
func (s *AuthorCounts) Write(_ corpus.MonthlyFile, rec any) error {
	author := fieldString(rec, "author")
	if author == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[author]++
	return nil
}

// Close writes the accumulated counts and publishes the TSV
func (s *AuthorCounts) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	authors := make([]string, 0, len(s.counts))
	for a := range s.counts {
		authors = append(authors, a)
	}
	sort.Slice(authors, func(i, j int) bool {
		ci, cj := s.counts[authors[i]], s.counts[authors[j]]
		if ci != cj {
			return ci > cj
		}
		return authors[i] < authors[j]
	})

	return atomicfile.Write(s.path, func(w io.Writer) error {
		for _, a := range authors {
			if _, err := fmt.Fprintf(w, "%s\t%d\n", a, s.counts[a]); err != nil {
				return err
			}
		}
		return nil
	})
}

// FirstSeen tracks the earliest created_utc observed per author, per
// spec.md §4.8. TSV rows sort by author ascending
type FirstSeen struct {
	path string

	mu       sync.Mutex
	earliest map[string]int64
}

// NewFirstSeen constructs a FirstSeen sink writing its TSV to path
func NewFirstSeen(path string) *FirstSeen {
	return &FirstSeen{path: path, earliest: make(map[string]int64)}
}

// Write implements Sink
func (s *FirstSeen) Write(_ corpus.MonthlyFile, rec any) error {
	author := fieldString(rec, "author")
	if author == "" {
		return nil
	}
	created, ok := fieldInt64(rec, "created_utc")
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, seen := s.earliest[author]; !seen || created < prev {
		s.earliest[author] = created
	}
	return nil
}

// Close writes the accumulated first-seen timestamps and publishes the TSV
func (s *FirstSeen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	authors := make([]string, 0, len(s.earliest))
	for a := range s.earliest {
		authors = append(authors, a)
	}
	sort.Strings(authors)

	return atomicfile.Write(s.path, func(w io.Writer) error {
		for _, a := range authors {
			if _, err := fmt.Fprintf(w, "%s\t%d\n", a, s.earliest[a]); err != nil {
				return err
			}
		}
		return nil
	})
}
