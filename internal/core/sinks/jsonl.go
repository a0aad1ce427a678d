package sinks

import (
	"sync"

	"redarc/internal/core/corpus"
	"redarc/internal/platform/atomicfile"
)

// JSONL writes one record per line (UTF-8, LF-terminated) to a single
// output file, published atomically on Close via atomicfile.Writer. Safe
// for concurrent Write calls across files, per spec.md §4.8
type JSONL struct {
	mu sync.Mutex
	w  *atomicfile.Writer
}

// NewJSONL opens an atomic writer at path; the file is not visible at path
// until Close
func NewJSONL(path string) (*JSONL, error) {
	w, err := atomicfile.OpenWriter(path)
	if err != nil {
		return nil, err
	}
	return &JSONL{w: w}, nil
}

// Write implements Sink
func (s *JSONL) Write(_ corpus.MonthlyFile, rec any) error {
	b, err := marshalLine(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(b)
	return err
}

// Close implements Sink
func (s *JSONL) Close() error { return s.w.Close() }
