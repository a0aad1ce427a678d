package sinks

import (
	"encoding/json"
	"sync"

	"redarc/internal/core/corpus"
	"redarc/internal/platform/atomicfile"
	perr "redarc/internal/platform/errors"
)

// JSONArray writes `[rec1,rec2,...]`, comma-separated, atomicity guaranteed
// by temp-then-rename per spec.md §4.8
type JSONArray struct {
	mu    sync.Mutex
	w     *atomicfile.Writer
	count int
}

// NewJSONArray opens an atomic writer at path and emits the opening bracket
func NewJSONArray(path string) (*JSONArray, error) {
	w, err := atomicfile.OpenWriter(path)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte("[")); err != nil {
		_ = w.Abort()
		return nil, err
	}
	return &JSONArray{w: w}, nil
}

// Write implements Sink
func (s *JSONArray) Write(_ corpus.MonthlyFile, rec any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDecode, "sinks: marshaling record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		if _, err := s.w.Write([]byte(",")); err != nil {
			return err
		}
	}
	s.count++
	_, err = s.w.Write(b)
	return err
}

// Close emits the closing bracket and publishes the file
func (s *JSONArray) Close() error {
	if _, err := s.w.Write([]byte("]")); err != nil {
		_ = s.w.Abort()
		return err
	}
	return s.w.Close()
}
