package sinks

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"redarc/internal/adapters/zstdio"
	"redarc/internal/core/corpus"
	"redarc/internal/platform/atomicfile"
	perr "redarc/internal/platform/errors"
)

// Partitioned mirrors the input corpus's partitioning: one output file per
// input monthly file, preserving RC_YYYY-MM / RS_YYYY-MM naming, format
// jsonl or zst, per spec.md §4.8
type Partitioned struct {
	outDir string
	ext    string

	mu   sync.Mutex
	open map[string]*partitionEntry
}

type partitionEntry struct {
	mu sync.Mutex
	wc io.WriteCloser
}

// NewPartitioned constructs a Partitioned sink writing under outDir with
// the given extension ("jsonl" or "zst")
func NewPartitioned(outDir, ext string) (*Partitioned, error) {
	if ext != "jsonl" && ext != "zst" {
		return nil, perr.Configurationf("sinks: partitioned export ext must be jsonl or zst, got %q", ext)
	}
	return &Partitioned{outDir: outDir, ext: ext, open: make(map[string]*partitionEntry)}, nil
}

// PartitionPath renders the output path for file under outDir with ext,
// per spec.md §6's path conventions
func PartitionPath(outDir string, f corpus.MonthlyFile, ext string) string {
	sub, prefix := "comments", "RC"
	if f.Source == corpus.Submissions {
		sub, prefix = "submissions", "RS"
	}
	return filepath.Join(outDir, sub, fmt.Sprintf("%s_%s.%s", prefix, f.YearMonth.String(), ext))
}

func (p *Partitioned) entryFor(f corpus.MonthlyFile) (*partitionEntry, error) {
	path := PartitionPath(p.outDir, f, p.ext)

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.open[path]; ok {
		return e, nil
	}

	aw, err := atomicfile.OpenWriter(path)
	if err != nil {
		return nil, err
	}
	var wc io.WriteCloser = aw
	if p.ext == "zst" {
		zw, err := zstdio.NewWriter(aw, 0)
		if err != nil {
			_ = aw.Abort()
			return nil, err
		}
		wc = zw
	}
	e := &partitionEntry{wc: wc}
	p.open[path] = e
	return e, nil
}

// Write implements Sink
func (p *Partitioned) Write(f corpus.MonthlyFile, rec any) error {
	b, err := marshalLine(rec)
	if err != nil {
		return err
	}
	e, err := p.entryFor(f)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.wc.Write(b)
	return err
}

// Close finalizes and publishes every partition opened so far
func (p *Partitioned) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, e := range p.open {
		e.mu.Lock()
		if err := e.wc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.mu.Unlock()
	}
	return firstErr
}
