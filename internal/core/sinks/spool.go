package sinks

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"redarc/internal/core/corpus"
	"redarc/internal/platform/atomicfile"
	perr "redarc/internal/platform/errors"
)

// manifestName is the sidecar bookkeeping file Spool writes alongside its
// partitions, grounded on gharchive/cache.go's sidecar-metadata/resume
// pattern generalized from one cached response to many monthly partitions
const manifestName = "manifest.tsv"

// manifestRow is one line of manifest.tsv: path, size in bytes, mtime as a
// unix timestamp, and the record count written to that partition
type manifestRow struct {
	path  string
	size  int64
	mtime int64
	lines int64
}

// Spool writes one jsonl partition per input monthly file (same naming as
// Partitioned, jsonl only) plus a manifest.tsv recording each partition's
// size, mtime, and line count. A partition whose manifest row still matches
// the file on disk at construction time is treated as already complete:
// further Write calls for that partition are silently dropped, letting a
// re-run resume without re-deriving finished months
type Spool struct {
	outDir string

	mu      sync.Mutex
	open    map[string]*spoolEntry
	resumed map[string]manifestRow
}

type spoolEntry struct {
	mu    sync.Mutex
	w     *atomicfile.Writer
	path  string
	lines int64
}

// NewSpool constructs a Spool sink under outDir, loading manifest.tsv if
// present to determine which partitions are already complete
func NewSpool(outDir string) (*Spool, error) {
	s := &Spool{
		outDir:  outDir,
		open:    make(map[string]*spoolEntry),
		resumed: make(map[string]manifestRow),
	}
	rows, err := readManifest(filepath.Join(outDir, manifestName))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		fi, err := os.Stat(row.path)
		if err != nil || fi.Size() != row.size {
			continue // stale or missing; will be rewritten from scratch
		}
		s.resumed[row.path] = row
	}
	return s, nil
}

func readManifest(path string) ([]manifestRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeIOTransient, "sinks: reading %q", path)
	}
	defer func() { _ = f.Close() }()

	var rows []manifestRow
	sc := newLineScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) != 4 {
			continue
		}
		size, err1 := strconv.ParseInt(fields[1], 10, 64)
		mtime, err2 := strconv.ParseInt(fields[2], 10, 64)
		lines, err3 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		rows = append(rows, manifestRow{path: fields[0], size: size, mtime: mtime, lines: lines})
	}
	return rows, nil
}

// Write implements Sink. Records destined for an already-complete partition
// (per the manifest loaded at construction) are silently dropped
func (s *Spool) Write(f corpus.MonthlyFile, rec any) error {
	path := PartitionPath(s.outDir, f, "jsonl")

	s.mu.Lock()
	if _, done := s.resumed[path]; done {
		s.mu.Unlock()
		return nil
	}
	e, ok := s.open[path]
	if !ok {
		aw, err := atomicfile.OpenWriter(path)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		e = &spoolEntry{w: aw, path: path}
		s.open[path] = e
	}
	s.mu.Unlock()

	b, err := marshalLine(rec)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(b); err != nil {
		return err
	}
	e.lines++
	return nil
}

// Close publishes every open partition and rewrites manifest.tsv to cover
// both newly written and carried-over resumed partitions
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []manifestRow
	var firstErr error
	for path, e := range s.open {
		e.mu.Lock()
		err := e.w.Close()
		lines := e.lines
		e.mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fi, serr := os.Stat(path)
		if serr != nil {
			if firstErr == nil {
				firstErr = perr.Wrapf(serr, perr.ErrorCodeIOPermanent, "sinks: stat %q", path)
			}
			continue
		}
		rows = append(rows, manifestRow{path: path, size: fi.Size(), mtime: fi.ModTime().Unix(), lines: lines})
	}
	for path, row := range s.resumed {
		if _, rewritten := s.open[path]; rewritten {
			continue
		}
		rows = append(rows, row)
	}
	if firstErr != nil {
		return firstErr
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].path < rows[j].path })
	return atomicfile.Write(filepath.Join(s.outDir, manifestName), func(w io.Writer) error {
		for _, row := range rows {
			if _, err := fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", row.path, row.size, row.mtime, row.lines); err != nil {
				return err
			}
		}
		return nil
	})
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return sc
}
