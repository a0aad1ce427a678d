package parents

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"redarc/internal/core/record"
	"redarc/internal/platform/atomicfile"
	perr "redarc/internal/platform/errors"
)

// AttachConfig configures Pass 3
type AttachConfig struct {
	Parts       []string
	OutDir      string
	Resume      bool
	Concurrency int
}

func (c AttachConfig) withDefaults() AttachConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	return c
}

// Attach is Pass 3: read each input JSONL part, and for every record, look
// up its parent_id fullname in maps. On hit, attach a "parent" sub-object
// with the resolved payload; on miss, emit the record unchanged (left
// outer join, per spec.md §4.9). Self-reference is never attached. Output
// mirrors the input partitioning under cfg.OutDir, resumable identically to
// the Spool sink
func Attach(ctx context.Context, cfg AttachConfig, maps *Maps) error {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIOPermanent, "parents: mkdir %q", cfg.OutDir)
	}

	existing := make(map[string]cacheManifestRow)
	if cfg.Resume {
		rows, err := readCacheManifest(filepath.Join(cfg.OutDir, cacheManifestName))
		if err != nil {
			return err
		}
		existing = rows
	}

	var mu sync.Mutex
	var rows []cacheManifestRow
	recordRow := func(row cacheManifestRow) {
		mu.Lock()
		rows = append(rows, row)
		mu.Unlock()
	}

	sem := semaphore.NewWeighted(int64(cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
outer:
	for _, part := range cfg.Parts {
		part := part
		outPath := filepath.Join(cfg.OutDir, filepath.Base(part))

		if cfg.Resume {
			if row, ok := existing[outPath]; ok {
				if fi, statErr := os.Stat(outPath); statErr == nil && fi.Size() == row.size {
					recordRow(row)
					continue
				}
			}
		}

		if err := sem.Acquire(gctx, 1); err != nil {
			g.Go(func() error { return err })
			break outer
		}
		g.Go(func() error {
			defer sem.Release(1)
			row, err := attachPart(gctx, part, outPath, maps)
			if err != nil {
				return err
			}
			recordRow(row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].path < rows[j].path })
	return writeCacheManifest(filepath.Join(cfg.OutDir, cacheManifestName), rows)
}

func attachPart(ctx context.Context, inPath, outPath string, maps *Maps) (cacheManifestRow, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return cacheManifestRow{}, perr.Wrapf(err, perr.ErrorCodeIOTransient, "parents: opening %q", inPath)
	}
	defer func() { _ = in.Close() }()

	w, err := atomicfile.OpenWriter(outPath)
	if err != nil {
		return cacheManifestRow{}, err
	}

	var lines int64
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			_ = w.Abort()
			return cacheManifestRow{}, perr.Cancelledf("parents: attaching %q", inPath)
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		out, err := attachLine(line, maps)
		if err != nil {
			continue // malformed input line; Attach is best-effort like the rest of the pipeline
		}
		if _, err := w.Write(out); err != nil {
			return cacheManifestRow{}, err
		}
		lines++
	}
	if err := sc.Err(); err != nil {
		_ = w.Abort()
		return cacheManifestRow{}, perr.Wrapf(err, perr.ErrorCodeDecode, "parents: scanning %q", inPath)
	}
	if err := w.Close(); err != nil {
		return cacheManifestRow{}, err
	}
	fi, err := os.Stat(outPath)
	if err != nil {
		return cacheManifestRow{}, perr.Wrapf(err, perr.ErrorCodeIOPermanent, "parents: stat %q", outPath)
	}
	return cacheManifestRow{path: outPath, size: fi.Size(), mtime: fi.ModTime().Unix(), lines: lines}, nil
}

func attachLine(line []byte, maps *Maps) ([]byte, error) {
	var rec record.Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDecode, "parents: decoding line")
	}

	parentRaw := rec.String("parent_id")
	if parentRaw != "" {
		if parentFn, ok := record.ParseFullname(parentRaw); ok {
			own, hasOwn := ownFullname(rec)
			if !hasOwn || parentFn != own {
				if payload, hit := maps.Get(parentFn); hit {
					rec["parent"] = payload
				}
			}
		}
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDecode, "parents: encoding line")
	}
	return append(b, '\n'), nil
}
