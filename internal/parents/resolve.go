package parents

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"redarc/internal/adapters/zstdio"
	"redarc/internal/core/corpus"
	"redarc/internal/core/linesource"
	"redarc/internal/core/record"
	"redarc/internal/platform/atomicfile"
	perr "redarc/internal/platform/errors"
)

// cacheManifestName is the sidecar bookkeeping file for the parents cache,
// same shape as the Spool sink's manifest.tsv, grounded on
// gharchive/cache.go's sidecar-metadata/resume pattern
const cacheManifestName = "manifest.tsv"

// ResolveConfig configures Pass 2
type ResolveConfig struct {
	BaseDir         string
	CacheDir        string
	Window          corpus.YearMonthRange
	Resume          bool
	FileConcurrency int
	WindowLog       int
}

func (c ResolveConfig) withDefaults() ResolveConfig {
	if c.FileConcurrency <= 0 {
		c.FileConcurrency = runtime.NumCPU()
	}
	return c
}

type cacheManifestRow struct {
	path  string
	size  int64
	mtime int64
	lines int64
}

// cachePath renders the per-month, per-kind cache file path, per spec.md
// §4.9 ("parents_cache/<YYYY-MM>.t1.jsonl and .t3.jsonl")
func cachePath(cacheDir string, ym corpus.YearMonth, kind record.FullnameKind) string {
	return filepath.Join(cacheDir, fmt.Sprintf("%s.%s.jsonl", ym.String(), kind.String()))
}

func fullnameKindFor(source corpus.SourceKind) record.FullnameKind {
	if source == corpus.Submissions {
		return record.KindSubmission
	}
	return record.KindComment
}

func payloadFor(source corpus.SourceKind, rec record.Record) Payload {
	createdUTC, _ := rec.Int64("created_utc")
	if source == corpus.Submissions {
		return Payload{
			Title:      rec.String("title"),
			Selftext:   rec.String("selftext"),
			Author:     rec.String("author"),
			CreatedUTC: createdUTC,
			Subreddit:  rec.String("subreddit"),
			URL:        rec.String("url"),
		}
	}
	return Payload{
		Body:       rec.String("body"),
		Author:     rec.String("author"),
		CreatedUTC: createdUTC,
		Subreddit:  rec.String("subreddit"),
	}
}

// Resolve is Pass 2: scan the corpus within window, and for every record
// whose fullname lies in wantT1/wantT3, project its minimal parent payload,
// write it to a per-month cache file, and load it into the returned Maps.
// If cfg.Resume, a cache file whose manifest row still matches its on-disk
// size is reused verbatim instead of rescanned
func Resolve(ctx context.Context, cfg ResolveConfig, wantT1, wantT3 IDSet) (*Maps, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIOPermanent, "parents: mkdir %q", cfg.CacheDir)
	}

	maps, err := newMaps(filepath.Join(cfg.CacheDir, "shards"), len(wantT1)+len(wantT3))
	if err != nil {
		return nil, err
	}

	files, err := corpus.Discover(cfg.BaseDir, corpus.Both, cfg.Window)
	if err != nil {
		_ = maps.Close()
		return nil, err
	}

	existing := make(map[string]cacheManifestRow)
	if cfg.Resume {
		existing, err = readCacheManifest(filepath.Join(cfg.CacheDir, cacheManifestName))
		if err != nil {
			_ = maps.Close()
			return nil, err
		}
	}

	var mu sync.Mutex
	var rows []cacheManifestRow
	recordRow := func(row cacheManifestRow) {
		mu.Lock()
		rows = append(rows, row)
		mu.Unlock()
	}

	sem := semaphore.NewWeighted(int64(cfg.FileConcurrency))
	g, gctx := errgroup.WithContext(ctx)
outer:
	for _, f := range files {
		f := f
		kind := fullnameKindFor(f.Source)
		path := cachePath(cfg.CacheDir, f.YearMonth, kind)

		if cfg.Resume {
			if row, ok := existing[path]; ok {
				if fi, statErr := os.Stat(path); statErr == nil && fi.Size() == row.size {
					if err := loadCacheFile(path, maps); err != nil {
						_ = maps.Close()
						return nil, err
					}
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
			row, err := resolveFile(gctx, f, kind, path, wantT1, wantT3, maps, cfg.WindowLog)
			if err != nil {
				return err
			}
			recordRow(row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = maps.Close()
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].path < rows[j].path })
	if err := writeCacheManifest(filepath.Join(cfg.CacheDir, cacheManifestName), rows); err != nil {
		_ = maps.Close()
		return nil, err
	}
	return maps, nil
}

func resolveFile(
	ctx context.Context,
	f corpus.MonthlyFile,
	kind record.FullnameKind,
	outPath string,
	wantT1, wantT3 IDSet,
	maps *Maps,
	windowLog int,
) (cacheManifestRow, error) {
	want := wantT1
	if kind == record.KindSubmission {
		want = wantT3
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return cacheManifestRow{}, perr.Wrapf(err, perr.ErrorCodeIOTransient, "parents: opening %q", f.Path)
	}
	zr, err := zstdio.NewReader(file, windowLog)
	if err != nil {
		return cacheManifestRow{}, err
	}
	defer func() { _ = zr.Close() }()

	w, err := atomicfile.OpenWriter(outPath)
	if err != nil {
		return cacheManifestRow{}, err
	}

	var lines int64
	sc := linesource.New(zr, nil)
	for {
		if err := ctx.Err(); err != nil {
			_ = w.Abort()
			return cacheManifestRow{}, perr.Cancelledf("parents: resolving %q", f.Path)
		}
		line, _, err := sc.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			_ = w.Abort()
			return cacheManifestRow{}, err
		}
		var rec record.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		id := rec.String("id")
		if id == "" {
			continue
		}
		if _, ok := want[id]; !ok {
			continue
		}
		payload := payloadFor(f.Source, rec)
		fn := record.Fullname{Kind: kind, ID: id}
		if err := maps.put(fn.String(), payload); err != nil {
			_ = w.Abort()
			return cacheManifestRow{}, err
		}
		b, err := marshalCacheLine(fn.String(), payload)
		if err != nil {
			_ = w.Abort()
			return cacheManifestRow{}, err
		}
		if _, err := w.Write(b); err != nil {
			return cacheManifestRow{}, err
		}
		lines++
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

type cacheLine struct {
	Fullname string  `json:"fullname"`
	Payload  Payload `json:"payload"`
}

func marshalCacheLine(fullname string, p Payload) ([]byte, error) {
	b, err := json.Marshal(cacheLine{Fullname: fullname, Payload: p})
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDecode, "parents: marshaling cache line")
	}
	return append(b, '\n'), nil
}

// loadCacheFile reads an existing cache file (reused verbatim on resume)
// back into maps
func loadCacheFile(path string, maps *Maps) error {
	f, err := os.Open(path)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIOTransient, "parents: opening cache %q", path)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var line cacheLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		if err := maps.put(line.Fullname, line.Payload); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDecode, "parents: scanning cache %q", path)
	}
	return nil
}

func readCacheManifest(path string) (map[string]cacheManifestRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]cacheManifestRow{}, nil
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeIOTransient, "parents: reading %q", path)
	}
	defer func() { _ = f.Close() }()

	rows := make(map[string]cacheManifestRow)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
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
		rows[fields[0]] = cacheManifestRow{path: fields[0], size: size, mtime: mtime, lines: lines}
	}
	return rows, nil
}

func writeCacheManifest(path string, rows []cacheManifestRow) error {
	return atomicfile.Write(path, func(w io.Writer) error {
		for _, row := range rows {
			if _, err := fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", row.path, row.size, row.mtime, row.lines); err != nil {
				return err
			}
		}
		return nil
	})
}
