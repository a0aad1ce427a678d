package parents

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"redarc/internal/core/record"
	perr "redarc/internal/platform/errors"
)

// IDSet is a deduplicated set of base-36 Reddit IDs, keyed by the bare ID
// (the kind is implied by which set — t1 or t3 — an ID landed in)
type IDSet map[string]struct{}

// CollectConfig controls Pass 1
type CollectConfig struct {
	Concurrency int
	// IncludeLinkID additionally collects each record's link_id fullname
	// alongside parent_id. Default is parent_id only, per spec.md §4.9
	// ("whether link_id is collected alongside parent_id in pass 1 is
	// caller-configurable; default is parent_id only")
	IncludeLinkID bool
}

func (c CollectConfig) withDefaults() CollectConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	return c
}

// CollectIDs is Pass 1: read every spool part, extract each record's
// parent_id (and, if cfg.IncludeLinkID, link_id), normalize to (kind,
// base36), and deduplicate into two sets. A fullname referencing the
// record's own id is discarded, per spec.md §4.9
func CollectIDs(ctx context.Context, parts []string, cfg CollectConfig) (wantT1, wantT3 IDSet, err error) {
	cfg = cfg.withDefaults()
	t1 := make(IDSet)
	t3 := make(IDSet)
	var mu sync.Mutex

	sem := semaphore.NewWeighted(int64(cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for _, part := range parts {
		part := part
		if err := sem.Acquire(gctx, 1); err != nil {
			g.Go(func() error { return err })
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return collectFromPart(gctx, part, cfg.IncludeLinkID, &mu, t1, t3)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return t1, t3, nil
}

func collectFromPart(ctx context.Context, path string, includeLinkID bool, mu *sync.Mutex, t1, t3 IDSet) error {
	f, err := os.Open(path)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIOTransient, "parents: opening %q", path)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return perr.Cancelledf("parents: collecting ids from %q", path)
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // malformed spool line; Pass 1 is best-effort collection
		}
		own, hasOwn := ownFullname(rec)
		add := func(raw string) {
			fn, ok := record.ParseFullname(raw)
			if !ok {
				return
			}
			if hasOwn && fn == own {
				return // self-reference, discarded
			}
			mu.Lock()
			switch fn.Kind {
			case record.KindComment:
				t1[fn.ID] = struct{}{}
			case record.KindSubmission:
				t3[fn.ID] = struct{}{}
			}
			mu.Unlock()
		}
		if v := rec.String("parent_id"); v != "" {
			add(v)
		}
		if includeLinkID {
			if v := rec.String("link_id"); v != "" {
				add(v)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDecode, "parents: scanning %q", path)
	}
	return nil
}
