// Package transform applies field projection and timestamp humanization to
// a matched Record, per spec.md §4.7. Runs once per record, after the
// Query predicate has already succeeded
package transform

import (
	"time"

	"redarc/internal/core/record"
)

// Config selects which projection and formatting steps Apply performs.
// Whitelist and Blacklist are mutually exclusive in practice (whitelist
// wins if both are set) since applying both would be redundant
type Config struct {
	Whitelist               []string
	Blacklist               []string
	TimestampsHumanReadable bool
}

// Transform is an immutable, concurrency-safe projector built from Config
type Transform struct {
	whitelist []string
	blacklist map[string]struct{}
	humanize  bool
}

// New builds a Transform from cfg
func New(cfg Config) *Transform {
	t := &Transform{
		whitelist: append([]string(nil), cfg.Whitelist...),
		humanize:  cfg.TimestampsHumanReadable,
	}
	if len(cfg.Blacklist) > 0 {
		t.blacklist = make(map[string]struct{}, len(cfg.Blacklist))
		for _, k := range cfg.Blacklist {
			t.blacklist[k] = struct{}{}
		}
	}
	return t
}

// Apply projects rec per the configured whitelist/blacklist and timestamp
// policy. The result is either a record.Record (no whitelist: still a live
// map, in arbitrary key order) or a record.Ordered (whitelist configured:
// fixed field order, per spec.md §4.7's "preserving field insertion
// order" - here, the whitelist's own order, since a parsed JSON map
// carries no ordering of its own). Both marshal to JSON via the standard
// library without further handling by the caller
func (t *Transform) Apply(rec record.Record) any {
	work := rec
	if t.humanize {
		work = humanizeTimestamp(rec)
	}

	if len(t.whitelist) > 0 {
		return project(work, t.whitelist)
	}
	if t.blacklist != nil {
		return subtract(work, t.blacklist)
	}
	return work
}

// humanizeTimestamp replaces created_utc with an ISO-8601 UTC string,
// preserving the original integer under created_utc_epoch. Returns a copy;
// the input is never mutated (invariant 3: predicates and projection are
// side-effect-free)
func humanizeTimestamp(rec record.Record) record.Record {
	ts, ok := rec.Int64("created_utc")
	if !ok {
		return rec
	}
	out := make(record.Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	out["created_utc_epoch"] = ts
	out["created_utc"] = time.Unix(ts, 0).UTC().Format(time.RFC3339)
	return out
}

// project reduces rec to exactly fields, in fields' order. A listed field
// absent from rec is simply omitted (invariant 2: projection never
// fabricates fields)
func project(rec record.Record, fields []string) record.Ordered {
	out := make(record.Ordered, 0, len(fields))
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out = append(out, record.OrderedField{Key: f, Value: v})
		}
	}
	return out
}

// subtract returns a copy of rec with every blacklisted key removed
func subtract(rec record.Record, blacklist map[string]struct{}) record.Record {
	out := make(record.Record, len(rec))
	for k, v := range rec {
		if _, deny := blacklist[k]; deny {
			continue
		}
		out[k] = v
	}
	return out
}
