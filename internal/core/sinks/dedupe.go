package sinks

import (
	"strings"
	"sync"

	"redarc/internal/core/corpus"
)

// KeyExtractor derives a dedupe key from a matched record, returning false
// if the record carries no usable key (in which case Dedupe passes it
// through unconditionally rather than risk dropping good data)
type KeyExtractor func(f corpus.MonthlyFile, rec any) (string, bool)

// SubredditAndID is the default KeyExtractor: subreddit+id, lowercased,
// supplementing the spec per original_source's key_extractor.rs
func SubredditAndID(_ corpus.MonthlyFile, rec any) (string, bool) {
	sub := strings.ToLower(fieldString(rec, "subreddit"))
	id := fieldString(rec, "id")
	if sub == "" || id == "" {
		return "", false
	}
	return sub + "/" + id, true
}

// Dedupe wraps an inner Sink, silently dropping records whose key (per
// extract) has already been seen. Supplements the spec per
// original_source's dedupe.rs and key_extractor.rs, useful when a caller
// scans overlapping windows. Not restartable: the seen-set lives only for
// the lifetime of one Dedupe instance
type Dedupe struct {
	inner   Sink
	extract KeyExtractor

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupe wraps inner with a key-based dedupe filter. A nil extract uses
// SubredditAndID
func NewDedupe(inner Sink, extract KeyExtractor) *Dedupe {
	if extract == nil {
		extract = SubredditAndID
	}
	return &Dedupe{inner: inner, extract: extract, seen: make(map[string]struct{})}
}

// Write implements Sink
func (d *Dedupe) Write(f corpus.MonthlyFile, rec any) error {
	key, ok := d.extract(f, rec)
	if ok {
		d.mu.Lock()
		_, dup := d.seen[key]
		if !dup {
			d.seen[key] = struct{}{}
		}
		d.mu.Unlock()
		if dup {
			return nil
		}
	}
	return d.inner.Write(f, rec)
}

// Close implements Sink, delegating to inner
func (d *Dedupe) Close() error { return d.inner.Close() }
