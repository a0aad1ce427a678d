// Package parents implements the three-pass parent-attachment pipeline of
// spec.md §4.9: collect referenced parent fullnames from a set of spool
// parts, resolve them against the corpus into a cache, then attach the
// resolved payload to each child record. Grounded on the teacher's
// Service.runHourUnlocked three-phase fetch/read/insert shape
// (internal/services/backfill/service/service.go), generalized here as
// fetch→scan-for-collection, read→scan-for-resolution, insert→join-and-write
package parents

import (
	"encoding/json"
	"sync"

	"redarc/internal/core/record"
	"redarc/internal/parents/kvshard"
)

// Payload is the parent projection attached to a child record on a Pass 3
// hit. A t1_ (comment) parent contributes {Body, Author, CreatedUTC,
// Subreddit}; a t3_ (submission) parent contributes {Title, Selftext,
// Author, CreatedUTC, Subreddit, URL}, per spec.md §4.9's ParentMaps
// definition
type Payload struct {
	Title      string `json:"title,omitempty"`
	Selftext   string `json:"selftext,omitempty"`
	Body       string `json:"body,omitempty"`
	Author     string `json:"author,omitempty"`
	CreatedUTC int64  `json:"created_utc,omitempty"`
	Subreddit  string `json:"subreddit,omitempty"`
	URL        string `json:"url,omitempty"`
}

// SpillThreshold is the suggested entry count above which Resolve spills
// its resolved-parent map to disk via kvshard rather than holding it
// in-memory, per spec.md §4.9's "implementations must document the
// threshold (suggested 50M entries)"
const SpillThreshold = 50_000_000

// Maps holds Pass 2's resolved parent payloads, either entirely in-memory
// (the common case) or backed by a kvshard.Store when the number of wanted
// ids exceeds SpillThreshold. The backing is chosen once, when Resolve
// builds the Maps
type Maps struct {
	mu    sync.Mutex // guards mem; shard is already safe for concurrent Put
	mem   map[string]Payload
	shard *kvshard.Store
}

func newMaps(shardDir string, wantCount int) (*Maps, error) {
	if wantCount <= SpillThreshold {
		return &Maps{mem: make(map[string]Payload, wantCount)}, nil
	}
	s, err := kvshard.Open(shardDir, kvshard.DefaultShardCount)
	if err != nil {
		return nil, err
	}
	return &Maps{shard: s}, nil
}

func (m *Maps) put(key string, p Payload) error {
	if m.mem != nil {
		m.mu.Lock()
		m.mem[key] = p
		m.mu.Unlock()
		return nil
	}
	return m.shard.Put(key, p)
}

// Get looks up the resolved payload for fn
func (m *Maps) Get(fn record.Fullname) (Payload, bool) {
	key := fn.String()
	if m.mem != nil {
		m.mu.Lock()
		p, ok := m.mem[key]
		m.mu.Unlock()
		return p, ok
	}
	raw, ok, err := m.shard.Get(key)
	if err != nil || !ok {
		return Payload{}, false
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, false
	}
	return p, true
}

// Len reports how many parents were resolved
func (m *Maps) Len() int {
	if m.mem != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.mem)
	}
	return m.shard.Len()
}

// Close releases any on-disk backing store. A no-op for an in-memory Maps
func (m *Maps) Close() error {
	if m.shard != nil {
		return m.shard.Close()
	}
	return nil
}

func ownFullname(rec record.Record) (record.Fullname, bool) {
	id := rec.String("id")
	if id == "" {
		return record.Fullname{}, false
	}
	if _, hasParent := rec["parent_id"]; hasParent {
		return record.Fullname{Kind: record.KindComment, ID: id}, true
	}
	return record.Fullname{Kind: record.KindSubmission, ID: id}, true
}
