package sinks

import (
	"sync"

	"redarc/internal/core/corpus"
)

// Usernames is a lazy, finite, non-restartable sequence of distinct author
// strings in discovery order, per spec.md §4.8. Write feeds it from the
// scan; Next drains it. Once Close has been called and every buffered name
// has been drained, Next returns ("", false) forever
type Usernames struct {
	ch chan string

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewUsernames constructs a Usernames sink. buffer bounds how many
// not-yet-drained distinct names it holds before Write blocks; a caller
// that never drains Next on a large corpus will stall the scan, same as any
// unbuffered producer/consumer pipeline
func NewUsernames(buffer int) *Usernames {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Usernames{ch: make(chan string, buffer), seen: make(map[string]struct{})}
}

// Write implements Sink
func (u *Usernames) Write(_ corpus.MonthlyFile, rec any) error {
	author := fieldString(rec, "author")
	if author == "" {
		return nil
	}
	u.mu.Lock()
	_, dup := u.seen[author]
	if !dup {
		u.seen[author] = struct{}{}
	}
	u.mu.Unlock()
	if dup {
		return nil
	}
	u.ch <- author
	return nil
}

// Close implements Sink, signaling that no further names will arrive
func (u *Usernames) Close() error {
	close(u.ch)
	return nil
}

// Next blocks for the next distinct username, returning false once Close
// has been called and every name has been drained
func (u *Usernames) Next() (string, bool) {
	name, ok := <-u.ch
	return name, ok
}
