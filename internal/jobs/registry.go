package jobs

import (
	"context"
	"sync"
	"sync/atomic"
)

// registry is the insertion-ordered job list.
// entries is read or written only with mu held.
type registry struct {
	mu      sync.Mutex
	entries []*entry

	// size mirrors len(entries) for lock-free status reads.
	size atomic.Int64
	// seq is the last registration number handed out.
	seq atomic.Uint64
	// current is the name of the job being run, for panic reports.
	current atomic.Value
}

func (r *registry) add(e *entry) int {
	r.mu.Lock()
	e.seq = r.seq.Add(1)
	r.entries = append(r.entries, e)
	n := len(r.entries)
	r.size.Store(int64(n))
	r.mu.Unlock()
	return n
}

// remove deletes every entry matching id and returns (removed, remaining).
func (r *registry) remove(id identity) (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	for _, e := range r.entries {
		if !e.id.matches(id) {
			kept = append(kept, e)
		}
	}
	removed := len(r.entries) - len(kept)
	clear(r.entries[len(kept):])
	r.entries = kept
	r.size.Store(int64(len(kept)))
	return removed, len(kept)
}

func (r *registry) drain() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drainLocked()
}

func (r *registry) drainLocked() int {
	n := len(r.entries)
	clear(r.entries)
	r.entries = nil
	r.size.Store(0)
	return n
}

// drainThrough removes the entries registered at or before seq and keeps
// later ones.
func (r *registry) drainThrough(seq uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.seq > seq {
			kept = append(kept, e)
		}
	}
	removed := len(r.entries) - len(kept)
	clear(r.entries[len(kept):])
	r.entries = kept
	r.size.Store(int64(len(kept)))
	return removed
}

// lastSeq is the registration number of the newest entry ever added.
func (r *registry) lastSeq() uint64 { return r.seq.Load() }

func (r *registry) len() int { return int(r.size.Load()) }

// runAll invokes every entry in order with the lock held and reports
// whether any of them did work. Every entry runs even after one reports work.
func (r *registry) runAll(ctx context.Context) (n int, hadWork bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		r.current.Store(e.name)
		if e.run(ctx) {
			hadWork = true
		}
	}
	r.current.Store("")
	return len(r.entries), hadWork
}

func (r *registry) currentName() string {
	s, _ := r.current.Load().(string)
	return s
}
