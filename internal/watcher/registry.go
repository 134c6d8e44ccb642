package watcher

import "sync"

// Disposition is the lifecycle state of a playlist identity. Identities the
// registry holds no entry for are Discovered.
type Disposition string

const (
	DispositionDiscovered Disposition = "discovered"
	DispositionProcessing Disposition = "processing"
	DispositionProcessed  Disposition = "processed"
	DispositionFailed     Disposition = "failed"
)

// Terminal reports whether d is a final disposition.
func (d Disposition) Terminal() bool {
	return d == DispositionProcessed || d == DispositionFailed
}

// Registry tracks playlist identities. Every method is safe for concurrent
// use; admission is a single check-and-set under the mutex.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Disposition
	active  string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Disposition)}
}

// TryAdmit marks path Processing and returns true when path has never been
// seen and no other identity is Processing.
func (r *Registry) TryAdmit(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != "" {
		return false
	}
	if _, seen := r.entries[path]; seen {
		return false
	}
	r.entries[path] = DispositionProcessing
	r.active = path
	return true
}

// Finish records the final disposition of path and frees the single job
// slot. A non-terminal disposition is recorded as Failed.
func (r *Registry) Finish(path string, d Disposition) {
	if !d.Terminal() {
		d = DispositionFailed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[path] = d
	if r.active == path {
		r.active = ""
	}
}

// Release forgets path entirely so a later scan can admit it again. Used when
// a job is interrupted by shutdown before it reached a verdict.
func (r *Registry) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[path] == DispositionProcessing {
		delete(r.entries, path)
	}
	if r.active == path {
		r.active = ""
	}
}

// Disposition returns the current state of path.
func (r *Registry) Disposition(path string) Disposition {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.entries[path]; ok {
		return d
	}
	return DispositionDiscovered
}

// Processing lists identities currently in flight.
func (r *Registry) Processing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == "" {
		return nil
	}
	return []string{r.active}
}

// Snapshot copies the registry.
func (r *Registry) Snapshot() map[string]Disposition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Disposition, len(r.entries))
	for path, d := range r.entries {
		out[path] = d
	}
	return out
}

// Counts tallies identities per disposition.
func (r *Registry) Counts() map[Disposition]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Disposition]int, 3)
	for _, d := range r.entries {
		counts[d]++
	}
	return counts
}
