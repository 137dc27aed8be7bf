package walletdb

import (
	"fmt"
	"sync"
	"time"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/erigon-walletdb/kv"
)

// Options configures a Registry. There is no configuration framework here —
// a plain struct threaded through the constructor, matching how the
// teacher's own ethconfig-style structs are built (SPEC_FULL.md ambient
// stack, "Configuration").
type Options struct {
	// FeatureLatest is the highest minversion/version this implementation
	// understands (spec §4.3 step 2).
	FeatureLatest int32

	// FlushQuietPeriod is how long a database must go unmodified before
	// the flush scheduler considers it worth checkpointing (spec §4.5:
	// "at least two seconds"). Zero selects the spec default of 2s.
	FlushQuietPeriod time.Duration

	// DisableFlushScheduler keeps databases opened through the registry
	// out of the flush scheduler, so Tick never checkpoints them; the
	// scheduler is "optional (controlled by a configuration flag)" per
	// spec §4.5.
	DisableFlushScheduler bool

	Logger log.Logger
}

// entry is one opened wallet database plus the bookkeeping the flush
// scheduler and backup manager need about it.
type entry struct {
	db      kv.DB
	name    string
	path    string
	counter counter
}

// Registry is the "database-registry subsystem" design note §9 calls for:
// the process-scoped owner of every opened wallet file and of the flush
// scheduler's single-runner guard. Construct one per process.
type Registry struct {
	opts Options
	mu   sync.RWMutex
	dbs  map[string]*entry

	scheduler *FlushScheduler
}

func NewRegistry(opts Options) *Registry {
	if opts.FeatureLatest == 0 {
		opts.FeatureLatest = 1_000_000
	}
	if opts.FlushQuietPeriod == 0 {
		opts.FlushQuietPeriod = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New()
	}
	r := &Registry{opts: opts, dbs: map[string]*entry{}}
	r.scheduler = newFlushScheduler(r)
	return r
}

// Open opens (or returns the already-open) wallet database at path, keyed
// by name.
func (r *Registry) Open(name, path string) (*Batch, *Loader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.dbs[name]; ok {
		return newBatch(e.db, &e.counter), r.newLoader(e.db), nil
	}

	db, err := kv.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("walletdb: open %s: %w", name, err)
	}
	e := &entry{db: db, name: name, path: path}
	r.dbs[name] = e

	if !r.opts.DisableFlushScheduler {
		r.scheduler.register(name)
	}

	return newBatch(db, &e.counter), r.newLoader(db), nil
}

func (r *Registry) newLoader(db kv.DB) *Loader {
	return NewLoader(db, nil, NewSecp256k1Deriver(true), r.opts.FeatureLatest)
}

// Close closes the named database and forgets it.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	e, ok := r.dbs[name]
	if ok {
		delete(r.dbs, name)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.scheduler.unregister(name)
	return e.db.Close()
}

// forEach lets the flush scheduler iterate every open database without
// exposing the map itself.
func (r *Registry) forEach(f func(name string, e *entry)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.dbs {
		f(name, e)
	}
}

// Scheduler returns the registry's flush scheduler so callers can start it
// on their own goroutine/ticker.
func (r *Registry) Scheduler() *FlushScheduler { return r.scheduler }
