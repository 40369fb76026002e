package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/potree-clip/internal/monitoring"
	"github.com/banshee-data/potree-clip/internal/timeutil"
)

// DefaultTTL is how long finished jobs stay queryable.
const DefaultTTL = time.Hour

// Store persists job status snapshots.
type Store interface {
	SaveJob(s Status) error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTTL sets how long finished jobs are kept.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRegistryClock sets the clock used for expiry.
func WithRegistryClock(c timeutil.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithStore persists every job on start and completion.
func WithStore(s Store) RegistryOption {
	return func(r *Registry) { r.store = s }
}

type finishedJob struct {
	job Job
	at  time.Time
}

// Registry tracks active jobs and recently finished ones.
type Registry struct {
	ttl   time.Duration
	clock timeutil.Clock
	store Store

	mu       sync.Mutex
	active   map[string]Job
	finished map[string]finishedJob
	wg       sync.WaitGroup
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		ttl:      DefaultTTL,
		clock:    timeutil.RealClock{},
		active:   make(map[string]Job),
		finished: make(map[string]finishedJob),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start starts job and tracks it until it expires.
func (r *Registry) Start(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.active[job.ID()] = job
	r.mu.Unlock()

	if err := job.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.active, job.ID())
		r.mu.Unlock()
		return err
	}
	r.save(job)
	monitoring.Logf("[Registry] Started %s job %s", job.Kind(), job.ID())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		<-job.Done()
		r.complete(job)
	}()
	return nil
}

// complete persists the final state before the job becomes visible as
// finished.
func (r *Registry) complete(job Job) {
	r.save(job)
	r.mu.Lock()
	delete(r.active, job.ID())
	r.finished[job.ID()] = finishedJob{job: job, at: r.clock.Now()}
	r.mu.Unlock()
}

func (r *Registry) save(job Job) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveJob(job.Status()); err != nil {
		monitoring.Logf("[Registry] Failed to persist job %s: %v", job.ID(), err)
	}
}

// Get finds an active or finished job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.active[id]; ok {
		return job, nil
	}
	if f, ok := r.finished[id]; ok {
		return f.job, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// Cancel cancels the active job id.
func (r *Registry) Cancel(id string) error {
	job, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := job.Cancel(); err != nil {
		return err
	}
	r.save(job)
	return nil
}

// List returns the status of every tracked job, oldest first.
func (r *Registry) List() []Status {
	r.mu.Lock()
	all := make([]Job, 0, len(r.active)+len(r.finished))
	for _, job := range r.active {
		all = append(all, job)
	}
	for _, f := range r.finished {
		all = append(all, f.job)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(all))
	for _, job := range all {
		out = append(out, job.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// Prune drops finished jobs older than the TTL and returns how many went.
func (r *Registry) Prune() int {
	cutoff := r.clock.Now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, f := range r.finished {
		if f.at.Before(cutoff) {
			delete(r.finished, id)
			n++
		}
	}
	if n > 0 {
		monitoring.Logf("[Registry] Pruned %d expired jobs", n)
	}
	return n
}

// Run prunes expired jobs periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			r.Prune()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown cancels every active job and waits for them to stop or for ctx
// to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	active := make([]Job, 0, len(r.active))
	for _, job := range r.active {
		active = append(active, job)
	}
	r.mu.Unlock()

	var err error
	for _, job := range active {
		// Jobs that finished since the snapshot are not an error.
		if cerr := job.Cancel(); cerr != nil && !errors.Is(cerr, ErrJobNotActive) {
			err = multierr.Append(err, cerr)
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("waiting for jobs: %w", ctx.Err()))
	}
	return err
}
