// Package jobs runs filter and region-extraction work in the background and
// tracks it until it expires.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/potree-clip/internal/events"
	"github.com/banshee-data/potree-clip/internal/filter"
	"github.com/banshee-data/potree-clip/internal/monitoring"
	"github.com/banshee-data/potree-clip/internal/timeutil"
)

var (
	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotActive is returned when cancelling a job that is not running,
	// or starting one that already ran.
	ErrJobNotActive = errors.New("job not active")
)

// State is the lifecycle state of a job.
type State string

const (
	StateInactive State = "INACTIVE"
	StateActive   State = "ACTIVE"
	StateCanceled State = "CANCELED"
	StateFinished State = "FINISHED"
	StateFailed   State = "FAILED"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCanceled || s == StateFinished || s == StateFailed
}

// Job kinds.
const (
	KindFilter         = "filter"
	KindExtractRegion  = "extract-region"
	KindExtractProfile = "extract-profile"
)

// Status is a point-in-time view of a job.
type Status struct {
	ID        string           `json:"uuid"`
	Kind      string           `json:"type"`
	State     State            `json:"status"`
	Started   time.Time        `json:"started"`
	Finished  *time.Time       `json:"finished"`
	Message   string           `json:"message,omitempty"`
	Link      string           `json:"link,omitempty"`
	Progress  *filter.Progress `json:"progress,omitempty"`
	OutputDir string           `json:"-"`
}

// Job is a unit of background work. Start does not block; Done is closed
// once the work has fully stopped.
type Job interface {
	ID() string
	Kind() string
	Start(ctx context.Context) error
	Cancel() error
	Status() Status
	Done() <-chan struct{}
}

// DownloadLink is the API path that serves the outputs of job id.
func DownloadLink(id string) string {
	return fmt.Sprintf("/api/jobs/%s/download", id)
}

// lifecycle holds the state shared by every job kind.
type lifecycle struct {
	id        string
	kind      string
	clock     timeutil.Clock
	publisher events.Publisher

	mu       sync.Mutex
	state    State
	started  time.Time
	finished *time.Time
	message  string
	cancel   context.CancelFunc
	done     chan struct{}
}

func (l *lifecycle) init(kind string, clock timeutil.Clock, publisher events.Publisher) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	l.id = uuid.NewString()
	l.kind = kind
	l.clock = clock
	l.publisher = publisher
	l.state = StateInactive
	l.started = clock.Now()
	l.done = make(chan struct{})
}

func (l *lifecycle) ID() string   { return l.id }
func (l *lifecycle) Kind() string { return l.kind }

func (l *lifecycle) Done() <-chan struct{} { return l.done }

// activate moves INACTIVE to ACTIVE and returns the job's context.
func (l *lifecycle) activate(ctx context.Context) (context.Context, error) {
	l.mu.Lock()
	if l.state != StateInactive {
		defer l.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotActive, l.id, l.state)
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.state = StateActive
	l.started = l.clock.Now()
	l.mu.Unlock()

	l.publish(events.Event{Type: events.TypeStarted})
	return ctx, nil
}

// Cancel stops an active job. The state changes immediately; Done closes
// when the work has wound down.
func (l *lifecycle) Cancel() error {
	l.mu.Lock()
	if l.state != StateActive {
		defer l.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", ErrJobNotActive, l.id, l.state)
	}
	l.state = StateCanceled
	now := l.clock.Now()
	l.finished = &now
	l.cancel()
	l.mu.Unlock()

	l.publish(events.Event{Type: events.TypeCanceled})
	return nil
}

// finish records the outcome of the work and closes Done. A job that was
// canceled stays canceled.
func (l *lifecycle) finish(err error) {
	var final *events.Event
	l.mu.Lock()
	if l.state == StateActive {
		now := l.clock.Now()
		l.finished = &now
		if err != nil {
			l.state = StateFailed
			l.message = err.Error()
			final = &events.Event{Type: events.TypeFailed, Message: l.message}
		} else {
			l.state = StateFinished
			final = &events.Event{Type: events.TypeFinished}
		}
	}
	if l.cancel != nil {
		l.cancel()
	}
	state := l.state
	l.mu.Unlock()

	if final != nil {
		l.publish(*final)
	}
	monitoring.Logf("[Jobs] %s job %s %s", l.kind, l.id, state)
	close(l.done)
}

func (l *lifecycle) status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Status{
		ID:      l.id,
		Kind:    l.kind,
		State:   l.state,
		Started: l.started,
		Message: l.message,
	}
	if l.finished != nil {
		f := *l.finished
		s.Finished = &f
	}
	if l.state == StateFinished {
		s.Link = DownloadLink(l.id)
	}
	return s
}

// publish sends e stamped with the job identity. Delivery failures are
// logged, never surfaced to the job.
func (l *lifecycle) publish(e events.Event) {
	e.JobID, e.Kind = l.id, l.kind
	e.Timestamp = l.clock.Now().Unix()
	if err := l.publisher.Publish(e); err != nil {
		monitoring.Logf("[Jobs] event %s for %s not delivered: %v", e.Type, l.id, err)
	}
}
