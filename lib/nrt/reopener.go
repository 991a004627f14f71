package nrt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/ixmap/lib/index"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// ReopenerOptions configures a Reopener
type ReopenerOptions struct {
	// TargetMaxStale is the longest time between two refreshes while nothing changes
	TargetMaxStale time.Duration
	// TargetMinStale is the shortest time between two refreshes; changes become
	// visible roughly this long after they were made
	TargetMinStale time.Duration
	// OnError is called after every failed refresh (optional)
	OnError func(err error)
	// Name is used as the "map" label of the failure counter
	Name string
}

// DefaultReopenerOptions returns the default configuration
func DefaultReopenerOptions() *ReopenerOptions {
	return &ReopenerOptions{
		TargetMaxStale: time.Second,
		TargetMinStale: 100 * time.Millisecond,
	}
}

// Health describes the state of a Reopener.
type Health struct {
	// Healthy is false while the latest refresh attempt failed
	Healthy bool
	// LastError is the error of the latest failed refresh, nil once a refresh succeeds again
	LastError error
	// ConsecutiveFailures counts the failed attempts since the last success
	ConsecutiveFailures int
	// LastRefresh is the time of the latest successful attempt
	LastRefresh time.Time
	// SearchingGeneration is the writer generation visible to readers
	SearchingGeneration uint64
}

func (h Health) String() string {
	if h.Healthy {
		return fmt.Sprintf("healthy (generation %d, last refresh %s)", h.SearchingGeneration, h.LastRefresh.Format(time.RFC3339))
	}
	return fmt.Sprintf("unhealthy (%d consecutive failures: %v)", h.ConsecutiveFailures, h.LastError)
}

// Reopener refreshes a Manager in the background so that changes of the writer
// become visible within a bounded time without refreshing on every write.
//
// The loop checks the writer every TargetMinStale. If the writer is ahead of
// the readers or somebody waits in WaitForGeneration, it refreshes at most
// TargetMinStale after the previous refresh; otherwise it refreshes every
// TargetMaxStale. Failed refreshes never stop the loop: they are reported via
// Health and OnError and retried with exponential backoff.
//
// The Reopener is owned by its creator: Start launches the loop and Close stops
// and joins it.
type Reopener struct {
	writer   *index.Writer
	manager  *Manager
	opts     ReopenerOptions
	failures *metrics.Counter

	mu      sync.Mutex
	health  Health
	waiters int
	changed chan struct{} // closed and replaced after every refresh
	retryAt time.Time
	backoff *backoff.ExponentialBackOff

	wake      chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewReopener creates a reopener for manager, which must belong to writer.
func NewReopener(writer *index.Writer, manager *Manager, opts *ReopenerOptions) (*Reopener, error) {
	if opts == nil {
		opts = DefaultReopenerOptions()
	}
	o := *opts
	if o.TargetMinStale <= 0 || o.TargetMaxStale <= 0 {
		return nil, errors.Errorf("stale targets must be positive (max=%s, min=%s)", o.TargetMaxStale, o.TargetMinStale)
	}
	if o.TargetMaxStale < o.TargetMinStale {
		return nil, errors.Errorf("target max stale (%s) must not be smaller than target min stale (%s)", o.TargetMaxStale, o.TargetMinStale)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.TargetMinStale
	b.MaxInterval = 30 * o.TargetMaxStale
	b.MaxElapsedTime = 0 // retry forever
	b.Reset()

	r := &Reopener{
		writer:   writer,
		manager:  manager,
		opts:     o,
		failures: manager.Metrics().NewCounter(fmt.Sprintf(`ixmap_reopen_failures_total{map=%q}`, o.Name)),
		health:   Health{Healthy: true, LastRefresh: time.Now(), SearchingGeneration: manager.Generation()},
		changed:  make(chan struct{}),
		backoff:  b,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	manager.AddListener(r)
	return r, nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start launches the background loop. Calling Start more than once has no effect.
func (r *Reopener) Start() {
	r.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		go r.loop(ctx)
	})
}

// Close stops the background loop and waits for it to exit. Waiters in
// WaitForGeneration return ErrClosed.
func (r *Reopener) Close() error {
	r.closeOnce.Do(func() {
		started := false
		r.startOnce.Do(func() {}) // prevent a later Start
		if r.cancel != nil {
			r.cancel()
			started = true
		}
		if started {
			<-r.done
		} else {
			close(r.done)
		}
		r.manager.RemoveListener(r)
	})
	return nil
}

// --------------------------------------------------------------------------
// Loop
// --------------------------------------------------------------------------

func (r *Reopener) loop(ctx context.Context) {
	defer close(r.done)

	lastStart := time.Now()
	timer := time.NewTimer(r.opts.TargetMinStale)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		if delay := r.nextRefresh(lastStart, time.Now()); delay > 0 {
			timer.Reset(delay)
			continue
		}

		lastStart = time.Now()
		r.refresh()
		timer.Reset(r.opts.TargetMinStale)
	}
}

// nextRefresh returns how long to wait before the next check, or zero if a refresh is due.
func (r *Reopener) nextRefresh(lastStart, now time.Time) time.Duration {
	r.mu.Lock()
	retryAt, waiting := r.retryAt, r.waiters > 0
	r.mu.Unlock()

	if !retryAt.IsZero() {
		if d := retryAt.Sub(now); d > 0 {
			return d
		}
		return 0
	}

	interval := r.opts.TargetMaxStale
	if waiting || r.writer.Generation() != r.manager.Generation() {
		interval = r.opts.TargetMinStale
	}
	d := lastStart.Add(interval).Sub(now)
	if d <= 0 {
		return 0
	}
	// keep polling the writer for changes
	if d > r.opts.TargetMinStale {
		d = r.opts.TargetMinStale
	}
	return d
}

func (r *Reopener) refresh() {
	_, err := r.manager.MaybeRefresh()
	now := time.Now()

	r.mu.Lock()
	if err != nil {
		wait := r.backoff.NextBackOff()
		r.retryAt = now.Add(wait)
		r.health.Healthy = false
		r.health.LastError = err
		r.health.ConsecutiveFailures++
		failures := r.health.ConsecutiveFailures
		r.mu.Unlock()

		r.failures.Inc()
		plog.Errorf("background refresh failed (%d in a row, retrying in %s): %v", failures, wait, err)
		if r.opts.OnError != nil {
			r.opts.OnError(err)
		}
		return
	}

	r.retryAt = time.Time{}
	r.backoff.Reset()
	r.health = Health{
		Healthy:             true,
		LastRefresh:         now,
		SearchingGeneration: r.manager.Generation(),
	}
	r.mu.Unlock()
}

// --------------------------------------------------------------------------
// RefreshListener (refreshes by other callers count as well)
// --------------------------------------------------------------------------

func (r *Reopener) BeforeRefresh() {}

func (r *Reopener) AfterRefresh(didRefresh bool) {
	if !didRefresh {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health.SearchingGeneration = r.manager.Generation()
	close(r.changed)
	r.changed = make(chan struct{})
}

// --------------------------------------------------------------------------
// Waiting & Health
// --------------------------------------------------------------------------

// WaitForGeneration blocks until readers reflect the writer generation gen
// (see index.Writer.Generation). While callers wait the loop refreshes at the
// TargetMinStale cadence.
func (r *Reopener) WaitForGeneration(ctx context.Context, gen uint64) error {
	if cur := r.writer.Generation(); gen > cur {
		return errors.Errorf("generation %d was not reached by the writer (current %d)", gen, cur)
	}

	r.mu.Lock()
	r.waiters++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.waiters--
		r.mu.Unlock()
	}()

	// wake the loop so that it switches to the short interval
	select {
	case r.wake <- struct{}{}:
	default:
	}

	for {
		r.mu.Lock()
		ch := r.changed
		r.mu.Unlock()

		if r.manager.Generation() >= gen {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return ErrClosed
		case <-ch:
		}
	}
}

// Health returns the current state of the reopener.
func (r *Reopener) Health() Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health
}
