// Package view hosts the long-lived cached read models served to the front
// desk. Each view refetches from the database when a relevant domain event
// is published, optionally on a poll interval, and on explicit Refresh.
package view

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/metrics"
)

var ErrAlreadyMounted = errors.New("view: already mounted")

// Fetcher reads the current state of a view from the database.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Snapshot is the last applied state of a view. After a failed refresh
// Data and Version still describe the previous success and Err is set.
type Snapshot[T any] struct {
	Data        T         `json:"data"`
	Version     uint64    `json:"version"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Err         error     `json:"-"`
	Error       string    `json:"error,omitempty"`
}

type Options[T any] struct {
	Name string
	// Events trigger a refresh. Filter, when set, drops events the view
	// does not care about.
	Events []events.Name
	Filter func(events.Event) bool
	// Interval enables polling when positive.
	Interval time.Duration
	// OnApplied runs on the view goroutine after each successful refresh.
	OnApplied func(ctx context.Context, data T)
	Metrics   *metrics.EventMetrics
	Logger    zerolog.Logger
}

type Controller[T any] struct {
	bus   *events.Bus
	fetch Fetcher[T]
	opts  Options[T]
	now   func() time.Time

	trigger chan struct{}

	mu      sync.RWMutex
	snap    Snapshot[T]
	mounted bool

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	unsubs    []func()
}

func NewController[T any](bus *events.Bus, fetch Fetcher[T], opts Options[T]) *Controller[T] {
	return &Controller[T]{
		bus:     bus,
		fetch:   fetch,
		opts:    opts,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

func (c *Controller[T]) Name() string { return c.opts.Name }

// Mount subscribes to the view's events, performs the initial read on the
// calling goroutine and starts the refresh loop. The loop lives until
// Unmount or until ctx is cancelled.
func (c *Controller[T]) Mount(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return ErrAlreadyMounted
	}
	c.mounted = true
	c.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	// drop a signal left over from a previous mount
	select {
	case <-c.trigger:
	default:
	}

	for _, name := range c.opts.Events {
		c.unsubs = append(c.unsubs, c.bus.Subscribe(name, c.onEvent))
	}

	c.refresh(loopCtx)
	go c.run(loopCtx, c.done)
	return nil
}

// Unmount stops the loop, removes every subscription and waits for an
// in-flight fetch to return. Results that arrive after Unmount are
// discarded.
func (c *Controller[T]) Unmount() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	c.mu.Unlock()

	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	c.cancel()
	<-c.done
}

func (c *Controller[T]) Mounted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mounted
}

// Refresh asks the loop to refetch. It never blocks; signals raised while
// a refresh is pending collapse into one.
func (c *Controller[T]) Refresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Controller[T]) Snapshot() Snapshot[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Controller[T]) onEvent(evt events.Event) {
	if c.opts.Filter != nil && !c.opts.Filter(evt) {
		return
	}
	c.Refresh()
}

func (c *Controller[T]) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if c.opts.Interval > 0 {
		t := time.NewTicker(c.opts.Interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
		case <-tick:
		}
		c.refresh(ctx)
	}
}

func (c *Controller[T]) refresh(ctx context.Context) {
	data, err := c.fetch(ctx)
	if !c.apply(ctx, data, err) {
		c.opts.Logger.Debug().Str("view", c.opts.Name).Msg("dropping result for unmounted view")
		return
	}
	c.opts.Metrics.ObserveRefresh(c.opts.Name, err)
	if err != nil {
		c.opts.Logger.Warn().Err(err).Str("view", c.opts.Name).Msg("view refresh failed")
		return
	}
	if c.opts.OnApplied != nil {
		c.opts.OnApplied(ctx, data)
	}
}

// apply stores a fetch result if the view is still mounted and ctx is
// live. It reports whether the result was applied.
func (c *Controller[T]) apply(ctx context.Context, data T, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted || ctx.Err() != nil {
		return false
	}
	if err != nil {
		c.snap.Err = err
		c.snap.Error = err.Error()
		return true
	}
	c.snap = Snapshot[T]{
		Data:        data,
		Version:     c.snap.Version + 1,
		RefreshedAt: c.now(),
	}
	return true
}
