/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package orchestrator runs the playback engine of one channel.
//
// Everything the engine owns (bags, selection counts, interval counters, the
// pending queue, the current track) is mutated only on a single event loop.
// Device events, timer callbacks, catalog change requests and caller
// operations are all funnelled into that loop, so none of the components
// need locking.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/friendsincode/grimnir_autodj/internal/catalog"
	"github.com/friendsincode/grimnir_autodj/internal/device"
	"github.com/friendsincode/grimnir_autodj/internal/events"
	"github.com/friendsincode/grimnir_autodj/internal/logging"
	"github.com/friendsincode/grimnir_autodj/internal/preload"
	"github.com/friendsincode/grimnir_autodj/internal/recovery"
	"github.com/friendsincode/grimnir_autodj/internal/tasks"
	"github.com/friendsincode/grimnir_autodj/internal/telemetry"
)

// Deps are the collaborators of an orchestrator.
type Deps struct {
	Loader   CatalogLoader
	Device   device.Device
	Resolver Resolver
	Sink     telemetry.NowPlayingSink
	Bus      *events.Bus
	Logger   zerolog.Logger
}

// Orchestrator is the playback engine of one channel.
type Orchestrator struct {
	opts     Options
	loader   CatalogLoader
	dev      device.Device
	resolver Resolver
	sink     telemetry.NowPlayingSink
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time

	cmds     chan func()
	done     chan struct{}
	stopped  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	stopOnce sync.Once

	sched   *tasks.Scheduler
	breaker *recovery.Breaker
	preload *preload.Coordinator

	// Loop-owned state.
	catalog     catalog.Catalog
	sel         *selectionState
	current     *Selection
	announced   bool
	playing     bool
	userPaused  bool
	advancing   bool
	lastChange  time.Time
	invalidRun  int
	requiresAck bool
	lastErr     string
	lastErrAt   time.Time
	lastSync    *SyncStatus
	guardTask   *tasks.Task
	retryTask   *tasks.Task
	probeTask   *tasks.Task
	preloadTask *tasks.Task

	snapMu sync.RWMutex
	snap   Snapshot
}

// New builds an orchestrator. Nothing runs until Start.
func New(opts Options, deps Deps) *Orchestrator {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:     opts,
		loader:   deps.Loader,
		dev:      deps.Device,
		resolver: deps.Resolver,
		sink:     deps.Sink,
		bus:      deps.Bus,
		logger:   logging.Channel(deps.Logger, "orchestrator", opts.ChannelID),
		now:      opts.Now,
		cmds:     make(chan func(), 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		sel:      newSelectionState(opts.Seed1, opts.Seed2),
	}
	o.sched = tasks.New(o.post, o.logger)
	o.preload = preload.New(preload.Options{
		Throttle:     opts.PreloadThrottle,
		FailureLimit: opts.PreloadFailures,
		Suspension:   opts.PreloadSuspension,
	}, o.logger)
	o.breaker = recovery.NewBreaker(recovery.Settings{
		Name:          "playback:" + opts.ChannelID,
		Window:        opts.ErrorWindow,
		Ceiling:       opts.ErrorCeiling,
		Cooldown:      opts.HaltCooldown,
		OnStateChange: o.onBreakerChange,
		Now:           opts.Now,
	})
	o.snap = Snapshot{ChannelID: opts.ChannelID, Mode: ModeRotating}
	return o
}

// ChannelID returns the channel this orchestrator plays.
func (o *Orchestrator) ChannelID() string { return o.opts.ChannelID }

// Start loads the catalog and begins playback. A *catalog.ConfigurationError
// means the channel cannot play until its catalog is fixed.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, span := telemetry.StartChannelSpan(ctx, "orchestrator.start", o.opts.ChannelID)
	defer span.End()

	cat, err := o.loader.Load(ctx, o.opts.ChannelID)
	if err != nil {
		o.started.Store(false)
		telemetry.RecordError(span, err)
		return err
	}

	o.catalog = cat
	o.sel.intervals.Reconcile(cat.Interval)
	o.userPaused = !o.opts.Autoplay
	o.lastSync = &SyncStatus{At: o.now(), Trigger: "start"}

	go o.run()

	o.sched.Every("interval-sweep", o.opts.IntervalSweep, o.sweep)
	telemetry.ActiveChannels.WithLabelValues(o.opts.ChannelID).Set(1)
	telemetry.BreakerState.WithLabelValues(o.opts.ChannelID).Set(0)

	o.logger.Info().
		Int("rotation_playlists", len(cat.Rotation)).
		Int("interval_playlists", len(cat.Interval)).
		Bool("autoplay", o.opts.Autoplay).
		Msg("channel started")

	o.post(func() { o.advance(reasonStart) })
	return nil
}

func (o *Orchestrator) run() {
	defer close(o.stopped)
	evs := o.dev.Events()
	for {
		select {
		case <-o.done:
			return
		case fn := <-o.cmds:
			fn()
		case ev, ok := <-evs:
			if !ok {
				o.logger.Warn().Msg("device event stream closed")
				evs = nil
				continue
			}
			o.handleDeviceEvent(ev)
		}
	}
}

// post hands fn to the loop. It reports false once the orchestrator stopped.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.cmds <- fn:
		return true
	case <-o.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (o *Orchestrator) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !o.started.Load() {
		return ErrNotStarted
	}
	errc := make(chan error, 1)
	if !o.post(func() { errc <- fn(o.ctx) }) {
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TogglePlayPause pauses a playing channel or starts a paused one. Starting
// playback counts as the listener's manual play: it switches preloading to
// eager and clears a pending acknowledgment or halt.
func (o *Orchestrator) TogglePlayPause(ctx context.Context) error {
	return o.call(ctx, func(ctx context.Context) error {
		defer o.publishState()

		if o.playing {
			if err := o.dev.Pause(ctx); err != nil {
				return err
			}
			o.playing = false
			o.userPaused = true
			o.logger.Info().Msg("paused")
			return nil
		}

		o.preload.MarkUserActivated()
		o.userPaused = false
		if o.requiresAck || o.breaker.State() != gobreaker.StateClosed {
			o.acknowledge(ctx)
			return nil
		}
		if o.current == nil {
			o.advance(reasonResume)
			return nil
		}
		o.resumeCurrent(ctx)
		return nil
	})
}

// AdvanceManually skips to the next track.
func (o *Orchestrator) AdvanceManually(ctx context.Context) error {
	return o.call(ctx, func(context.Context) error {
		defer o.publishState()
		if o.requiresAck {
			return ErrAcknowledgmentRequired
		}
		if o.breaker.Halted() {
			return recovery.ErrHalted
		}
		o.userPaused = false
		o.invalidRun = 0
		o.advance(reasonManual)
		return nil
	})
}

// Acknowledge records an explicit user interaction. It clears a
// policy-blocked state and resets a halted breaker, then resumes playback.
func (o *Orchestrator) Acknowledge(ctx context.Context) error {
	return o.call(ctx, func(ctx context.Context) error {
		defer o.publishState()
		o.preload.MarkUserActivated()
		o.userPaused = false
		o.acknowledge(ctx)
		return nil
	})
}

// PeekNext returns the track that would follow the current one if it ended
// now, without changing any selection state.
func (o *Orchestrator) PeekNext(ctx context.Context) (Selection, error) {
	var sel Selection
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		sel, err = o.peek(ctx)
		return err
	})
	return sel, err
}

// RequestReconcile asks the loop to re-read the catalog. It never blocks on
// the reconciliation itself.
func (o *Orchestrator) RequestReconcile(trigger string) bool {
	if !o.started.Load() {
		return false
	}
	return o.post(func() { o.reconcile(trigger) })
}

// State returns the latest snapshot. It is safe to call from any goroutine.
func (o *Orchestrator) State() Snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snap
}

// Stop tears the channel down: every timer is cancelled, the loop exits and
// the device stops. It is safe to call more than once.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var err error
	o.stopOnce.Do(func() {
		o.sched.Stop()
		close(o.done)
		if o.started.Load() {
			select {
			case <-o.stopped:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		o.cancel()

		if stopErr := o.dev.Stop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}

		ch := o.opts.ChannelID
		telemetry.ActiveChannels.DeleteLabelValues(ch)
		telemetry.BreakerState.DeleteLabelValues(ch)
		telemetry.PendingIntervals.DeleteLabelValues(ch)

		o.snapMu.Lock()
		o.snap.Active = false
		o.snap.Playing = false
		o.snap.UpdatedAt = o.now()
		snap := o.snap
		o.snapMu.Unlock()
		o.emit(events.EventStateChanged, events.Payload{"channel_id": ch, "state": snap})

		o.logger.Info().Msg("channel stopped")
	})
	return err
}

func (o *Orchestrator) emit(t events.EventType, payload events.Payload) {
	if o.bus == nil {
		return
	}
	payload["channel_id"] = o.opts.ChannelID
	o.bus.Publish(t, payload)
}

func (o *Orchestrator) cancelTask(t **tasks.Task) {
	if *t != nil {
		(*t).Cancel()
		*t = nil
	}
}
