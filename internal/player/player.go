/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player owns the single active channel of this process. Switching
// channels tears the running orchestrator down completely before the next
// one is built.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_autodj/internal/config"
	"github.com/friendsincode/grimnir_autodj/internal/device"
	"github.com/friendsincode/grimnir_autodj/internal/eventbus"
	"github.com/friendsincode/grimnir_autodj/internal/events"
	"github.com/friendsincode/grimnir_autodj/internal/leadership"
	"github.com/friendsincode/grimnir_autodj/internal/livesync"
	"github.com/friendsincode/grimnir_autodj/internal/models"
	"github.com/friendsincode/grimnir_autodj/internal/orchestrator"
	"github.com/friendsincode/grimnir_autodj/internal/telemetry"
)

var (
	// ErrChannelNotActive is returned when no channel is playing, or the
	// requested channel is disabled.
	ErrChannelNotActive = errors.New("player: channel not active")
	// ErrEmptyChannelID is returned for a blank channel id.
	ErrEmptyChannelID = errors.New("player: channel id is required")
)

// ChannelLookup resolves channel metadata. It is optional.
type ChannelLookup interface {
	Channel(ctx context.Context, channelID string) (models.Channel, error)
}

// DeviceFactory builds the playback device for a channel.
type DeviceFactory func(channelID string) (device.Device, error)

// Deps are the collaborators shared by every channel session.
type Deps struct {
	Config    *config.Config
	Loader    orchestrator.CatalogLoader
	Channels  ChannelLookup
	Feed      eventbus.Feed
	Leases    *leadership.Manager
	Resolver  orchestrator.Resolver
	Sink      telemetry.NowPlayingSink
	Bus       *events.Bus
	NewDevice DeviceFactory
	Logger    zerolog.Logger

	// Options, when set, adjusts the orchestrator options of every session.
	Options func(*orchestrator.Options)
}

type session struct {
	channelID string
	orch      *orchestrator.Orchestrator
	sync      *livesync.Synchronizer
	lease     *leadership.Lease
	dev       device.Device
	cancel    context.CancelFunc
}

// Player runs at most one channel at a time.
type Player struct {
	deps   Deps
	logger zerolog.Logger

	mu     sync.Mutex
	active *session
}

// New builds a player.
func New(deps Deps) *Player {
	if deps.Leases == nil {
		deps.Leases = leadership.Disabled(deps.Logger)
	}
	if deps.Feed == nil {
		deps.Feed = eventbus.NewMemoryFeed(deps.Bus)
	}
	if deps.Config == nil {
		deps.Config = &config.Config{Autoplay: true}
	}
	return &Player{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "player").Logger(),
	}
}

// InitializeChannel makes channelID the active channel. A channel already
// active is left running. Configuration errors from the catalog are
// returned unchanged.
func (p *Player) InitializeChannel(ctx context.Context, channelID string) error {
	if channelID == "" {
		return ErrEmptyChannelID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil && p.active.channelID == channelID {
		return nil
	}
	if p.active != nil {
		p.logger.Info().
			Str("from", p.active.channelID).
			Str("to", channelID).
			Msg("switching channel")
		p.teardownLocked(ctx, p.active)
		p.active = nil
	}

	s, err := p.build(ctx, channelID)
	if err != nil {
		return err
	}
	p.active = s
	return nil
}

func (p *Player) build(ctx context.Context, channelID string) (*session, error) {
	lease, err := p.deps.Leases.Acquire(ctx, channelID)
	if err != nil {
		return nil, err
	}

	opts, err := p.options(ctx, channelID)
	if err != nil {
		_ = lease.Release(ctx)
		return nil, err
	}

	dev, err := p.deps.NewDevice(channelID)
	if err != nil {
		_ = lease.Release(ctx)
		return nil, fmt.Errorf("create playback device: %w", err)
	}

	orch := orchestrator.New(opts, orchestrator.Deps{
		Loader:   p.deps.Loader,
		Device:   dev,
		Resolver: p.deps.Resolver,
		Sink:     p.deps.Sink,
		Bus:      p.deps.Bus,
		Logger:   p.deps.Logger,
	})
	if err := orch.Start(ctx); err != nil {
		_ = orch.Stop(ctx)
		_ = dev.Close()
		_ = lease.Release(ctx)
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s := &session{channelID: channelID, orch: orch, lease: lease, dev: dev, cancel: cancel}

	timing := p.deps.Config.Timing
	s.sync = livesync.New(p.deps.Feed, channelID, orch, livesync.Options{
		Debounce: timing.ResyncDebounce,
		Interval: timing.ResyncInterval,
	}, p.deps.Logger)
	if err := s.sync.Start(watchCtx); err != nil {
		p.logger.Warn().Err(err).Str("channel_id", channelID).Msg("catalog sync did not start")
		s.sync = nil
	}

	go p.watchLease(watchCtx, s)

	p.logger.Info().Str("channel_id", channelID).Msg("channel initialized")
	return s, nil
}

// options resolves the orchestrator options for channelID, including the
// channel's own clock.
func (p *Player) options(ctx context.Context, channelID string) (orchestrator.Options, error) {
	opts := orchestrator.OptionsFromConfig(channelID, p.deps.Config)
	if p.deps.Channels != nil {
		ch, err := p.deps.Channels.Channel(ctx, channelID)
		if err != nil {
			return opts, err
		}
		if !ch.Active {
			return opts, fmt.Errorf("%w: %s", ErrChannelNotActive, channelID)
		}
		if ch.Timezone != "" {
			loc, err := time.LoadLocation(ch.Timezone)
			if err != nil {
				return opts, fmt.Errorf("channel %s timezone: %w", channelID, err)
			}
			opts.Now = func() time.Time { return time.Now().In(loc) }
		}
	}
	if p.deps.Options != nil {
		p.deps.Options(&opts)
	}
	return opts, nil
}

// watchLease stops the session if its lease is lost.
func (p *Player) watchLease(ctx context.Context, s *session) {
	select {
	case <-ctx.Done():
		return
	case <-s.lease.Lost():
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != s {
		return
	}
	p.logger.Error().Str("channel_id", s.channelID).Msg("channel lease lost, stopping playback")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.teardownLocked(stopCtx, s)
	p.active = nil
}

func (p *Player) teardownLocked(ctx context.Context, s *session) {
	s.cancel()
	if s.sync != nil {
		s.sync.Stop()
	}
	if err := s.orch.Stop(ctx); err != nil {
		p.logger.Warn().Err(err).Str("channel_id", s.channelID).Msg("orchestrator stop")
	}
	if err := s.dev.Close(); err != nil {
		p.logger.Warn().Err(err).Str("channel_id", s.channelID).Msg("device close")
	}
	if err := s.lease.Release(ctx); err != nil {
		p.logger.Warn().Err(err).Str("channel_id", s.channelID).Msg("lease release")
	}
}

// Stop tears down the active channel, if any.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil
	}
	p.teardownLocked(ctx, p.active)
	p.logger.Info().Str("channel_id", p.active.channelID).Msg("channel stopped")
	p.active = nil
	return nil
}

// ChannelID returns the active channel, empty if none.
func (p *Player) ChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return ""
	}
	return p.active.channelID
}

func (p *Player) current() (*orchestrator.Orchestrator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil, ErrChannelNotActive
	}
	return p.active.orch, nil
}

// TogglePlayPause toggles the active channel.
func (p *Player) TogglePlayPause(ctx context.Context) error {
	o, err := p.current()
	if err != nil {
		return err
	}
	return o.TogglePlayPause(ctx)
}

// AdvanceManually skips the current track of the active channel.
func (p *Player) AdvanceManually(ctx context.Context) error {
	o, err := p.current()
	if err != nil {
		return err
	}
	return o.AdvanceManually(ctx)
}

// Acknowledge resumes a blocked or halted channel.
func (p *Player) Acknowledge(ctx context.Context) error {
	o, err := p.current()
	if err != nil {
		return err
	}
	return o.Acknowledge(ctx)
}

// PeekNext predicts the next track of the active channel.
func (p *Player) PeekNext(ctx context.Context) (orchestrator.Selection, error) {
	o, err := p.current()
	if err != nil {
		return orchestrator.Selection{}, err
	}
	return o.PeekNext(ctx)
}

// State returns the active channel's snapshot. With no channel it returns an
// inactive snapshot.
func (p *Player) State() orchestrator.Snapshot {
	o, err := p.current()
	if err != nil {
		return orchestrator.Snapshot{Mode: orchestrator.ModeRotating}
	}
	return o.State()
}
