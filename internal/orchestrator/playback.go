/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/friendsincode/grimnir_autodj/internal/device"
	"github.com/friendsincode/grimnir_autodj/internal/events"
	"github.com/friendsincode/grimnir_autodj/internal/preload"
	"github.com/friendsincode/grimnir_autodj/internal/recovery"
	"github.com/friendsincode/grimnir_autodj/internal/telemetry"
)

const nowPlayingTimeout = 5 * time.Second

type advanceReason int

const (
	reasonStart advanceReason = iota
	reasonEnded
	reasonManual
	reasonInvalid
	reasonRetry
	reasonProbe
	reasonReplace
	reasonResume
)

func (r advanceReason) String() string {
	switch r {
	case reasonStart:
		return "start"
	case reasonEnded:
		return "ended"
	case reasonManual:
		return "manual"
	case reasonInvalid:
		return "invalid_resource"
	case reasonRetry:
		return "retry"
	case reasonProbe:
		return "probe"
	case reasonReplace:
		return "catalog_replace"
	case reasonResume:
		return "resume"
	default:
		return "unknown"
	}
}

// bypassesGuard reports whether the minimum change interval is skipped.
func (r advanceReason) bypassesGuard() bool {
	switch r {
	case reasonStart, reasonInvalid, reasonProbe, reasonReplace, reasonResume:
		return true
	}
	return false
}

// completesTrack reports whether the outgoing track counts as played.
func (r advanceReason) completesTrack() bool {
	return r == reasonEnded || r == reasonManual
}

// advance moves the channel to its next track. Resource errors are skipped
// in place; transient errors feed the breaker and schedule a retry.
func (o *Orchestrator) advance(reason advanceReason) {
	if o.advancing {
		o.logger.Debug().Stringer("reason", reason).Msg("advance already in progress")
		return
	}
	if o.requiresAck {
		o.logger.Debug().Stringer("reason", reason).Msg("advance blocked until acknowledged")
		return
	}
	if o.breaker.Halted() {
		o.logger.Debug().Stringer("reason", reason).Msg("advance suppressed while halted")
		return
	}

	now := o.now()
	if !reason.bypassesGuard() && o.opts.MinChangeInterval > 0 && !o.lastChange.IsZero() {
		if wait := o.opts.MinChangeInterval - now.Sub(o.lastChange); wait > 0 {
			o.deferAdvance(reason, wait)
			return
		}
	}

	o.advancing = true
	defer func() {
		o.advancing = false
		o.publishState()
	}()
	o.cancelTask(&o.guardTask)
	o.cancelTask(&o.retryTask)

	ctx, span := telemetry.StartChannelSpan(o.ctx, "orchestrator.advance", o.opts.ChannelID)
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"reason": reason.String()})

	completed := reason.completesTrack() && o.current != nil && o.current.Source == SourceRotation
	play := !o.userPaused

	for {
		before := o.sel.interrupt
		sel, err := o.selectNext(ctx, o.sel, now, completed)
		completed = false
		o.noteInterrupt(before)
		if err != nil {
			telemetry.RecordError(span, err)
			o.logger.Error().Err(err).Stringer("reason", reason).Msg("track selection failed")
			o.transientFailure(err)
			return
		}

		class, err := o.startTrack(ctx, sel, play)
		if err == nil {
			return
		}
		telemetry.RecordError(span, err)

		switch class {
		case recovery.ResourceInvalid:
			if o.skipInvalid(sel, err) {
				now = o.now()
				continue
			}
			o.transientFailure(err)
		case recovery.PolicyBlocked:
			o.block(err)
		default:
			o.transientFailure(err)
		}
		return
	}
}

// deferAdvance holds a change back until the minimum interval has passed.
// Repeated requests inside the interval collapse into one.
func (o *Orchestrator) deferAdvance(reason advanceReason, wait time.Duration) {
	if o.guardTask != nil {
		return
	}
	o.logger.Debug().Stringer("reason", reason).Dur("wait", wait).Msg("deferring track change")
	o.guardTask = o.sched.After("min-change-guard", wait, func() {
		o.guardTask = nil
		o.advance(reason)
	})
}

// skipInvalid records a resource error and reports whether the caller should
// move straight on to another track. A long unbroken run of invalid tracks
// is escalated to the breaker instead.
func (o *Orchestrator) skipInvalid(sel Selection, err error) bool {
	o.recordError(recovery.ResourceInvalid, err)
	o.invalidRun++
	o.logger.Warn().
		Err(err).
		Str("track_id", sel.Track.ID).
		Str("playlist_id", sel.Playlist.ID).
		Int("consecutive", o.invalidRun).
		Msg("skipping unplayable track")
	if o.invalidRun < o.opts.MaxInvalidSkips {
		return true
	}
	o.logger.Error().Int("consecutive", o.invalidRun).Msg("too many unplayable tracks in a row")
	o.invalidRun = 0
	return false
}

// startTrack resolves, loads and optionally plays sel.
func (o *Orchestrator) startTrack(ctx context.Context, sel Selection, play bool) (recovery.Class, error) {
	uri, err := o.resolve(ctx, sel.Track.Locator)
	if err != nil {
		class := recovery.ResourceInvalid
		if errors.Is(err, context.DeadlineExceeded) {
			class = recovery.Transient
		}
		return class, err
	}

	if err := o.dev.Load(ctx, deviceTrack(sel, uri)); err != nil {
		return classifyDeviceError(err), err
	}
	o.preload.Consumed()

	prev := o.current
	o.current = &sel
	o.announced = false
	o.lastChange = o.now()
	o.playing = false

	logEvent := o.logger.Info().
		Str("track_id", sel.Track.ID).
		Str("title", sel.Track.Title).
		Str("playlist_id", sel.Playlist.ID).
		Str("source", string(sel.Source))
	if prev != nil {
		logEvent = logEvent.Str("previous_track_id", prev.Track.ID)
	}

	if play {
		if err := o.dev.Play(ctx); err != nil {
			return classifyDeviceError(err), err
		}
		o.markPlaying()
		logEvent.Msg("track started")
	} else {
		logEvent.Msg("track loaded, waiting for play")
	}

	o.schedulePreload()
	return recovery.Transient, nil
}

// markPlaying records a successful play of the current track.
func (o *Orchestrator) markPlaying() {
	o.playing = true
	o.breaker.Success()
	if o.announced || o.current == nil {
		return
	}
	o.announced = true
	telemetry.TracksStarted.WithLabelValues(o.opts.ChannelID, string(o.current.Source)).Inc()
	o.notifyNowPlaying(*o.current)
}

// resumeCurrent plays the loaded track.
func (o *Orchestrator) resumeCurrent(ctx context.Context) {
	if err := o.dev.Play(ctx); err != nil {
		o.handleFailure(classifyDeviceError(err), err)
		return
	}
	o.markPlaying()
	o.logger.Info().Str("track_id", o.current.Track.ID).Msg("playing")
	o.schedulePreload()
}

// acknowledge clears a blocked or halted channel and resumes it.
func (o *Orchestrator) acknowledge(ctx context.Context) {
	wasBlocked := o.requiresAck
	wasHalted := o.breaker.State() != gobreaker.StateClosed
	if !wasBlocked && !wasHalted {
		return
	}

	o.requiresAck = false
	o.invalidRun = 0
	o.cancelTask(&o.probeTask)
	if wasHalted {
		o.breaker.Reset()
	}
	o.logger.Info().Bool("was_blocked", wasBlocked).Bool("was_halted", wasHalted).Msg("playback acknowledged")

	if wasBlocked && !wasHalted && o.current != nil {
		o.resumeCurrent(ctx)
		return
	}
	o.advance(reasonResume)
}

// handleFailure routes a classified failure of the current track.
func (o *Orchestrator) handleFailure(class recovery.Class, err error) {
	switch class {
	case recovery.ResourceInvalid:
		if o.current != nil && o.skipInvalid(*o.current, err) {
			o.advance(reasonInvalid)
			return
		}
		o.transientFailure(err)
	case recovery.PolicyBlocked:
		o.block(err)
	default:
		o.transientFailure(err)
	}
}

// transientFailure counts err against the breaker. Below the ceiling a retry
// is scheduled; at the ceiling the breaker opens and schedules its own probe.
func (o *Orchestrator) transientFailure(err error) {
	o.recordError(recovery.Transient, err)
	o.playing = false
	tripped, herr := o.breaker.Failure(err)
	if herr != nil || tripped {
		return
	}
	o.logger.Warn().
		Err(err).
		Int("recent_errors", o.breaker.RecentFailures()).
		Dur("retry_in", o.opts.RetryDelay).
		Msg("transient playback failure, retrying")
	o.cancelTask(&o.retryTask)
	o.retryTask = o.sched.After("retry", o.opts.RetryDelay, func() {
		o.retryTask = nil
		o.advance(reasonRetry)
	})
}

// block parks the channel until the user interacts with it.
func (o *Orchestrator) block(err error) {
	o.recordError(recovery.PolicyBlocked, err)
	o.playing = false
	if o.requiresAck {
		return
	}
	o.requiresAck = true
	o.cancelTask(&o.retryTask)
	o.cancelTask(&o.guardTask)
	o.logger.Warn().Err(err).Msg("playback blocked, waiting for acknowledgment")
	o.emit(events.EventHalted, events.Payload{
		"reason": "acknowledgment_required",
		"error":  err.Error(),
	})
}

func (o *Orchestrator) recordError(class recovery.Class, err error) {
	o.lastErr = err.Error()
	o.lastErrAt = o.now()
	telemetry.PlaybackErrors.WithLabelValues(o.opts.ChannelID, class.String()).Inc()
}

// onBreakerChange runs inside the breaker; it must not call back into it.
func (o *Orchestrator) onBreakerChange(from, to gobreaker.State) {
	ch := o.opts.ChannelID
	telemetry.BreakerState.WithLabelValues(ch).Set(recovery.StateValue(to))

	switch to {
	case gobreaker.StateOpen:
		o.playing = false
		o.cancelTask(&o.retryTask)
		o.cancelTask(&o.guardTask)
		o.cancelTask(&o.probeTask)
		o.probeTask = o.sched.After("breaker-probe", o.opts.HaltCooldown, o.probe)
		o.logger.Error().
			Str("from", from.String()).
			Dur("cooldown", o.opts.HaltCooldown).
			Msg("playback halted after repeated failures")
		o.emit(events.EventHalted, events.Payload{
			"reason":   "error_ceiling",
			"cooldown": o.opts.HaltCooldown.String(),
		})
	case gobreaker.StateHalfOpen:
		o.logger.Info().Msg("halt cooldown elapsed")
	case gobreaker.StateClosed:
		o.logger.Info().Str("from", from.String()).Msg("playback recovered")
		o.emit(events.EventRecovered, events.Payload{})
	}
}

// probe makes the single recovery attempt allowed after a halt.
func (o *Orchestrator) probe() {
	o.probeTask = nil
	if !o.breaker.ReadyToProbe() {
		return
	}
	if o.requiresAck {
		return
	}
	o.logger.Info().Msg("attempting recovery")
	o.advance(reasonProbe)
}

func (o *Orchestrator) handleDeviceEvent(ev device.Event) {
	defer o.publishState()

	matches := o.current != nil && ev.TrackID == o.current.Track.ID
	switch ev.Kind {
	case device.EventEnd:
		if !matches {
			o.logger.Debug().Str("track_id", ev.TrackID).Msg("ignoring end of a track no longer current")
			return
		}
		o.playing = false
		o.invalidRun = 0
		o.advance(reasonEnded)

	case device.EventPlay:
		if matches {
			o.markPlaying()
		}

	case device.EventPause:
		if matches {
			o.playing = false
		}

	case device.EventError:
		if ev.TrackID != "" && !matches {
			o.logger.Debug().Str("track_id", ev.TrackID).Str("code", ev.Code).Msg("ignoring error of a track no longer current")
			return
		}
		o.playing = false
		err := &device.PlaybackError{Code: ev.Code, Detail: ev.Detail}
		o.handleFailure(recovery.Classify(ev.Code, ev.Detail), err)

	case device.EventPreloadRequested:
		o.preloadNext("device")
	}
}

// noteInterrupt reports interruptions that began or ended during a selection.
func (o *Orchestrator) noteInterrupt(before *InterruptContext) {
	after := o.sel.interrupt
	if before == after {
		return
	}
	if before != nil {
		o.logger.Info().
			Str("playlist_id", before.Playlist.ID).
			Int("played", before.Played).
			Msg("interval finished, resuming rotation")
		o.emit(events.EventResumed, events.Payload{
			"playlist_id": before.Playlist.ID,
			"played":      before.Played,
		})
	}
	if after != nil {
		telemetry.IntervalInterruptions.WithLabelValues(o.opts.ChannelID).Inc()
		o.logger.Info().
			Str("playlist_id", after.Playlist.ID).
			Str("name", after.Playlist.Name).
			Str("previous_playlist_id", after.PreviousPlaylistID).
			Msg("interval started")
		o.emit(events.EventInterrupted, events.Payload{
			"playlist_id":          after.Playlist.ID,
			"name":                 after.Playlist.Name,
			"previous_playlist_id": after.PreviousPlaylistID,
		})
	}
}

func (o *Orchestrator) schedulePreload() {
	if !o.preload.Eager() {
		return
	}
	o.cancelTask(&o.preloadTask)
	o.preloadTask = o.sched.After("eager-preload", o.opts.EagerPreloadDelay, func() {
		o.preloadTask = nil
		o.preloadNext("eager")
		o.publishState()
	})
}

// peek predicts the next track on a clone of the selection state.
func (o *Orchestrator) peek(ctx context.Context) (Selection, error) {
	completed := o.current != nil && o.current.Source == SourceRotation
	return o.selectNext(ctx, o.sel.clone(), o.now(), completed)
}

// preloadNext asks the device to buffer the predicted next track.
func (o *Orchestrator) preloadNext(trigger string) {
	if o.current == nil || o.requiresAck || o.breaker.Halted() {
		return
	}
	ch := o.opts.ChannelID
	ctx := o.ctx

	sel, err := o.peek(ctx)
	if err != nil {
		telemetry.PreloadAttempts.WithLabelValues(ch, "error").Inc()
		o.logger.Debug().Err(err).Msg("preload prediction failed")
		return
	}

	now := o.now()
	if reason := o.preload.Allow(sel.Track.ID, now); reason != preload.Allowed {
		telemetry.PreloadAttempts.WithLabelValues(ch, string(reason)).Inc()
		o.logger.Debug().Str("track_id", sel.Track.ID).Str("reason", string(reason)).Str("trigger", trigger).Msg("preload skipped")
		return
	}

	uri, err := o.resolve(ctx, sel.Track.Locator)
	if err == nil {
		err = o.dev.Preload(ctx, deviceTrack(sel, uri))
	}
	o.preload.Record(sel.Track.ID, err, now)
	if err != nil {
		telemetry.PreloadAttempts.WithLabelValues(ch, "failed").Inc()
		o.logger.Warn().Err(err).Str("track_id", sel.Track.ID).Msg("preload failed")
		return
	}
	telemetry.PreloadAttempts.WithLabelValues(ch, "ok").Inc()
	o.logger.Debug().Str("track_id", sel.Track.ID).Str("trigger", trigger).Msg("next track preloaded")
}

func (o *Orchestrator) resolve(ctx context.Context, locator string) (string, error) {
	if o.resolver == nil {
		return locator, nil
	}
	return o.resolver.Resolve(ctx, locator)
}

// notifyNowPlaying hands the started track to the sink off the loop.
func (o *Orchestrator) notifyNowPlaying(sel Selection) {
	if o.sink == nil {
		return
	}
	np := telemetry.NowPlaying{
		ChannelID:  o.opts.ChannelID,
		PlaylistID: sel.Playlist.ID,
		TrackID:    sel.Track.ID,
		Title:      sel.Track.Title,
		Artist:     sel.Track.Artist,
		Source:     string(sel.Source),
		StartedAt:  o.now(),
	}
	sink, logger := o.sink, o.logger
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("now playing sink panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), nowPlayingTimeout)
		defer cancel()
		if err := sink.NotifyNowPlaying(ctx, np); err != nil {
			logger.Warn().Err(err).Str("track_id", np.TrackID).Msg("now playing notification failed")
		}
	}()
}

func deviceTrack(sel Selection, uri string) device.Track {
	return device.Track{
		ID:       sel.Track.ID,
		Title:    sel.Track.Title,
		Artist:   sel.Track.Artist,
		URI:      uri,
		Duration: sel.Track.Duration(),
	}
}

func classifyDeviceError(err error) recovery.Class {
	var perr *device.PlaybackError
	if errors.As(err, &perr) {
		return recovery.Classify(perr.Code, perr.Detail)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return recovery.Transient
	}
	return recovery.Classify("", err.Error())
}
