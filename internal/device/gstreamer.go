/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package device

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/recovery"
	"github.com/rs/zerolog"
)

// GStreamerOptions configures the gst-launch device.
type GStreamerOptions struct {
	Bin  string // gst-launch-1.0
	Sink string // e.g. "autoaudiosink" or "pulsesink device=foo"
	// PreloadLead is how long before a track's end the device asks for the
	// next one. Zero disables the request.
	PreloadLead time.Duration
	HTTPClient  *http.Client
}

// GStreamer plays one track at a time through a gst-launch process.
type GStreamer struct {
	opts   GStreamerOptions
	logger zerolog.Logger
	events chan Event
	closed chan struct{}

	mu        sync.Mutex
	current   Track
	loaded    bool
	cmd       *exec.Cmd
	done      chan struct{}
	paused    bool
	stopping  bool
	leadTimer *time.Timer
	preloaded string
	closeOnce sync.Once
}

// NewGStreamer builds a GStreamer device.
func NewGStreamer(opts GStreamerOptions, logger zerolog.Logger) *GStreamer {
	if opts.Bin == "" {
		opts.Bin = "gst-launch-1.0"
	}
	if opts.Sink == "" {
		opts.Sink = "autoaudiosink"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &GStreamer{
		opts:   opts,
		logger: logger.With().Str("component", "gstreamer").Logger(),
		events: make(chan Event, 16),
		closed: make(chan struct{}),
	}
}

// launchArgs builds the gst-launch argument list for uri.
func (g *GStreamer) launchArgs(uri string) []string {
	args := []string{"-q", "uridecodebin", "uri=" + uri, "!", "audioconvert", "!", "audioresample", "!"}
	return append(args, strings.Fields(g.opts.Sink)...)
}

func (g *GStreamer) emit(ev Event) {
	ev.At = time.Now()
	select {
	case g.events <- ev:
	case <-g.closed:
	}
}

// Load stops any running track and stages t.
func (g *GStreamer) Load(ctx context.Context, t Track) error {
	if t.URI == "" {
		return &PlaybackError{Code: recovery.CodeNotFound, Detail: "empty resource locator"}
	}
	if err := g.Stop(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = t
	g.loaded = true
	if g.preloaded == t.ID {
		g.preloaded = ""
	}
	return nil
}

// Play starts the staged track or resumes a paused one.
func (g *GStreamer) Play(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.loaded {
		return &PlaybackError{Code: recovery.CodeNotFound, Detail: "no track loaded"}
	}
	if g.cmd != nil && g.paused {
		if err := resumeProcess(g.cmd.Process); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		g.paused = false
		go g.emit(Event{Kind: EventPlay, TrackID: g.current.ID})
		return nil
	}
	if g.cmd != nil {
		return nil
	}

	var stderr bytes.Buffer
	cmd := exec.Command(g.opts.Bin, g.launchArgs(g.current.URI)...)
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return &PlaybackError{Code: recovery.CodeAborted, Detail: err.Error()}
	}

	g.cmd = cmd
	g.done = make(chan struct{})
	g.stopping = false
	track := g.current

	if g.opts.PreloadLead > 0 && track.Duration > g.opts.PreloadLead {
		g.leadTimer = time.AfterFunc(track.Duration-g.opts.PreloadLead, func() {
			g.emit(Event{Kind: EventPreloadRequested, TrackID: track.ID})
		})
	}

	go g.wait(cmd, g.done, track, &stderr)

	g.logger.Debug().Str("track_id", track.ID).Str("uri", track.URI).Msg("gstreamer playback started")
	go g.emit(Event{Kind: EventPlay, TrackID: track.ID})
	return nil
}

// wait reaps the process and reports how it ended.
func (g *GStreamer) wait(cmd *exec.Cmd, done chan struct{}, track Track, stderr *bytes.Buffer) {
	err := cmd.Wait()

	g.mu.Lock()
	stopping := g.stopping
	if g.cmd == cmd {
		g.cmd = nil
		g.paused = false
		if g.leadTimer != nil {
			g.leadTimer.Stop()
			g.leadTimer = nil
		}
	}
	g.mu.Unlock()
	close(done)

	if stopping {
		g.logger.Debug().Str("track_id", track.ID).Msg("gstreamer pipeline stopped")
		return
	}
	if err == nil {
		g.emit(Event{Kind: EventEnd, TrackID: track.ID})
		return
	}

	detail := lastLines(stderr.String(), 3)
	if detail == "" {
		detail = err.Error()
	}
	g.logger.Debug().Err(err).Str("track_id", track.ID).Str("stderr", detail).Msg("gstreamer pipeline exited")
	g.emit(Event{Kind: EventError, TrackID: track.ID, Detail: detail})
}

// Pause suspends the running process.
func (g *GStreamer) Pause(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cmd == nil || g.paused {
		return nil
	}
	if err := suspendProcess(g.cmd.Process); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	g.paused = true
	go g.emit(Event{Kind: EventPause, TrackID: g.current.ID})
	return nil
}

// Stop terminates the running pipeline, waiting up to five seconds before killing it.
func (g *GStreamer) Stop(ctx context.Context) error {
	g.mu.Lock()
	cmd, done, paused := g.cmd, g.done, g.paused
	if cmd == nil {
		g.mu.Unlock()
		return nil
	}
	g.stopping = true
	if g.leadTimer != nil {
		g.leadTimer.Stop()
		g.leadTimer = nil
	}
	g.mu.Unlock()

	if paused {
		_ = resumeProcess(cmd.Process)
	}
	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}

// Preload checks that t's resource is reachable so a failure surfaces before
// the track is due.
func (g *GStreamer) Preload(ctx context.Context, t Track) error {
	u, err := url.Parse(t.URI)
	if err != nil {
		return &PlaybackError{Code: recovery.CodeNotFound, Detail: err.Error()}
	}

	switch u.Scheme {
	case "file", "":
		path := u.Path
		if u.Scheme == "" {
			path = t.URI
		}
		if _, err := os.Stat(path); err != nil {
			return &PlaybackError{Code: recovery.CodeNotFound, Detail: err.Error()}
		}
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.URI, nil)
		if err != nil {
			return &PlaybackError{Code: recovery.CodeNotFound, Detail: err.Error()}
		}
		resp, err := g.opts.HTTPClient.Do(req)
		if err != nil {
			return &PlaybackError{Code: recovery.CodeNetwork, Detail: err.Error()}
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &PlaybackError{Code: recovery.CodeRateLimited, Detail: resp.Status}
		case resp.StatusCode >= 500:
			return &PlaybackError{Code: recovery.CodeNetwork, Detail: resp.Status}
		case resp.StatusCode >= 400:
			return &PlaybackError{Code: recovery.CodeNotFound, Detail: resp.Status}
		}
	}

	g.mu.Lock()
	g.preloaded = t.ID
	g.mu.Unlock()
	return nil
}

// Events returns the event channel.
func (g *GStreamer) Events() <-chan Event { return g.events }

// Close stops playback and releases the event channel.
func (g *GStreamer) Close() error {
	err := g.Stop(context.Background())
	g.closeOnce.Do(func() { close(g.closed) })
	return err
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}
