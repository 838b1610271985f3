/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * rtsp-pusher
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of rtsp-pusher.
 *
 * rtsp-pusher is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * rtsp-pusher is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with rtsp-pusher.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package pipeline implements C6, the controller that wires C1–C5
// together, owns the single output AVFormatContext and the A/V sync
// anchor, and exposes the Start/Stop/Events surface spec §6 calls
// "Outputs from the core" to the GUI collaborator this module does not
// implement.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	astiav "github.com/asticode/go-astiav"
	astikit "github.com/asticode/go-astikit"

	"github.com/e1z0/rtsp-pusher/internal/avsync"
	"github.com/e1z0/rtsp-pusher/internal/capture"
	"github.com/e1z0/rtsp-pusher/internal/config"
	"github.com/e1z0/rtsp-pusher/internal/encode"
	"github.com/e1z0/rtsp-pusher/internal/media"
	"github.com/e1z0/rtsp-pusher/internal/mux"
	"github.com/e1z0/rtsp-pusher/internal/pevent"
)

// shutdownTimeout bounds how long Stop waits for C5 to drain before
// forcing the output context closed anyway, per spec §4.6 ("wait up to
// 3 s for C5, then force-close").
const shutdownTimeout = 3 * time.Second

// Controller is C6.
type Controller struct {
	log *slog.Logger

	state atomic.Int32 // pevent.State, read/written from multiple goroutines
	name  string

	events chan pevent.Event

	closer *astikit.Closer

	outputCtx *astiav.FormatContext
	anchor    *avsync.Anchor

	videoCap *capture.VideoCapture
	audioCap *capture.AudioCapture
	videoEnc *encode.VideoEncoder
	audioEnc *encode.AudioEncoder
	pusher   *mux.Pusher
	stats    *statsEmitter

	runErr chan error
}

// State mirrors pevent.State for callers that only need the controller's
// public surface.
type State = pevent.State

// New builds an idle Controller. name identifies this controller instance
// in emitted StateChange events (spec §4.6).
func New(name string, log *slog.Logger) *Controller {
	// state's zero value is StateNone, so no explicit init is needed.
	return &Controller{
		log:    log.With("component", "pipeline.controller"),
		name:   name,
		events: make(chan pevent.Event, 64),
		closer: astikit.NewCloser(),
		runErr: make(chan error, 8),
	}
}

// Events returns the channel of state/error/stats events. The caller
// (e.g. cmd/pusher) must keep draining it for the life of the
// controller, per spec §6.
func (c *Controller) Events() <-chan pevent.Event {
	return c.events
}

// Start performs the init sequence from spec §4.6: allocate the output
// context, initialize C3/C4 (registering their streams), initialize
// C1/C2, open the RTSP sink, write the header, then start all five
// stages' goroutines.
func (c *Controller) Start(ctx context.Context, cfg config.StreamConfig) error {
	if !pevent.CanTransition(c.State(), pevent.StateDecoding) {
		return fmt.Errorf("pipeline: cannot start from state %s", c.State())
	}
	c.setState(pevent.StateDecoding)

	c.anchor = avsync.NewAnchor()

	outputCtx, err := astiav.AllocOutputFormatContext(nil, "rtsp", cfg.RTSPURL)
	if err != nil || outputCtx == nil {
		return c.fail(pevent.NewError(pevent.ErrorProtocol, "pipeline.controller",
			fmt.Errorf("AllocOutputFormatContext: %w", err)))
	}
	c.outputCtx = outputCtx
	c.closer.Add(func() error { outputCtx.Free(); return nil })

	videoQ := media.NewQueue[*media.VideoFrame](2, media.DropOldest)
	videoQ.SetEvictHandler(func(vf *media.VideoFrame) { vf.Free() })
	audioQ := media.NewQueue[*media.AudioChunk](0, media.DropOldest) // unbounded
	audioQ.SetEvictHandler(func(ch *media.AudioChunk) { ch.Release() })

	videoPktQ := media.NewQueue[*media.Packet](mux.VideoQueueCapacity, media.DropOldest)
	videoPktQ.SetEvictHandler(func(p *media.Packet) { p.Free() })
	audioPktQ := media.NewQueue[*media.Packet](0, media.DropOldest) // unbounded

	c.videoEnc = encode.NewVideoEncoder(encode.VideoConfig{
		Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS, Bitrate: cfg.VideoBitrateBPS,
	}, videoQ, videoPktQ, c.anchor, c.log)
	c.audioEnc = encode.NewAudioEncoder(encode.AudioConfig{
		SampleRate: cfg.AudioSampleRate, Channels: cfg.AudioChannels, BitrateBPS: 64000,
	}, audioQ, audioPktQ, c.anchor, c.log)

	if err := c.videoEnc.Initialize(outputCtx); err != nil {
		return c.fail(err)
	}
	c.closer.Add(func() error { c.videoEnc.Close(); return nil })
	if err := c.audioEnc.Initialize(outputCtx); err != nil {
		return c.fail(err)
	}
	c.closer.Add(func() error { c.audioEnc.Close(); return nil })

	c.videoCap = capture.NewVideoCapture(capture.VideoConfig{
		Source: cfg.VideoSource, Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS,
	}, videoQ, c.log)
	c.audioCap = capture.NewAudioCapture(capture.AudioConfig{
		SampleRate: cfg.AudioSampleRate, Channels: cfg.AudioChannels, Source: cfg.AudioSource,
	}, audioQ, c.log)

	// C1/C2 must finish opening their devices before the header is
	// written (spec §4.6 step 3 precedes step 5): a missing device fails
	// Start here instead of surfacing asynchronously from Run's goroutine.
	if err := c.videoCap.Initialize(); err != nil {
		return c.fail(err)
	}
	c.closer.Add(func() error { c.videoCap.Close(); return nil })
	if err := c.audioCap.Initialize(); err != nil {
		return c.fail(err)
	}
	c.closer.Add(func() error { c.audioCap.Close(); return nil })

	streams := outputCtx.Streams()
	if len(streams) < 2 {
		return c.fail(pevent.NewError(pevent.ErrorProtocol, "pipeline.controller",
			errors.New("expected 2 registered streams after encoder init")))
	}
	c.pusher = mux.NewPusher(outputCtx, streams[0], streams[1], videoPktQ, audioPktQ, c.log)

	if outputCtx.OutputFormat() == nil || !outputCtx.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		ioCtx, err := astiav.OpenIOContext(cfg.RTSPURL, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			return c.fail(pevent.NewError(pevent.ErrorNetwork, "pipeline.controller", fmt.Errorf("OpenIOContext: %w", err)))
		}
		outputCtx.SetPb(ioCtx)
		c.closer.Add(func() error { return ioCtx.Close() })
	}

	if err := outputCtx.WriteHeader(nil); err != nil {
		return c.fail(pevent.NewError(pevent.ErrorNetwork, "pipeline.controller", fmt.Errorf("WriteHeader: %w", err)))
	}

	c.stats = newStatsEmitter(c.pusher, c.events, c.name)

	c.startStage("capture.video", c.videoCap.Run)
	c.startStage("capture.audio", c.audioCap.Run)
	c.startStage("encode.video", c.videoEnc.Run)
	c.startStage("encode.audio", c.audioEnc.Run)
	c.startStage("mux.pusher", c.pusher.Run)
	go c.stats.run(ctx)
	go c.watchStageErrors()
	go c.watchSuspend()

	c.setState(pevent.StatePlaying)
	return nil
}

func (c *Controller) startStage(name string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			c.log.Error("stage exited with error", "stage", name, "error", err)
			c.runErr <- err
		}
	}()
}

// watchStageErrors fans in stage failures (spec §7: "the controller is
// the sole consumer of error events") and transitions to error state.
func (c *Controller) watchStageErrors() {
	err, ok := <-c.runErr
	if !ok {
		return
	}
	c.setState(pevent.StateError)
	c.events <- pevent.Event{Kind: pevent.EventError, Err: err}
}

// Stop performs the shutdown sequence from spec §4.6: stop C1/C2 and
// drain, stop C3/C4 and flush, stop C5 (waiting up to shutdownTimeout),
// write the trailer, and close everything via the astikit.Closer in
// reverse registration order.
func (c *Controller) Stop(ctx context.Context) error {
	if st := c.State(); st != pevent.StatePlaying && st != pevent.StatePaused && st != pevent.StateError {
		return fmt.Errorf("pipeline: cannot stop from state %s", st)
	}

	if c.videoCap != nil {
		c.videoCap.Stop()
	}
	if c.audioCap != nil {
		c.audioCap.Stop()
	}
	if c.videoEnc != nil {
		c.videoEnc.Stop()
	}
	if c.audioEnc != nil {
		c.audioEnc.Stop()
	}

	if c.pusher != nil {
		stopped := make(chan struct{})
		go func() { c.pusher.Stop(); close(stopped) }()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			c.log.Warn("mux.pusher did not drain within timeout, forcing shutdown")
		}
	}

	if c.outputCtx != nil {
		if err := c.outputCtx.WriteTrailer(); err != nil {
			c.log.Warn("WriteTrailer failed", "error", err)
		}
	}

	if err := c.closer.Close(); err != nil {
		c.log.Warn("resource teardown reported error", "error", err)
	}

	c.setState(pevent.StateEnded)
	close(c.events)
	return nil
}

func (c *Controller) fail(err error) error {
	c.setState(pevent.StateError)
	_ = c.closer.Close()
	return err
}

func (c *Controller) setState(s pevent.State) {
	c.state.Store(int32(s))
	c.events <- pevent.Event{
		Kind:  pevent.EventStateChange,
		State: pevent.StateChange{Name: c.name, State: s},
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() pevent.State { return pevent.State(c.state.Load()) }
