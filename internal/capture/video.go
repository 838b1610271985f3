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

package capture

import (
	"errors"
	"fmt"
	"log/slog"

	astiav "github.com/asticode/go-astiav"

	"github.com/e1z0/rtsp-pusher/internal/media"
	"github.com/e1z0/rtsp-pusher/internal/pevent"
)

// VideoConfig configures C1 per spec §4.1.
type VideoConfig struct {
	Source string
	Width  int
	Height int
	FPS    int
}

// VideoCapture is C1: "produce a lazy sequence of raw video frames from
// the OS screen-grab device at a requested resolution and frame rate."
// The queue to C3 is bounded to 2 frames with drop-oldest, wired by the
// caller via SetEvictHandler on Out.
type VideoCapture struct {
	cfg VideoConfig
	log *slog.Logger
	Out *media.Queue[*media.VideoFrame]

	fc        *astiav.FormatContext
	decCtx    *astiav.CodecContext
	streamIdx int

	stop chan struct{}
	done chan struct{}
}

// NewVideoCapture builds C1. Out must already have its DropOldest eviction
// handler wired (see pipeline.Controller.Start) so dropped frames
// free their native buffer instead of leaking.
func NewVideoCapture(cfg VideoConfig, out *media.Queue[*media.VideoFrame], log *slog.Logger) *VideoCapture {
	return &VideoCapture{
		cfg:  cfg,
		log:  log.With("component", "capture.video"),
		Out:  out,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Initialize opens the platform screen device and its decoder synchronously,
// so a device-open failure surfaces to the caller before the pipeline
// commits to writing the RTSP header (spec §4.6 step 3 must complete before
// step 5). Run must not be called until Initialize returns nil.
func (c *VideoCapture) Initialize() error {
	RegisterDevices()

	inputFmt := astiav.FindInputFormat(screenInputFormat())
	if inputFmt == nil {
		return pevent.NewError(pevent.ErrorDevice, "capture.video",
			fmt.Errorf("input format %q not available", screenInputFormat()))
	}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return pevent.NewError(pevent.ErrorDevice, "capture.video", errors.New("AllocFormatContext failed"))
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("framerate", fmt.Sprintf("%d", c.cfg.FPS), 0)
	_ = opts.Set("video_size", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height), 0)
	_ = opts.Set("draw_mouse", "1", 0)

	deviceArg := defaultVideoDeviceArg(c.cfg.Source)
	if err := fc.OpenInput(deviceArg, inputFmt, opts); err != nil {
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.video", fmt.Errorf("open %s: %w", deviceArg, err))
	}

	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.video", fmt.Errorf("FindStreamInfo: %w", err))
	}

	vIdx := -1
	for i, s := range fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			vIdx = i
			break
		}
	}
	if vIdx < 0 {
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.video", errors.New("no video stream from capture device"))
	}
	vst := fc.Streams()[vIdx]

	if r := vst.AvgFrameRate(); r.Num() > 0 && r.Den() > 0 {
		if got := r.Num() / r.Den(); got != c.cfg.FPS {
			c.log.Warn("device does not honor requested framerate, using nearest supported",
				"requested", c.cfg.FPS, "actual", got)
		}
	}

	vpar := vst.CodecParameters()
	dec := astiav.FindDecoder(vpar.CodecID())
	if dec == nil {
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.video", errors.New("no raw-video decoder for capture device"))
	}
	decCtx := astiav.AllocCodecContext(dec)
	if decCtx == nil {
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.video", errors.New("AllocCodecContext failed"))
	}
	if err := vpar.ToCodecContext(decCtx); err != nil {
		decCtx.Free()
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.video", fmt.Errorf("ToCodecContext: %w", err))
	}
	if err := decCtx.Open(dec, nil); err != nil {
		decCtx.Free()
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.video", fmt.Errorf("decoder open: %w", err))
	}

	c.fc = fc
	c.decCtx = decCtx
	c.streamIdx = vIdx
	return nil
}

// Run reads frames from the device opened by Initialize until Stop is
// called. It blocks; callers run it on its own goroutine per spec §5.
func (c *VideoCapture) Run() error {
	defer close(c.done)

	fc := c.fc
	decCtx := c.decCtx
	vIdx := c.streamIdx

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	frame := astiav.AllocFrame()
	defer frame.Free()

	for {
		select {
		case <-c.stop:
			return nil
		default:
		}

		if err := fc.ReadFrame(pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				return nil
			}
			c.log.Warn("ReadFrame transient error", "error", err)
			continue
		}

		if pkt.StreamIndex() != vIdx {
			pkt.Unref()
			continue
		}

		if err := decCtx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
			c.log.Warn("SendPacket error", "error", err)
			pkt.Unref()
			continue
		}

		for {
			err := decCtx.ReceiveFrame(frame)
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			if err != nil {
				c.log.Warn("ReceiveFrame error", "error", err)
				break
			}

			owned := astiav.AllocFrame()
			if err := owned.Ref(frame); err != nil {
				c.log.Warn("Frame Ref failed, dropping frame", "error", err)
				frame.Unref()
				owned.Free()
				continue
			}
			frame.Unref()

			c.Out.Push(&media.VideoFrame{
				Frame:      owned,
				Width:      owned.Width(),
				Height:     owned.Height(),
				PixFmt:     owned.PixelFormat(),
				CapturePTS: owned.Pts(),
			})
		}

		pkt.Unref()
	}
}

// Stop asks Run's loop to exit and blocks until it has. Idempotent.
func (c *VideoCapture) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
}

// Close releases the device and decoder opened by Initialize. Call after
// Run has returned.
func (c *VideoCapture) Close() {
	if c.decCtx != nil {
		c.decCtx.Free()
		c.decCtx = nil
	}
	if c.fc != nil {
		c.fc.CloseInput()
		c.fc.Free()
		c.fc = nil
	}
}
