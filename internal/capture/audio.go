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

// AudioConfig configures C2 per spec §4.2.
type AudioConfig struct {
	SampleRate int
	Channels   int
	// Source overrides the platform's automatic loopback-device match
	// (see config.StreamConfig.AudioSource).
	Source string
}

// stereoMixCandidates are the windows loopback device names from spec
// §4.2/§6, each opened verbatim as "audio=<name>", tried in order.
var stereoMixCandidates = []string{"Stereo Mix", "立体声混音"}

// AudioCapture is C2: a lazy sequence of interleaved PCM buffers from the
// system loopback/stereo-mix device. The queue to C4 is unbounded; audio
// is never dropped (spec §4.2).
type AudioCapture struct {
	cfg AudioConfig
	log *slog.Logger
	Out *media.Queue[*media.AudioChunk]

	fc        *astiav.FormatContext
	decCtx    *astiav.CodecContext
	streamIdx int

	stop chan struct{}
	done chan struct{}
}

func NewAudioCapture(cfg AudioConfig, out *media.Queue[*media.AudioChunk], log *slog.Logger) *AudioCapture {
	return &AudioCapture{
		cfg:  cfg,
		log:  log.With("component", "capture.audio"),
		Out:  out,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Initialize opens the loopback/stereo-mix input and its decoder
// synchronously, so a missing device fails the pipeline before the RTSP
// header is written (spec §4.6 step 3 must complete before step 5). Run
// must not be called until Initialize returns nil.
func (c *AudioCapture) Initialize() error {
	RegisterDevices()

	inputFmt := astiav.FindInputFormat(audioInputFormat())
	if inputFmt == nil {
		return pevent.NewError(pevent.ErrorDevice, "capture.audio",
			fmt.Errorf("input format %q not available", audioInputFormat()))
	}

	fc, deviceName, err := c.openDevice(inputFmt)
	if err != nil {
		return err
	}

	c.log.Info("opened audio capture device", "device", deviceName)

	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.audio", fmt.Errorf("FindStreamInfo: %w", err))
	}

	aIdx := -1
	for i, s := range fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			aIdx = i
			break
		}
	}
	if aIdx < 0 {
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.audio", errors.New("no audio stream from capture device"))
	}
	apar := fc.Streams()[aIdx].CodecParameters()

	dec := astiav.FindDecoder(apar.CodecID())
	if dec == nil {
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.audio", errors.New("no PCM decoder for capture device"))
	}
	decCtx := astiav.AllocCodecContext(dec)
	if decCtx == nil {
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.audio", errors.New("AllocCodecContext failed"))
	}
	if err := apar.ToCodecContext(decCtx); err != nil {
		decCtx.Free()
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.audio", fmt.Errorf("ToCodecContext: %w", err))
	}
	if err := decCtx.Open(dec, nil); err != nil {
		decCtx.Free()
		fc.CloseInput()
		fc.Free()
		return pevent.NewError(pevent.ErrorDevice, "capture.audio", fmt.Errorf("decoder open: %w", err))
	}

	c.fc = fc
	c.decCtx = decCtx
	c.streamIdx = aIdx
	return nil
}

// Run streams PCM chunks from the device opened by Initialize until Stop
// is called.
func (c *AudioCapture) Run() error {
	defer close(c.done)

	fc := c.fc
	decCtx := c.decCtx
	aIdx := c.streamIdx

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
		if pkt.StreamIndex() != aIdx {
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

			data, derr := frame.Data().Bytes(0)
			if derr != nil || len(data) == 0 {
				frame.Unref()
				continue
			}
			need := frame.NbSamples() * c.cfg.Channels * 2
			if need > len(data) {
				need = len(data)
			}
			owned := make([]byte, need)
			copy(owned, data[:need])
			chunk := media.NewAudioChunk(owned, c.cfg.SampleRate, c.cfg.Channels)
			c.Out.Push(chunk) // unbounded: never dropped, per spec §4.2
			frame.Unref()
		}

		pkt.Unref()
	}
}

// openDevice resolves the loopback device to open. If Source is set it is
// used verbatim (linux/darwin have no enumerable "Stereo Mix" convention,
// per spec §4.2's note that this is how loopback is obtained "on Windows
// without a virtual driver"). Otherwise it probes the stereoMixCandidates
// by attempting to open each in turn, since go-astiav exposes no portable
// device-listing call in this corpus (see DESIGN.md). Names are matched
// exactly as written: a device whose name only contains a candidate, or
// differs from it in letter case, is not opened, and no device list is
// read.
func (c *AudioCapture) openDevice(inputFmt *astiav.InputFormat) (*astiav.FormatContext, string, error) {
	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("sample_rate", fmt.Sprintf("%d", c.cfg.SampleRate), 0)
	_ = opts.Set("channels", fmt.Sprintf("%d", c.cfg.Channels), 0)

	tryOpen := func(name string) (*astiav.FormatContext, error) {
		fc := astiav.AllocFormatContext()
		if fc == nil {
			return nil, errors.New("AllocFormatContext failed")
		}
		if err := fc.OpenInput(name, inputFmt, opts); err != nil {
			fc.Free()
			return nil, err
		}
		return fc, nil
	}

	if c.cfg.Source != "" {
		fc, err := tryOpen(c.cfg.Source)
		if err != nil {
			return nil, "", pevent.NewError(pevent.ErrorDevice, "capture.audio", fmt.Errorf("open %s: %w", c.cfg.Source, err))
		}
		return fc, c.cfg.Source, nil
	}

	var lastErr error
	for _, cand := range stereoMixCandidates {
		name := "audio=" + cand
		fc, err := tryOpen(name)
		if err == nil {
			return fc, name, nil
		}
		lastErr = err
	}
	return nil, "", pevent.NewError(pevent.ErrorDevice, "capture.audio",
		fmt.Errorf("no loopback input device matched %v: %w", stereoMixCandidates, lastErr))
}

// Stop asks Run's loop to exit and blocks until it has. Idempotent.
func (c *AudioCapture) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
}

// Close releases the device and decoder opened by Initialize. Call after
// Run has returned.
func (c *AudioCapture) Close() {
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
