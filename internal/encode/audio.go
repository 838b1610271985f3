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

package encode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	astiav "github.com/asticode/go-astiav"

	"github.com/e1z0/rtsp-pusher/internal/avsync"
	"github.com/e1z0/rtsp-pusher/internal/media"
	"github.com/e1z0/rtsp-pusher/internal/mux"
	"github.com/e1z0/rtsp-pusher/internal/pevent"
)

// AudioConfig configures C4 per spec §4.4.
type AudioConfig struct {
	SampleRate int
	Channels   int
	BitrateBPS int64 // 64000, per spec §4.4
}

// AudioEncoder is C4: resamples captured PCM to the AAC encoder's native
// sample format and emits fixed-size AAC frames.
type AudioEncoder struct {
	cfg    AudioConfig
	log    *slog.Logger
	in     *media.Queue[*media.AudioChunk]
	out    *media.Queue[*media.Packet]
	anchor *avsync.Anchor

	encCtx    *astiav.CodecContext
	streamIdx int

	swr       *astiav.SoftwareResampleContext
	acc       []byte // accumulated S16 bytes awaiting a full encoder frame
	ptsCursor int64

	stop chan struct{}
	done chan struct{}
}

// NewAudioEncoder builds C4. Initialize must be called before Run.
func NewAudioEncoder(cfg AudioConfig, in *media.Queue[*media.AudioChunk], out *media.Queue[*media.Packet], anchor *avsync.Anchor, log *slog.Logger) *AudioEncoder {
	return &AudioEncoder{
		cfg:    cfg,
		log:    log.With("component", "encode.audio"),
		in:     in,
		out:    out,
		anchor: anchor,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Initialize registers a new audio stream on outputCtx and opens the AAC
// encoder per spec §4.4 (64kbps, global header).
func (e *AudioEncoder) Initialize(outputCtx *astiav.FormatContext) error {
	codec := astiav.FindEncoder(astiav.CodecIDAac)
	if codec == nil {
		return pevent.NewError(pevent.ErrorCodec, "encode.audio", errors.New("AAC encoder not available"))
	}

	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return pevent.NewError(pevent.ErrorCodec, "encode.audio", errors.New("AllocCodecContext failed"))
	}

	ctx.SetSampleRate(e.cfg.SampleRate)
	chLayout := astiav.ChannelLayoutDefault(e.cfg.Channels)
	ctx.SetChannelLayout(chLayout)
	ctx.SetSampleFormat(astiav.SampleFormatFltp)
	ctx.SetBitRate(e.cfg.BitrateBPS)
	ctx.SetTimeBase(astiav.NewRational(1, e.cfg.SampleRate))
	ctx.SetFlags(ctx.Flags().Add(astiav.CodecFlagGlobalHeader))

	e.anchor.SetSampleRate(e.cfg.SampleRate)

	if err := ctx.Open(codec, nil); err != nil {
		ctx.Free()
		return pevent.NewError(pevent.ErrorCodec, "encode.audio", fmt.Errorf("open AAC encoder: %w", err))
	}

	stream := outputCtx.NewStream(codec)
	if stream == nil {
		ctx.Free()
		return pevent.NewError(pevent.ErrorCodec, "encode.audio", errors.New("NewStream failed"))
	}
	if err := ctx.ToCodecParameters(stream.CodecParameters()); err != nil {
		ctx.Free()
		return pevent.NewError(pevent.ErrorCodec, "encode.audio", fmt.Errorf("ToCodecParameters: %w", err))
	}
	stream.SetTimeBase(ctx.TimeBase())

	// libswresample configures itself from the source/destination frames'
	// properties on the first ConvertFrame call, same as the teacher's
	// recording path.
	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		ctx.Free()
		return pevent.NewError(pevent.ErrorCodec, "encode.audio", errors.New("AllocSoftwareResampleContext failed"))
	}

	e.encCtx = ctx
	e.streamIdx = stream.Index()
	e.swr = swr
	return nil
}

// Run drains PCM chunks from in, accumulates them into encoder-frame-sized
// buffers, resamples and encodes each, and enqueues packets onto out.
func (e *AudioEncoder) Run() error {
	defer close(e.done)
	defer func() {
		if e.swr != nil {
			e.swr.Free()
		}
	}()

	ctx := context.Background()
	frameBytes := e.encCtx.FrameSize() * e.cfg.Channels * 2 // S16 = 2 bytes/sample
	var failures int

	for {
		chunk, ok := e.in.Pop(ctx)
		if !ok {
			break
		}

		e.acc = append(e.acc, chunk.Data...)
		chunk.Release()

		for len(e.acc) >= frameBytes {
			block := e.acc[:frameBytes]
			e.acc = append([]byte(nil), e.acc[frameBytes:]...)

			if err := e.encodeBlock(block); err != nil {
				failures++
				e.log.Warn("audio encode cycle failed", "error", err, "consecutive_failures", failures)
				if failures >= 5 {
					return pevent.NewError(pevent.ErrorCodec, "encode.audio", fmt.Errorf("5 consecutive failures: %w", err))
				}
				continue
			}
			failures = 0
		}
	}
	e.flush()
	return nil
}

func (e *AudioEncoder) encodeBlock(s16 []byte) error {
	samples := e.encCtx.FrameSize()

	src := astiav.AllocFrame()
	defer src.Free()
	src.SetSampleFormat(astiav.SampleFormatS16)
	src.SetChannelLayout(astiav.ChannelLayoutDefault(e.cfg.Channels))
	src.SetSampleRate(e.cfg.SampleRate)
	src.SetNbSamples(samples)
	if err := src.AllocBuffer(0); err != nil {
		return fmt.Errorf("AllocBuffer: %w", err)
	}
	if err := src.Data().SetBytes(s16, 0); err != nil {
		return fmt.Errorf("SetBytes: %w", err)
	}

	dst := astiav.AllocFrame()
	defer dst.Free()
	dst.SetSampleFormat(astiav.SampleFormatFltp)
	dst.SetChannelLayout(astiav.ChannelLayoutDefault(e.cfg.Channels))
	dst.SetSampleRate(e.cfg.SampleRate)
	dst.SetNbSamples(samples)
	if err := dst.AllocBuffer(0); err != nil {
		return fmt.Errorf("AllocBuffer: %w", err)
	}

	if err := e.swr.ConvertFrame(src, dst); err != nil {
		return fmt.Errorf("ConvertFrame: %w", err)
	}

	dst.SetPts(e.ptsCursor)
	e.anchor.SetAudioPTS(e.ptsCursor)
	e.ptsCursor += int64(samples)

	if err := e.encCtx.SendFrame(dst); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("SendFrame: %w", err)
	}
	return e.drainPackets()
}

func (e *AudioEncoder) flush() {
	if e.encCtx == nil {
		return
	}
	_ = e.encCtx.SendFrame(nil)
	_ = e.drainPackets()
}

func (e *AudioEncoder) drainPackets() error {
	for {
		pkt := astiav.AllocPacket()
		err := e.encCtx.ReceivePacket(pkt)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			pkt.Free()
			return nil
		}
		if err != nil {
			pkt.Free()
			return fmt.Errorf("ReceivePacket: %w", err)
		}

		pkt.SetStreamIndex(e.streamIdx)
		mux.EnqueueAudioPacket(e.out, &media.Packet{
			Pkt:             pkt,
			Kind:            media.StreamAudio,
			StreamIdx:       e.streamIdx,
			EncoderTimeBase: e.encCtx.TimeBase(),
			Keyframe:        true, // AAC frames are all independently decodable
		})
		if n := e.out.Len(); n == mux.AudioQueueSoftCap+1 {
			e.log.Warn("audio packet queue exceeded soft cap, mux is falling behind",
				"len", n, "soft_cap", mux.AudioQueueSoftCap)
		}
		e.out.Broadcast() // wake Pop callers on out; the anchor is woken by SetAudioPTS
	}
}

// Stop asks Run's loop to exit after draining in-flight chunks, and closes
// in so Pop unblocks. Idempotent.
func (e *AudioEncoder) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	e.in.Close()
	<-e.done
}

// Close frees the encoder context. Call after Run returns.
func (e *AudioEncoder) Close() {
	if e.encCtx != nil {
		e.encCtx.Free()
		e.encCtx = nil
	}
}
