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

// Package encode implements C3 (video) and C4 (audio) from spec §4.3/§4.4:
// colour-conversion/resampling into the codec's native format, CBR H.264
// and AAC encoding, and PTS assignment in the encoder's own time-base.
package encode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	astiav "github.com/asticode/go-astiav"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/e1z0/rtsp-pusher/internal/avsync"
	"github.com/e1z0/rtsp-pusher/internal/media"
	"github.com/e1z0/rtsp-pusher/internal/mux"
	"github.com/e1z0/rtsp-pusher/internal/pevent"
)

// VideoConfig configures C3 per spec §4.3.
type VideoConfig struct {
	Width   int
	Height  int
	FPS     int
	Bitrate int64
}

// VideoEncoder is C3.
type VideoEncoder struct {
	cfg    VideoConfig
	log    *slog.Logger
	in     *media.Queue[*media.VideoFrame]
	out    *media.Queue[*media.Packet]
	anchor *avsync.Anchor

	encCtx    *astiav.CodecContext
	stream    *astiav.Stream
	streamIdx int

	scaler  *yuvScaler
	counter int64

	stop chan struct{}
	done chan struct{}
}

// NewVideoEncoder builds C3. Initialize must be called before Run.
func NewVideoEncoder(cfg VideoConfig, in *media.Queue[*media.VideoFrame], out *media.Queue[*media.Packet], anchor *avsync.Anchor, log *slog.Logger) *VideoEncoder {
	return &VideoEncoder{
		cfg:    cfg,
		log:    log.With("component", "encode.video"),
		in:     in,
		out:    out,
		anchor: anchor,
		scaler: &yuvScaler{},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Initialize registers a new video stream on outputCtx and opens the H.264
// encoder per spec §4.3's exact CBR zero-latency configuration. outputCtx
// must not have had WriteHeader called yet (spec §3's output-context
// invariant).
func (e *VideoEncoder) Initialize(outputCtx *astiav.FormatContext) error {
	codec := astiav.FindEncoder(astiav.CodecIDH264)
	if codec == nil {
		return pevent.NewError(pevent.ErrorCodec, "encode.video", errors.New("H.264 encoder not available"))
	}

	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return pevent.NewError(pevent.ErrorCodec, "encode.video", errors.New("AllocCodecContext failed"))
	}

	ctx.SetWidth(e.cfg.Width)
	ctx.SetHeight(e.cfg.Height)
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	ctx.SetTimeBase(astiav.NewRational(1, e.cfg.FPS))
	ctx.SetFramerate(astiav.NewRational(e.cfg.FPS, 1))
	ctx.SetGopSize(30)
	ctx.SetMaxBFrames(0)
	ctx.SetBitRate(e.cfg.Bitrate)
	ctx.SetRcMaxRate(e.cfg.Bitrate)
	ctx.SetRcMinRate(e.cfg.Bitrate)
	ctx.SetRcBufferSize(int(e.cfg.Bitrate + e.cfg.Bitrate/2)) // 1.5x bitrate, spec §4.3
	ctx.SetFlags(ctx.Flags().Add(astiav.CodecFlagGlobalHeader))

	priv := astiav.NewDictionary()
	defer priv.Free()
	_ = priv.Set("preset", "superfast", 0)
	_ = priv.Set("tune", "zerolatency", 0)
	_ = priv.Set("x264-params", "nal-hrd=cbr:force-cfr=1", 0)

	if err := ctx.Open(codec, priv); err != nil {
		ctx.Free()
		return pevent.NewError(pevent.ErrorCodec, "encode.video", fmt.Errorf("open H.264 encoder: %w", err))
	}

	stream := outputCtx.NewStream(codec)
	if stream == nil {
		ctx.Free()
		return pevent.NewError(pevent.ErrorCodec, "encode.video", errors.New("NewStream failed"))
	}
	if err := ctx.ToCodecParameters(stream.CodecParameters()); err != nil {
		ctx.Free()
		return pevent.NewError(pevent.ErrorCodec, "encode.video", fmt.Errorf("ToCodecParameters: %w", err))
	}
	stream.SetTimeBase(ctx.TimeBase())

	e.encCtx = ctx
	e.stream = stream
	e.streamIdx = stream.Index()
	return nil
}

// Run drains raw frames from in, applies the sync policy, colour-converts,
// encodes, and enqueues packets onto out until Stop is called and the
// input queue drains (spec §4.6 shutdown step 2: "flush encoder").
func (e *VideoEncoder) Run() error {
	defer close(e.done)
	defer e.scaler.close()

	ctx := context.Background()
	var failures int
	warmedUp := false

	for {
		vf, ok := e.in.Pop(ctx)
		if !ok {
			break // queue closed and drained
		}

		// Latch the video modality's anchor on the first captured frame,
		// not the first encoded one, so Ready()'s "both modalities
		// present" exit can fire during warm-up instead of only after it.
		e.anchor.SetVideoPTS(0)

		if !warmedUp {
			if !e.anchor.Ready() {
				vf.Free() // warm-up drop, spec §4.6
				continue
			}
			warmedUp = true
		}

		if err := e.encodeOne(vf); err != nil {
			failures++
			e.log.Warn("encode cycle failed", "error", err, "consecutive_failures", failures)
			if failures >= 5 {
				return pevent.NewError(pevent.ErrorCodec, "encode.video", fmt.Errorf("5 consecutive failures: %w", err))
			}
			continue
		}
		failures = 0
	}
	e.flush()
	return nil
}

// encodeOne handles a single raw frame: sync-policy evaluation
// (wait/drop/encode), colour conversion, PTS assignment, and draining
// encoded packets.
func (e *VideoEncoder) encodeOne(vf *media.VideoFrame) error {
	defer vf.Free()

	if e.anchor.Synchronized() {
		for attempts := 0; attempts < 64; attempts++ {
			action, wait := e.anchor.Evaluate(e.counter, e.cfg.FPS)
			switch action {
			case avsync.ActionEncode:
				goto evaluated
			case avsync.ActionDrop:
				return nil // drop: drift out of bounds, spec §4.6 table
			case avsync.ActionWait:
				e.anchor.Wait(wait)
			}
		}
	}
evaluated:

	_, _, yuv, err := e.scaler.toYUV420P(vf.Frame)
	if err != nil {
		return fmt.Errorf("colour convert: %w", err)
	}

	pts := e.counter
	e.counter++
	yuv.SetPts(pts)

	if err := e.encCtx.SendFrame(yuv); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("SendFrame: %w", err)
	}
	return e.drainPackets()
}

// flush sends a nil frame to drain any buffered packets from the encoder,
// per spec §4.6 shutdown step 2.
func (e *VideoEncoder) flush() {
	if e.encCtx == nil {
		return
	}
	_ = e.encCtx.SendFrame(nil)
	_ = e.drainPackets()
}

func (e *VideoEncoder) drainPackets() error {
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
		keyframe := isKeyframe(pkt)

		mux.EnqueueVideoPacket(e.out, &media.Packet{
			Pkt:             pkt,
			Kind:            media.StreamVideo,
			StreamIdx:       e.streamIdx,
			EncoderTimeBase: e.encCtx.TimeBase(),
			Keyframe:        keyframe,
		})
	}
}

// isKeyframe inspects the Annex B payload for an IDR NALU, using
// mediacommon's H.264 parser the same way babelcloud-gbox's device
// streaming transport does for its own keyframe detection.
func isKeyframe(pkt *astiav.Packet) bool {
	data, err := pkt.Data()
	if err != nil || len(data) == 0 {
		return false
	}
	var annexB h264.AnnexB
	if err := annexB.Unmarshal(data); err != nil {
		return false
	}
	for _, nalu := range annexB {
		if len(nalu) == 0 {
			continue
		}
		if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// Stop asks Run's loop to exit after draining in-flight frames, and
// closes in so Pop unblocks. Idempotent.
func (e *VideoEncoder) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	e.in.Close()
	<-e.done
}

// Close frees the encoder context and stream state. Call after Run
// returns and after the output context's header/trailer protocol no
// longer needs this stream.
func (e *VideoEncoder) Close() {
	if e.encCtx != nil {
		e.encCtx.Free()
		e.encCtx = nil
	}
}
