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

// Package mux implements C5 (the interleaved RTSP writer) and the
// back-pressure policy (spec §4.5) that feeds it.
package mux

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	astiav "github.com/asticode/go-astiav"

	"github.com/e1z0/rtsp-pusher/internal/media"
	"github.com/e1z0/rtsp-pusher/internal/pevent"
)

// idleSleep is how long the writer loop parks when both queues are empty,
// per spec §4.5 ("poll with a short sleep rather than busy-spin").
const idleSleep = time.Millisecond

// Pusher is C5: it owns the single output AVFormatContext and writes
// interleaved packets from the video and audio queues in presentation
// order, tie-breaking to video. It never calls WriteHeader/WriteTrailer —
// that is the controller's (C6) responsibility, bracketing C5's lifetime.
type Pusher struct {
	log *slog.Logger

	outputCtx   *astiav.FormatContext
	videoStream *astiav.Stream
	audioStream *astiav.Stream

	video *media.Queue[*media.Packet]
	audio *media.Queue[*media.Packet]

	written    int64 // atomic: packets written
	bytesTotal int64 // atomic: total payload bytes written, for bitrate stats

	stop chan struct{}
	done chan struct{}
}

// NewPusher builds C5. outputCtx must already have both streams added
// (via VideoEncoder.Initialize/AudioEncoder.Initialize); the controller
// must call WriteHeader before Run is started.
func NewPusher(outputCtx *astiav.FormatContext, videoStream, audioStream *astiav.Stream, video, audio *media.Queue[*media.Packet], log *slog.Logger) *Pusher {
	return &Pusher{
		log:         log.With("component", "mux.pusher"),
		outputCtx:   outputCtx,
		videoStream: videoStream,
		audioStream: audioStream,
		video:       video,
		audio:       audio,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run writes interleaved packets until Stop is called and both queues are
// drained. Callers run it on its own goroutine per spec §5.
func (p *Pusher) Run() error {
	defer close(p.done)

	for {
		select {
		case <-p.stop:
			p.drainRemaining()
			return nil
		default:
		}

		vp, vok := p.video.Peek()
		ap, aok := p.audio.Peek()

		switch {
		case !vok && !aok:
			time.Sleep(idleSleep)
			continue
		case vok && !aok:
			p.video.TryPop()
			if err := p.write(vp); err != nil {
				return err
			}
		case !vok && aok:
			p.audio.TryPop()
			if err := p.write(ap); err != nil {
				return err
			}
		default:
			// Both ready: compare PTS rescaled to microseconds, tie goes to
			// video per spec §4.5.
			vUs := rescale(vp.Pkt.Pts(), vp.EncoderTimeBase)
			aUs := rescale(ap.Pkt.Pts(), ap.EncoderTimeBase)
			if vUs <= aUs {
				p.video.TryPop()
				if err := p.write(vp); err != nil {
					return err
				}
			} else {
				p.audio.TryPop()
				if err := p.write(ap); err != nil {
					return err
				}
			}
		}
	}
}

// drainRemaining flushes whatever is already queued (not blocking on new
// arrivals), per spec §4.6 shutdown step 3 ("drain the mux queues").
func (p *Pusher) drainRemaining() {
	for {
		vp, vok := p.video.TryPop()
		if vok {
			_ = p.write(vp)
			continue
		}
		ap, aok := p.audio.TryPop()
		if aok {
			_ = p.write(ap)
			continue
		}
		break
	}
}

func (p *Pusher) write(pkt *media.Packet) error {
	defer pkt.Free()

	var stream *astiav.Stream
	if pkt.Kind == media.StreamVideo {
		stream = p.videoStream
	} else {
		stream = p.audioStream
	}

	pkt.Pkt.RescaleTs(pkt.EncoderTimeBase, stream.TimeBase())
	pkt.Pkt.SetStreamIndex(stream.Index())

	if err := p.outputCtx.WriteInterleavedFrame(pkt.Pkt); err != nil {
		if errors.Is(err, astiav.ErrEio) || errors.Is(err, astiav.ErrEagain) {
			return pevent.NewError(pevent.ErrorNetwork, "mux.pusher", fmt.Errorf("WriteInterleavedFrame: %w", err))
		}
		return pevent.NewError(pevent.ErrorProtocol, "mux.pusher", fmt.Errorf("WriteInterleavedFrame: %w", err))
	}
	atomic.AddInt64(&p.written, 1)
	atomic.AddInt64(&p.bytesTotal, int64(pkt.Pkt.Size()))
	p.audio.Broadcast() // wake any Pop caller blocked on the audio packet queue
	return nil
}

func rescale(pts int64, tb astiav.Rational) int64 {
	if tb.Den() == 0 {
		return pts
	}
	return pts * int64(tb.Num()) * 1_000_000 / int64(tb.Den())
}

// WrittenCount returns the cumulative number of packets written, used by
// C6's 1-second stats cadence.
func (p *Pusher) WrittenCount() int64 {
	return atomic.LoadInt64(&p.written)
}

// BytesWritten returns the cumulative payload bytes written (pkt.Size()
// summed across every WriteInterleavedFrame call), the basis for the
// spec §6 effective_bitrate_bps stat.
func (p *Pusher) BytesWritten() int64 {
	return atomic.LoadInt64(&p.bytesTotal)
}

// Stop asks Run to exit after draining already-queued packets. Idempotent.
// Blocks until Run has returned; the controller bounds that wait with its
// own shutdown timeout.
func (p *Pusher) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}
