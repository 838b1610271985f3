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

package media

import (
	"sync/atomic"

	astiav "github.com/asticode/go-astiav"
)

// VideoFrame is a raw decoded image plane set plus its capture timestamp,
// per spec §3. It owns an *astiav.Frame until Free is called; ownership
// transfers from the capture stage to the encoder stage when it is popped
// off the capture→encode queue.
type VideoFrame struct {
	Frame     *astiav.Frame
	Width     int
	Height    int
	PixFmt    astiav.PixelFormat
	CapturePTS int64 // source time-base 1/fps, informational only (spec §4.3)
}

// Free releases the underlying native frame. Safe to call once; a second
// call is a no-op so teardown paths that free defensively never double-free.
func (f *VideoFrame) Free() {
	if f == nil || f.Frame == nil {
		return
	}
	f.Frame.Free()
	f.Frame = nil
}

// AudioChunk is a contiguous run of signed 16-bit little-endian PCM, handed
// from capture to the audio encoder by reference per spec §3/§4.2. refs
// lets the same underlying byte slice be shared without copying; Release
// decrements the count and frees the backing array once it hits zero.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int

	refs *int32
}

// NewAudioChunk wraps data as a single-owner chunk ready for Release.
func NewAudioChunk(data []byte, sampleRate, channels int) *AudioChunk {
	refs := int32(1)
	return &AudioChunk{Data: data, SampleRate: sampleRate, Channels: channels, refs: &refs}
}

// Retain bumps the reference count; call before handing the chunk to a
// second consumer.
func (c *AudioChunk) Retain() {
	atomic.AddInt32(c.refs, 1)
}

// Release drops a reference. Once the count reaches zero the backing slice
// is dropped so it can be garbage collected.
func (c *AudioChunk) Release() {
	if atomic.AddInt32(c.refs, -1) <= 0 {
		c.Data = nil
	}
}
