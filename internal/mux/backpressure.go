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

package mux

import "github.com/e1z0/rtsp-pusher/internal/media"

// VideoQueueCapacity and AudioQueueSoftCap are the back-pressure
// thresholds from spec §4.5.
const (
	VideoQueueCapacity = 60
	AudioQueueSoftCap  = 200
)

// EnqueueVideoPacket implements the video queue's overflow policy: when
// full, evict the oldest non-keyframe packet to make room — never a
// keyframe. If every queued packet happens to be a keyframe (pathological
// GOP=1 configuration), the incoming packet is dropped instead so the
// queue never grows unbounded and a keyframe already in flight is never
// lost.
func EnqueueVideoPacket(q *media.Queue[*media.Packet], p *media.Packet) {
	if q.Len() >= VideoQueueCapacity {
		if evicted, ok := q.RemoveMatching(func(pk *media.Packet) bool { return !pk.Keyframe }); ok {
			evicted.Free()
		} else {
			p.Free()
			return
		}
	}
	q.Push(p)
}

// EnqueueAudioPacket pushes p onto q. Audio is never dropped (spec
// §4.2/§4.5); q must be constructed unbounded. AudioQueueSoftCap is only
// a diagnostic threshold: C4 logs a "push slow" warning the moment q.Len()
// first crosses it (see encode/audio.go's drainPackets), without evicting
// anything.
func EnqueueAudioPacket(q *media.Queue[*media.Packet], p *media.Packet) {
	q.Push(p)
}
