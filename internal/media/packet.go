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

import astiav "github.com/asticode/go-astiav"

// StreamKind distinguishes the two muxed elementary streams. Video is
// stream index 0 and audio is stream index 1 by the output-context
// convention fixed in spec §3.
type StreamKind int

const (
	StreamVideo StreamKind = iota
	StreamAudio
)

// Packet is a compressed payload in the producing encoder's time-base,
// per spec §3. It is owned exclusively by whichever queue currently holds
// it; the mux stage rescales it to the stream time-base and frees it after
// writing.
type Packet struct {
	Pkt       *astiav.Packet
	Kind      StreamKind
	StreamIdx int
	// EncoderTimeBase is the time-base the packet's PTS/DTS are expressed
	// in at emission time (1/fps for video, 1/sample_rate for audio).
	EncoderTimeBase astiav.Rational
	// Keyframe reports, for video packets, whether the payload carries an
	// IDR NALU; audio packets always carry true, since every AAC frame
	// decodes on its own. Used by the mux stage's back-pressure policy
	// (spec §4.5: "drop the oldest video packet at a non-key boundary").
	Keyframe bool
}

// Free releases the underlying native packet. Safe to call once.
func (p *Packet) Free() {
	if p == nil || p.Pkt == nil {
		return
	}
	p.Pkt.Free()
	p.Pkt = nil
}
