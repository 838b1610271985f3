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

// Package capture implements C1 (screen) and C2 (audio) from spec §4.1/§4.2:
// lazy sequences of raw frames/PCM pulled from OS capture devices and handed
// to the encode stage through bounded/unbounded queues.
package capture

import (
	"sync"

	astiav "github.com/asticode/go-astiav"
)

var registerOnce sync.Once

// RegisterDevices performs the one-shot, idempotent process-wide
// initialization spec §6/§9 calls for ("Network layer init and
// input-device registration happen once at program start... model as a
// one-shot initializer... idempotent on re-entry"). Call it once before
// any capture stage opens a device; safe to call from multiple goroutines
// or multiple pipeline restarts.
func RegisterDevices() {
	registerOnce.Do(func() {
		astiav.RegisterAllDevices()
	})
}

// screenInputFormat returns the platform screen-grab input format name
// per spec §4.1/§6: "gdigrab" on windows, "avfoundation" on darwin,
// "x11grab" elsewhere.
func screenInputFormat() string {
	return platformScreenFormat()
}

// audioInputFormat returns the platform loopback/stereo-mix capable input
// format name per spec §4.2/§6.
func audioInputFormat() string {
	return platformAudioFormat()
}
