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

package pipeline

import (
	"context"
	"time"

	"github.com/e1z0/rtsp-pusher/internal/mux"
	"github.com/e1z0/rtsp-pusher/internal/pevent"
)

// statsCadence is the 1-second reporting interval for the spec §6
// throughput stats, mirroring the teacher's metricsTimer.
const statsCadence = time.Second

// statsEmitter periodically snapshots the pusher's throughput and emits a
// Stats event.
type statsEmitter struct {
	pusher *mux.Pusher
	events chan<- pevent.Event
	name   string
}

func newStatsEmitter(pusher *mux.Pusher, events chan<- pevent.Event, name string) *statsEmitter {
	return &statsEmitter{pusher: pusher, events: events, name: name}
}

func (s *statsEmitter) run(ctx context.Context) {
	ticker := time.NewTicker(statsCadence)
	defer ticker.Stop()

	var lastBytes int64
	lastAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			written := s.pusher.WrittenCount()
			bytes := s.pusher.BytesWritten()
			deltaBytes := bytes - lastBytes
			elapsed := now.Sub(lastAt).Seconds()
			var bps int64
			if elapsed > 0 {
				bps = int64(float64(deltaBytes*8) / elapsed)
			}
			lastBytes = bytes
			lastAt = now

			select {
			case s.events <- pevent.Event{
				Kind: pevent.EventStats,
				Stats: pevent.Stats{
					FramesWritten:       written,
					EffectiveBitrateBPS: bps,
				},
			}:
			default:
				// events channel full: drop this tick rather than block the
				// stats loop, the next tick supersedes it anyway.
			}
		}
	}
}
