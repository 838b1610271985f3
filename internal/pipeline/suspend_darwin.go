//go:build darwin

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
	"errors"

	"github.com/prashantgupta24/mac-sleep-notifier/notifier"

	"github.com/e1z0/rtsp-pusher/internal/pevent"
)

// watchSuspend subscribes to the same mac-sleep-notifier feed the teacher
// used to pause preview windows across a sleep cycle. There is no preview
// to pause here, so a Sleep notification is instead surfaced as a
// Device-kind fatal error: the capture devices are invalid once the
// machine resumes, and spec §4.6's "any→error on a fatal signal"
// transition applies rather than a silent pause/resume.
func (c *Controller) watchSuspend() {
	notifierCh := notifier.GetInstance().Start()
	for activity := range notifierCh {
		if activity.Type == notifier.Sleep {
			c.runErr <- pevent.NewError(pevent.ErrorDevice, "pipeline.controller",
				errors.New("machine sleeping, capture devices invalidated"))
			return
		}
	}
}
