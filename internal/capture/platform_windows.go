//go:build windows

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

func platformScreenFormat() string { return "gdigrab" }
func platformAudioFormat() string  { return "dshow" }

// defaultVideoDeviceArg turns the §6 "desktop" source name into the
// gdigrab device argument.
func defaultVideoDeviceArg(source string) string {
	if source == "" {
		return "desktop"
	}
	return source
}
