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
	"errors"
	"fmt"

	astiav "github.com/asticode/go-astiav"
)

// yuvScaler lazily builds a software-scale context from whatever pixel
// format/size the capture stage hands it to the encoder's fixed YUV420P
// target, mirroring the teacher's bgraScaler in video.go but inverted
// (there it scales a decoded frame up to a fixed-size BGRA canvas for Qt;
// here it scales/converts a captured frame down into the encoder's native
// format).
type yuvScaler struct {
	sws       *astiav.SoftwareScaleContext
	srcW      int
	srcH      int
	srcFmt    astiav.PixelFormat
	dstW      int
	dstH      int
	converted *astiav.Frame
}

// toYUV420P converts src into a YUV420P frame with src's own width/height,
// rebuilding the scale context whenever the source geometry or format
// changes (capture devices can renegotiate). It does not resize to the
// encoder's configured width/height.
func (s *yuvScaler) toYUV420P(src *astiav.Frame) (width, height int, out *astiav.Frame, err error) {
	if src == nil {
		return 0, 0, nil, errors.New("nil source frame")
	}

	w, h := src.Width(), src.Height()
	if s.sws == nil || s.srcW != w || s.srcH != h || s.srcFmt != src.PixelFormat() {
		if s.sws != nil {
			s.sws.Free()
			s.sws = nil
		}
		flags := astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBicubic)
		sws, err := astiav.CreateSoftwareScaleContext(
			w, h, src.PixelFormat(),
			w, h, astiav.PixelFormatYuv420P,
			flags,
		)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("CreateSoftwareScaleContext: %w", err)
		}
		s.sws = sws
		s.srcW, s.srcH, s.srcFmt = w, h, src.PixelFormat()
		s.dstW, s.dstH = w, h

		if s.converted != nil {
			s.converted.Free()
		}
		s.converted = astiav.AllocFrame()
		s.converted.SetWidth(w)
		s.converted.SetHeight(h)
		s.converted.SetPixelFormat(astiav.PixelFormatYuv420P)
		if err := s.converted.AllocBuffer(1); err != nil {
			return 0, 0, nil, fmt.Errorf("AllocBuffer: %w", err)
		}
	}

	if err := s.sws.ScaleFrame(src, s.converted); err != nil {
		return 0, 0, nil, fmt.Errorf("ScaleFrame: %w", err)
	}
	return s.dstW, s.dstH, s.converted, nil
}

// close frees the scale context and the reusable converted-frame buffer.
func (s *yuvScaler) close() {
	if s.sws != nil {
		s.sws.Free()
		s.sws = nil
	}
	if s.converted != nil {
		s.converted.Free()
		s.converted = nil
	}
}
