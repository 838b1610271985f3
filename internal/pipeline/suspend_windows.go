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

package pipeline

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/e1z0/rtsp-pusher/internal/pevent"
)

// user32/kernel32 message-only window plumbing for WM_POWERBROADCAST.
// x/sys/windows has no higher-level wrapper for this, so the raw syscalls
// are invoked the same way the teacher's windows.go does.
var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	kernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procRegisterClassExW = user32.NewProc("RegisterClassExW")
	procCreateWindowExW  = user32.NewProc("CreateWindowExW")
	procDefWindowProcW   = user32.NewProc("DefWindowProcW")
	procGetMessageW      = user32.NewProc("GetMessageW")
	procTranslateMessage = user32.NewProc("TranslateMessage")
	procDispatchMessageW = user32.NewProc("DispatchMessageW")
	procGetModuleHandleW = kernel32.NewProc("GetModuleHandleW")
	hwndMessage          = windows.Handle(^uintptr(2))
)

const (
	wmPowerBroadcast = 0x0218
	pbtAPMSuspend    = 0x0004
)

const (
	csVRedraw uint32 = 0x0001
	csHRedraw uint32 = 0x0002
)

type wndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       windows.Handle
	Cursor     windows.Handle
	Background windows.Handle
	MenuName   *uint16
	ClassName  *uint16
	IconSm     windows.Handle
}

type msg struct {
	Hwnd    windows.Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

// watchSuspend registers a message-only window to receive
// WM_POWERBROADCAST, the same mechanism the teacher uses to pause preview
// windows across a sleep cycle. There is no preview to pause here, so
// PBT_APMSUSPEND is surfaced as a Device-kind fatal error instead (spec
// §4.6 "any→error on a fatal signal") — the capture devices are invalid
// once the machine resumes.
func (c *Controller) watchSuspend() {
	className, _ := windows.UTF16PtrFromString("rtsp-pusher.PowerSink")
	hInstance := getModuleHandle()

	wc := wndClassEx{
		Size:      uint32(unsafe.Sizeof(wndClassEx{})),
		Style:     csHRedraw | csVRedraw,
		Instance:  hInstance,
		ClassName: className,
		WndProc: windows.NewCallback(func(hwnd windows.Handle, m uint32, wparam, lparam uintptr) uintptr {
			if m == wmPowerBroadcast && wparam == pbtAPMSuspend {
				c.runErr <- pevent.NewError(pevent.ErrorDevice, "pipeline.controller",
					errors.New("system entering sleep, capture devices invalidated"))
				return 1
			}
			ret, _, _ := procDefWindowProcW.Call(uintptr(hwnd), uintptr(m), wparam, lparam)
			return ret
		}),
	}

	if r, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); r == 0 {
		c.log.Warn("power watcher: RegisterClassEx failed", "error", err)
		return
	}

	hwnd, _, err := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(className)),
		0, 0,
		0, 0, 0, 0,
		uintptr(hwndMessage), 0, uintptr(hInstance), 0,
	)
	if hwnd == 0 {
		c.log.Warn("power watcher: CreateWindowEx failed", "error", err)
		return
	}

	var m msg
	for {
		r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		switch int32(r) {
		case -1:
			c.log.Warn("power watcher: GetMessageW error")
			return
		case 0:
			return // WM_QUIT
		default:
			procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
			procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
		}
	}
}

// getModuleHandle avoids windows.GetModuleHandle, which is absent from
// the pinned x/sys/windows version (same workaround as the teacher uses).
func getModuleHandle() windows.Handle {
	r, _, _ := procGetModuleHandleW.Call(0)
	return windows.Handle(r)
}
