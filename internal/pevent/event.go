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

// Package pevent holds the vocabulary shared by every pipeline stage:
// the state machine, the five error kinds from spec §7, and the event
// types surfaced to the GUI collaborator per spec §6. It is deliberately
// free of any dependency on the capture/encode/mux packages so that those
// packages can depend on it without creating an import cycle with the
// controller that wires them together.
package pevent

import "fmt"

// State is one of the pipeline's lifecycle states (spec §3/§4.6).
type State int

const (
	StateNone State = iota
	StateDecoding
	StatePlaying
	StatePaused
	StateError
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateDecoding:
		return "decoding"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// CanTransition reports whether from -> to is a legal state-machine edge
// per spec §4.6: none→decoding on start(), decoding→playing once
// write_header succeeds, playing→ended on normal stop(), any→error on a
// fatal signal, error→ended after cleanup.
func CanTransition(from, to State) bool {
	if to == StateError {
		return from != StateError
	}
	switch from {
	case StateNone:
		return to == StateDecoding
	case StateDecoding:
		return to == StatePlaying || to == StateEnded
	case StatePlaying:
		return to == StateEnded || to == StatePaused
	case StatePaused:
		return to == StatePlaying || to == StateEnded
	case StateError:
		return to == StateEnded
	case StateEnded:
		return to == StateDecoding // restart, per spec §8 "Restartability"
	default:
		return false
	}
}

// ErrorKind is one of the five error kinds from spec §7.
type ErrorKind int

const (
	ErrorConfig ErrorKind = iota
	ErrorDevice
	ErrorCodec
	ErrorNetwork
	ErrorProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorConfig:
		return "config"
	case ErrorDevice:
		return "device"
	case ErrorCodec:
		return "codec"
	case ErrorNetwork:
		return "network"
	case ErrorProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// PipelineError carries the kind and originating stage alongside the
// wrapped cause, so the controller's error fan-in (spec §7: "the
// controller is the sole consumer of error events") can apply the right
// policy without string-matching messages.
type PipelineError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewError builds a PipelineError.
func NewError(kind ErrorKind, stage string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// Event is a single item in the event stream the controller surfaces to
// the GUI collaborator (spec §6 "Outputs from the core").
type Event struct {
	Kind  EventKind
	State StateChange
	Err   error
	Stats Stats
}

// EventKind discriminates which field of Event is populated.
type EventKind int

const (
	EventStateChange EventKind = iota
	EventError
	EventStats
)

// StateChange names the controller emitting the transition, per spec
// §4.6 "Every transition emits a state-change event with the controller's
// name."
type StateChange struct {
	Name  string
	State State
}

// Stats is the throughput snapshot from spec §6.
type Stats struct {
	FramesWritten       int64
	EffectiveBitrateBPS int64
}
