// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

// Phase is an extension's lifecycle position. Phases only advance one step
// at a time; Close is the only way back.
type Phase uint8

// Lifecycle phases in order.
const (
	PhaseRegistered Phase = iota
	PhaseResolved
	PhaseLoaded
	PhaseRunning
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{PhaseRegistered, PhaseResolved, PhaseLoaded, PhaseRunning}

func (p Phase) String() string {
	switch p {
	case PhaseRegistered:
		return "REGISTERED"
	case PhaseResolved:
		return "RESOLVED"
	case PhaseLoaded:
		return "LOADED"
	case PhaseRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}
