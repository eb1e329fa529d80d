// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package event delivers extension lifecycle notifications and lets
// subscribers veto a transition before it happens.
package event

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/extd/pkg/bitmask"
)

// Kind identifies which lifecycle transition an event describes.
type Kind uint8

// Lifecycle event kinds.
const (
	KindRegistration Kind = iota + 1
	KindResolve
	KindLoad
	KindRun
	KindShutdown
	KindRemoval
)

func (k Kind) String() string {
	switch k {
	case KindRegistration:
		return "registration"
	case KindResolve:
		return "resolve"
	case KindLoad:
		return "load"
	case KindRun:
		return "run"
	case KindShutdown:
		return "shutdown"
	case KindRemoval:
		return "removal"
	default:
		return "unknown"
	}
}

// Stage tells whether an event precedes or follows its transition.
type Stage uint8

// Event stages.
const (
	StagePre Stage = iota + 1
	StagePost
)

func (s Stage) String() string {
	switch s {
	case StagePre:
		return "pre"
	case StagePost:
		return "post"
	default:
		return "unknown"
	}
}

// State is the decision carried by a pre event.
type State uint8

// State flags.
const (
	// StateProceed allows the transition to go ahead.
	StateProceed State = 1 << iota
)

// DefaultState is the state every pre event starts with.
const DefaultState = StateProceed

// Proceed reports whether the proceed flag is set.
func (s State) Proceed() bool {
	return bitmask.Has(s, StateProceed)
}

// Event is a lifecycle notification for a single extension.
//
// Only pre events carry a mutable state. Handlers of post events may call
// Deny but it has no effect on the outcome.
type Event struct {
	ID        ulid.ULID
	Kind      Kind
	Stage     Stage
	Extension string
	Version   string
	Path      string
	Timestamp time.Time
	// Err is set on post events that report a failed transition.
	Err error

	state State
}

// Pre creates a pre event with the default state.
func Pre(kind Kind, extension, version, path string) *Event {
	return newEvent(kind, StagePre, extension, version, path)
}

// Post creates a post event.
func Post(kind Kind, extension, version, path string) *Event {
	return newEvent(kind, StagePost, extension, version, path)
}

func newEvent(kind Kind, stage Stage, extension, version, path string) *Event {
	e := &Event{
		ID:        NewULID(),
		Kind:      kind,
		Stage:     stage,
		Extension: extension,
		Version:   version,
		Path:      path,
		Timestamp: time.Now(),
	}
	if stage == StagePre {
		e.state = DefaultState
	}
	return e
}

// State returns the current decision.
func (e *Event) State() State {
	return e.state
}

// Deny clears the proceed flag.
func (e *Event) Deny() {
	if e.Stage == StagePre {
		e.state = bitmask.Unset(e.state, StateProceed)
	}
}

// Allow sets the proceed flag again, overriding an earlier Deny.
func (e *Event) Allow() {
	if e.Stage == StagePre {
		e.state = bitmask.Set(e.state, StateProceed)
	}
}
