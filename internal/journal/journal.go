// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package journal records extension lifecycle transitions.
package journal

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Outcome is the result of a single lifecycle transition attempt.
type Outcome string

// Transition outcomes.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeVetoed    Outcome = "vetoed"
	OutcomeSkipped   Outcome = "skipped"
)

// Error codes.
const (
	CodeAppendFailed = "JOURNAL_APPEND_FAILED"
	CodeListFailed   = "JOURNAL_LIST_FAILED"
	CodeOpenFailed   = "JOURNAL_OPEN_FAILED"
	CodeDriver       = "JOURNAL_DRIVER"
)

// DefaultLimit bounds List when the caller passes a non-positive limit.
const DefaultLimit = 100

// Entry is one recorded transition.
type Entry struct {
	ID        ulid.ULID
	Extension string
	Version   string
	Phase     string
	Outcome   Outcome
	Error     string
	Digest    string
	Time      time.Time
}

// Writer persists journal entries.
type Writer interface {
	// Append stores an entry. A zero ID or Time is filled in.
	Append(ctx context.Context, e Entry) error
	// List returns the newest entries first. An empty extension lists all.
	List(ctx context.Context, extension string, limit int) ([]Entry, error)
	Close() error
}

// Discard is a Writer that drops every entry.
var Discard Writer = discard{}

type discard struct{}

func (discard) Append(context.Context, Entry) error                 { return nil }
func (discard) List(context.Context, string, int) ([]Entry, error) { return nil, nil }
func (discard) Close() error                                       { return nil }

func normalize(e Entry, now func() time.Time) Entry {
	if e.Time.IsZero() {
		e.Time = now().UTC()
	}
	if e.ID == (ulid.ULID{}) {
		e.ID = ulid.MustNew(ulid.Timestamp(e.Time), ulid.DefaultEntropy())
	}
	return e
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
