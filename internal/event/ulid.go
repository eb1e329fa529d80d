// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package event

import (
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// NewULID returns an event ID. IDs are monotonic within the process, so
// events posted in sequence sort in posting order.
func NewULID() ulid.ULID {
	return ulid.Make()
}

// ParseULID parses an event ID.
func ParseULID(s string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ulid.ULID{}, oops.Code("EVENT_INVALID_ID").With("id", s).Wrapf(err, "invalid event id")
	}
	return id, nil
}
