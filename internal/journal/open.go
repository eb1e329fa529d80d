// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package journal

import (
	"context"

	"github.com/samber/oops"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the Writer for driver. The dsn is a file path for sqlite and
// a connection URL for postgres; memory ignores it.
func Open(ctx context.Context, driver, dsn string) (Writer, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		w, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return w, nil
	case DriverPostgres:
		w, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, oops.Code(CodeDriver).With("driver", driver).Errorf("unknown journal driver %q", driver)
	}
}
