// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import "github.com/holomush/extd/internal/extension/boundary"

// AppContext is the component container an extension runs in. The host
// calls RegisterSingleton, Scan, Refresh and Start in that order, and Close
// at most once.
type AppContext interface {
	// RegisterSingleton exposes value to the context's components under name.
	RegisterSingleton(name string, value any) error
	// Scan adds a namespace whose components are instantiated on Refresh.
	Scan(namespace string) error
	// Refresh instantiates all components. It either succeeds completely or
	// leaves nothing behind.
	Refresh() error
	// Start starts the refreshed components.
	Start() error
	// Close stops started components and releases the context.
	Close() error
}

// ContextFactory creates child contexts scoped to a module boundary.
type ContextFactory interface {
	NewContext(parent AppContext, b *boundary.Boundary) (AppContext, error)
}
