// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"errors"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/extd/internal/extension/manifest"
)

// Error codes.
const (
	CodeContainer = "EXTENSION_CONTAINER"
	CodePhase     = "EXTENSION_PHASE"
	CodeWiring    = "EXTENSION_WIRING"
	CodeDuplicate = "EXTENSION_DUPLICATE"
	CodeDiscovery = "EXTENSION_DISCOVERY"
)

// ResolverError reports dependencies that kept an extension from advancing.
// Dependencies and Services are declared dependencies nothing satisfied;
// Extensions are wired dependencies that have not reached the required phase.
type ResolverError struct {
	Manifest     *manifest.Manifest
	Dependencies []manifest.ExtensionDependency
	Services     []manifest.ServiceDependency
	Extensions   []*manifest.Manifest
}

func (e *ResolverError) Error() string {
	m := e.Manifest
	var b strings.Builder
	b.WriteString("Cannot resolve one or more dependencies for extension ")
	b.WriteString(m.Identifier)
	b.WriteString(" v")
	b.WriteString(m.Version.String())
	b.WriteString("\n\n=== Metadata ===\n")
	b.WriteString("  Extension Id: " + m.Identifier + "\n")
	b.WriteString("  Version: " + m.Version.String() + "\n")
	b.WriteString("  Display Name: " + m.DisplayName + "\n")
	b.WriteString("  Author(s): " + joinAuthors(m.Authors) + "\n")
	b.WriteString("  Contributor(s): " + joinAuthors(m.Contributors) + "\n\n")

	if len(e.Dependencies) > 0 {
		b.WriteString("=== Unresolved Extension Dependencies ===\n")
		for _, d := range e.Dependencies {
			b.WriteString(" - " + d.Identifier + " v" + d.Range.String() + "\n")
		}
		b.WriteString("\n")
	}
	if len(e.Services) > 0 {
		b.WriteString("=== Unresolved Service Dependencies ===\n")
		for _, d := range e.Services {
			b.WriteString(" - " + d.BaseClass + " v" + d.Range.String() + "\n")
		}
		b.WriteString("\n")
	}
	if len(e.Extensions) > 0 {
		b.WriteString("=== Unresolved Extensions ===\n")
		for _, other := range e.Extensions {
			b.WriteString(" - " + other.Identifier + " v" + other.Version.String() + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("This extension will not load until these dependencies are made available.\n")
	b.WriteString("Please refer to the extension documentation for more information")
	return b.String()
}

func joinAuthors(authors []manifest.Author) string {
	names := make([]string, len(authors))
	for i, a := range authors {
		names[i] = a.String()
	}
	return strings.Join(names, ", ")
}

// AsResolverError unwraps err to a ResolverError.
func AsResolverError(err error) (*ResolverError, bool) {
	var re *ResolverError
	ok := errors.As(err, &re)
	return re, ok
}

// IsContainerError reports whether err is a module boundary or application
// context failure.
func IsContainerError(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == CodeContainer
}

// containerError replaces the code of cause so the result always reports
// CodeContainer.
func containerError(m *manifest.Manifest, operation string, cause error) error {
	return oops.Code(CodeContainer).
		With("extension", m.Identifier).
		With("version", m.Version.String()).
		With("operation", operation).
		Errorf("%s for %s: %v", operation, m, cause)
}

func phaseError(m *manifest.Manifest, operation string, actual, expected Phase) error {
	return oops.Code(CodePhase).
		With("extension", m.Identifier).
		With("operation", operation).
		With("phase", actual.String()).
		Errorf("cannot %s %s in phase %s, expected %s", operation, m, actual, expected)
}
