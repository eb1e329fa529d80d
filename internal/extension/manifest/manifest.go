// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package manifest decodes extension containers and the manifest they carry.
package manifest

import (
	"strings"

	"github.com/holomush/extd/pkg/bitmask"
	"github.com/holomush/extd/pkg/version"
)

// CodeManifestInvalid is the oops code of every decode failure.
const CodeManifestInvalid = "MANIFEST_INVALID"

// FormatVersion is the only manifest format this host understands.
const FormatVersion = 1

// Flags describe how an extension was built and distributed.
type Flags uint16

// Flag values.
const (
	FlagPrivate    Flags = 16
	FlagCommercial Flags = 32
	FlagCIBuild    Flags = 128
)

var flagNames = map[string]Flags{
	"private":    FlagPrivate,
	"commercial": FlagCommercial,
	"ci-build":   FlagCIBuild,
}

// Has reports whether f contains flag.
func (f Flags) Has(flag Flags) bool { return bitmask.Has(f, flag) }

// Names returns the manifest names of the set flags, lowest bit first.
func (f Flags) Names() []string {
	var names []string
	bitmask.Each(f, func(flag Flags) bool {
		for name, v := range flagNames {
			if v == flag {
				names = append(names, name)
			}
		}
		return true
	})
	return names
}

// Author credits a person.
type Author struct {
	Name  string
	Alias string
}

func (a Author) String() string {
	if a.Alias == "" {
		return a.Name
	}
	return a.Name + " (" + a.Alias + ")"
}

// Service is a service provided by an extension.
type Service struct {
	Identifier string
	Version    version.Version
}

// ExtensionDependency declares a dependency on another extension.
type ExtensionDependency struct {
	Identifier string
	Range      version.Range
	Optional   bool
}

// Matches reports whether m satisfies the dependency. Identifiers compare
// case-insensitively.
func (d ExtensionDependency) Matches(m *Manifest) bool {
	if m == nil {
		return false
	}
	return strings.EqualFold(d.Identifier, m.Identifier) && d.Range.Contains(m.Version)
}

func (d ExtensionDependency) String() string {
	return d.Identifier + "@" + d.Range.String()
}

// ServiceDependency declares a dependency on a service implementation.
type ServiceDependency struct {
	BaseClass string
	Range     version.Range
	Optional  bool
}

func (d ServiceDependency) String() string {
	return d.BaseClass + "@" + d.Range.String()
}

// Manifest describes an extension. It is created once when a container is
// decoded and must not be modified afterwards.
type Manifest struct {
	FormatVersion         int
	Flags                 Flags
	Identifier            string
	Version               version.Version
	DisplayName           string
	Authors               []Author
	Contributors          []Author
	Services              []Service
	ExtensionDependencies []ExtensionDependency
	ServiceDependencies   []ServiceDependency
}

// Namespace returns the archive path holding the extension's components,
// for example "org/example/core/" for "org.example.core".
func (m *Manifest) Namespace() string {
	return strings.ReplaceAll(m.Identifier, ".", "/") + "/"
}

func (m *Manifest) String() string {
	return m.Identifier + "#" + m.Version.String()
}
