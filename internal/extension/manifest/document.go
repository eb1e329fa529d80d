// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package manifest

import (
	"bytes"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/extd/pkg/version"
)

// Document is the YAML form of a manifest as stored in a container.
type Document struct {
	FormatVersion int           `yaml:"format-version" jsonschema:"required,minimum=1,maximum=1"`
	Flags         []FlagName    `yaml:"flags,omitempty" jsonschema:"uniqueItems=true"`
	Identifier    string        `yaml:"identifier" jsonschema:"required,maxLength=255,pattern=^[A-Za-z][A-Za-z0-9_-]*(\\.[A-Za-z][A-Za-z0-9_-]*)*$"`
	Version       string        `yaml:"version" jsonschema:"required,minLength=5"`
	DisplayName   string        `yaml:"display-name,omitempty" jsonschema:"maxLength=128"`
	Authors       []AuthorDoc   `yaml:"authors,omitempty"`
	Contributors  []AuthorDoc   `yaml:"contributors,omitempty"`
	Services      []ServiceDoc  `yaml:"services,omitempty"`
	Dependencies  DependencyDoc `yaml:"dependencies,omitempty"`
}

// FlagName is the manifest spelling of a flag.
type FlagName string

// JSONSchema restricts flag names to the known set.
func (FlagName) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "string",
		Enum: []any{"private", "commercial", "ci-build"},
	}
}

// AuthorDoc is the YAML form of an author.
type AuthorDoc struct {
	Name  string `yaml:"name" jsonschema:"required,minLength=1"`
	Alias string `yaml:"alias,omitempty"`
}

// ServiceDoc is the YAML form of a provided service.
type ServiceDoc struct {
	Identifier string `yaml:"identifier" jsonschema:"required,minLength=1"`
	Version    string `yaml:"version" jsonschema:"required,minLength=5"`
}

// DependencyDoc groups declared dependencies.
type DependencyDoc struct {
	Extensions []ExtensionDependencyDoc `yaml:"extensions,omitempty"`
	Services   []ServiceDependencyDoc   `yaml:"services,omitempty"`
}

// ExtensionDependencyDoc is the YAML form of an extension dependency.
type ExtensionDependencyDoc struct {
	Identifier   string `yaml:"identifier" jsonschema:"required,minLength=1"`
	VersionRange string `yaml:"version-range" jsonschema:"required,minLength=5"`
	Optional     bool   `yaml:"optional,omitempty"`
}

// ServiceDependencyDoc is the YAML form of a service dependency.
type ServiceDependencyDoc struct {
	BaseClass    string `yaml:"base-class" jsonschema:"required,minLength=1"`
	VersionRange string `yaml:"version-range" jsonschema:"required,minLength=5"`
	Optional     bool   `yaml:"optional,omitempty"`
}

// Parse validates a YAML manifest against the schema and builds a Manifest.
// Any malformed embedded version or range fails the whole manifest.
func Parse(data []byte) (*Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, oops.Code(CodeManifestInvalid).Wrapf(err, "manifest does not match schema")
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, oops.Code(CodeManifestInvalid).Wrapf(err, "invalid manifest YAML")
	}
	return doc.Build()
}

// Build converts the document into a Manifest.
func (d *Document) Build() (*Manifest, error) {
	errb := oops.Code(CodeManifestInvalid).With("identifier", d.Identifier)

	if d.FormatVersion != FormatVersion {
		return nil, errb.With("format_version", d.FormatVersion).
			Errorf("unsupported manifest format version %d", d.FormatVersion)
	}

	v, err := version.Parse(d.Version)
	if err != nil {
		return nil, errb.Errorf("illegal extension version: %v", err)
	}

	m := &Manifest{
		FormatVersion: d.FormatVersion,
		Identifier:    d.Identifier,
		Version:       v,
		DisplayName:   d.DisplayName,
	}
	if m.DisplayName == "" {
		m.DisplayName = d.Identifier
	}

	for _, name := range d.Flags {
		flag, ok := flagNames[string(name)]
		if !ok {
			return nil, errb.With("flag", name).Errorf("unknown flag %q", name)
		}
		m.Flags |= flag
	}

	for _, a := range d.Authors {
		m.Authors = append(m.Authors, Author(a))
	}
	for _, a := range d.Contributors {
		m.Contributors = append(m.Contributors, Author(a))
	}

	for _, s := range d.Services {
		sv, err := version.Parse(s.Version)
		if err != nil {
			return nil, errb.With("service", s.Identifier).
				Errorf("illegal service version: %v", err)
		}
		m.Services = append(m.Services, Service{Identifier: s.Identifier, Version: sv})
	}

	for _, dep := range d.Dependencies.Extensions {
		r, err := version.ParseRange(dep.VersionRange)
		if err != nil {
			return nil, errb.With("dependency", dep.Identifier).
				Errorf("illegal dependency range: %v", err)
		}
		m.ExtensionDependencies = append(m.ExtensionDependencies, ExtensionDependency{
			Identifier: dep.Identifier,
			Range:      r,
			Optional:   dep.Optional,
		})
	}

	for _, dep := range d.Dependencies.Services {
		r, err := version.ParseRange(dep.VersionRange)
		if err != nil {
			return nil, errb.With("service_dependency", dep.BaseClass).
				Errorf("illegal service dependency range: %v", err)
		}
		m.ServiceDependencies = append(m.ServiceDependencies, ServiceDependency{
			BaseClass: dep.BaseClass,
			Range:     r,
			Optional:  dep.Optional,
		})
	}

	return m, nil
}

// Document converts m back into its YAML form.
func (m *Manifest) Document() *Document {
	d := &Document{
		FormatVersion: m.FormatVersion,
		Identifier:    m.Identifier,
		Version:       m.Version.String(),
	}
	if m.DisplayName != m.Identifier {
		d.DisplayName = m.DisplayName
	}
	for _, name := range m.Flags.Names() {
		d.Flags = append(d.Flags, FlagName(name))
	}
	for _, a := range m.Authors {
		d.Authors = append(d.Authors, AuthorDoc(a))
	}
	for _, a := range m.Contributors {
		d.Contributors = append(d.Contributors, AuthorDoc(a))
	}
	for _, s := range m.Services {
		d.Services = append(d.Services, ServiceDoc{Identifier: s.Identifier, Version: s.Version.String()})
	}
	for _, dep := range m.ExtensionDependencies {
		d.Dependencies.Extensions = append(d.Dependencies.Extensions, ExtensionDependencyDoc{
			Identifier:   dep.Identifier,
			VersionRange: dep.Range.String(),
			Optional:     dep.Optional,
		})
	}
	for _, dep := range m.ServiceDependencies {
		d.Dependencies.Services = append(d.Dependencies.Services, ServiceDependencyDoc{
			BaseClass:    dep.BaseClass,
			VersionRange: dep.Range.String(),
			Optional:     dep.Optional,
		})
	}
	return d
}

// Marshal encodes m as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(m.Document())
	if err != nil {
		return nil, oops.Code(CodeManifestInvalid).Wrapf(err, "failed to encode manifest")
	}
	return data, nil
}
