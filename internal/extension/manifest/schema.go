// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package manifest

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the manifest schema.
const SchemaID = "https://holomush.dev/schemas/extension-manifest.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jschema.Schema
	schemaErr      error
)

// GenerateSchema generates the JSON Schema of the manifest document.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(&Document{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Extension Manifest"
	schema.Description = "Schema for the manifest embedded in extension containers"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Wrapf(err, "failed to marshal schema")
	}
	return data, nil
}

// ValidateSchema validates a YAML manifest against the manifest schema.
func ValidateSchema(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return oops.Errorf("manifest data is empty")
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return oops.Wrapf(err, "invalid YAML")
	}

	// Round-trip through JSON so the validator sees JSON types only.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return oops.Wrapf(err, "manifest is not representable as JSON")
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return oops.Wrapf(err, "manifest is not representable as JSON")
	}

	sch, err := compiled()
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return oops.Wrapf(err, "schema validation failed")
	}
	return nil
}

func compiled() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			schemaErr = oops.Wrapf(err, "failed to parse schema JSON")
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("manifest.schema.json", doc); err != nil {
			schemaErr = oops.Wrapf(err, "failed to add schema resource")
			return
		}
		compiledSchema, schemaErr = c.Compile("manifest.schema.json")
		if schemaErr != nil {
			schemaErr = oops.Wrapf(schemaErr, "failed to compile schema")
		}
	})
	return compiledSchema, schemaErr
}

// FormatSchemaError strips wrapping prefixes from a validation error.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.Index(msg, "schema validation failed: "); i >= 0 {
		msg = msg[i+len("schema validation failed: "):]
	}
	return msg
}
