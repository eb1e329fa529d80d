// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/extd/internal/extension/manifest"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest.yaml>...",
		Short: "Validate manifest files against the schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				data, err := os.ReadFile(path) //nolint:gosec // user supplied path
				if err == nil {
					var m *manifest.Manifest
					if m, err = manifest.Parse(data); err == nil {
						cmd.Printf("%s: ok (%s)\n", path, m)
						continue
					}
				}
				failed++
				cmd.PrintErrf("%s: %s\n", path, manifest.FormatSchemaError(err))
			}
			if failed > 0 {
				return oops.Errorf("%d of %d manifests are invalid", failed, len(args))
			}
			return nil
		},
	}
}
