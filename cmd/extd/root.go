// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/extd/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the extd CLI.
func NewRootCmd(build config.BuildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extd",
		Short: "extd - extension lifecycle host",
		Long: `extd discovers extension containers, wires their dependencies and
drives them through registration, resolution, loading and running.`,
		Version:       build.String(),
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/extd/config.yaml)")

	cmd.AddCommand(NewRunCmd(build))
	cmd.AddCommand(NewInspectCmd())
	cmd.AddCommand(NewPackCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewJournalCmd())

	return cmd
}
