// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main is the entry point for the extd extension host.
package main

import (
	"os"

	"github.com/holomush/extd/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	build := config.NewBuildInfo(version, commit, date)
	cmd := NewRootCmd(build)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
