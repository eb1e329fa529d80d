// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import "fmt"

// BuildInfo identifies the running binary. It is built once in main from
// link-time variables and passed explicitly to whatever needs it.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// NewBuildInfo fills unset fields with "unknown" ("dev" for the version).
func NewBuildInfo(version, commit, date string) BuildInfo {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	return BuildInfo{Version: version, Commit: commit, Date: date}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", b.Version, b.Commit, b.Date)
}
