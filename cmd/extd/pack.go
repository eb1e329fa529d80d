// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/extd/internal/extension/boundary"
	"github.com/holomush/extd/internal/extension/manifest"
)

// NewPackCmd creates the pack subcommand.
func NewPackCmd() *cobra.Command {
	var (
		manifestPath string
		contentDir   string
		output       string
	)
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Build a container from a manifest and a content directory",
		Long: `Build an extension container. Every regular file under the content
directory is archived; components belong under the identifier's namespace
path, for example org/example/core/ for org.example.core.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := pack(manifestPath, contentDir, output)
			if err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "manifest.yaml", "manifest YAML file")
	cmd.Flags().StringVarP(&contentDir, "content", "c", "", "content directory (empty = no content)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: <identifier>-<version>.bec)")
	return cmd
}

func pack(manifestPath, contentDir, output string) (string, error) {
	doc, err := os.ReadFile(manifestPath) //nolint:gosec // user supplied path
	if err != nil {
		return "", oops.With("path", manifestPath).Wrapf(err, "read manifest")
	}
	m, err := manifest.Parse(doc)
	if err != nil {
		return "", err
	}

	var content []byte
	if contentDir != "" {
		content, err = boundary.Archive(os.DirFS(contentDir))
		if err != nil {
			return "", oops.With("dir", contentDir).Wrap(err)
		}
	}

	if output == "" {
		output = m.Identifier + "-" + m.Version.String() + manifest.FileSuffix
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
		return "", oops.With("path", output).Wrap(err)
	}

	f, err := os.Create(output) //nolint:gosec // user supplied path
	if err != nil {
		return "", oops.With("path", output).Wrap(err)
	}
	if _, err := manifest.WriteContainer(f, doc, content); err != nil {
		_ = f.Close()
		_ = os.Remove(output)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", oops.With("path", output).Wrap(err)
	}
	return output, nil
}
