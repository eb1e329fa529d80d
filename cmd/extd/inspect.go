// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/holomush/extd/internal/extension/manifest"
)

// NewInspectCmd creates the inspect subcommand.
func NewInspectCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "inspect <container>",
		Short: "Print the header, digest and manifest of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := manifest.ReadContainer(args[0])
			if err != nil {
				return err
			}
			if raw {
				doc, err := c.Manifest.Marshal()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(doc)
				return err
			}
			out, err := formatContainer(c)
			if err != nil {
				return err
			}
			cmd.Print(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "manifest", false, "print only the manifest as YAML")
	return cmd
}

func formatContainer(c *manifest.Container) (string, error) {
	m := c.Manifest
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	row := func(key, value string) {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", key, value)
	}
	row("Identifier:", m.Identifier)
	row("Version:", m.Version.String())
	row("Name:", m.DisplayName)
	row("Flags:", orNone(strings.Join(m.Flags.Names(), ", ")))
	row("Digest:", "blake2b-256:"+c.DigestString())
	row("Manifest:", fmt.Sprintf("%d bytes", c.Header.ManifestLength))
	row("Content:", fmt.Sprintf("%d bytes at offset %d", c.Header.ContentLength, c.Header.ContentOffset()))
	row("Authors:", orNone(joinStrings(m.Authors)))
	row("Contributors:", orNone(joinStrings(m.Contributors)))
	row("Services:", orNone(joinServices(m.Services)))
	row("Extension deps:", orNone(joinStrings(m.ExtensionDependencies)))
	row("Service deps:", orNone(joinStrings(m.ServiceDependencies)))

	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func joinStrings[T fmt.Stringer](items []T) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, item.String())
	}
	return strings.Join(parts, ", ")
}

func joinServices(services []manifest.Service) string {
	parts := make([]string, 0, len(services))
	for _, s := range services {
		parts = append(parts, s.Identifier+"#"+s.Version.String())
	}
	return strings.Join(parts, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
