// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/extd/internal/config"
	"github.com/holomush/extd/internal/journal"
	"github.com/holomush/extd/pkg/errutil"
)

// NewJournalCmd creates the journal subcommand.
func NewJournalCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "journal [extension]",
		Short: "List recorded lifecycle transitions, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			var ext string
			if len(args) == 1 {
				ext = args[0]
			}
			return listJournal(cmd, cfg, ext, limit, asJSON, journal.Open)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().IntVarP(&limit, "limit", "n", journal.DefaultLimit, "maximum number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func listJournal(cmd *cobra.Command, cfg *config.Config, ext string, limit int, asJSON bool,
	open func(ctx context.Context, driver, dsn string) (journal.Writer, error),
) error {
	ctx := cmd.Context()
	jw, err := open(ctx, cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := jw.Close(); err != nil {
			errutil.LogWarn(slog.Default(), "failed to close journal", err)
		}
	}()

	entries, err := jw.List(ctx, ext, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJournalJSON(cmd.OutOrStdout(), entries)
	}
	out, err := formatJournal(entries)
	if err != nil {
		return err
	}
	cmd.Print(out)
	return nil
}

type journalEntryJSON struct {
	ID        string `json:"id"`
	Time      string `json:"time"`
	Extension string `json:"extension"`
	Version   string `json:"version"`
	Phase     string `json:"phase"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	Digest    string `json:"digest,omitempty"`
}

func writeJournalJSON(w io.Writer, entries []journal.Entry) error {
	out := make([]journalEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, journalEntryJSON{
			ID:        e.ID.String(),
			Time:      e.Time.Format(time.RFC3339Nano),
			Extension: e.Extension,
			Version:   e.Version,
			Phase:     e.Phase,
			Outcome:   string(e.Outcome),
			Error:     e.Error,
			Digest:    e.Digest,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatJournal(entries []journal.Entry) (string, error) {
	if len(entries) == 0 {
		return "no journal entries\n", nil
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tEXTENSION\tVERSION\tPHASE\tOUTCOME\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time.Local().Format(time.DateTime),
			e.Extension, e.Version, e.Phase, e.Outcome, orNone(e.Error))
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
