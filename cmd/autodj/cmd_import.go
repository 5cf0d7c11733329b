/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_autodj/internal/catalog"
	"github.com/friendsincode/grimnir_autodj/internal/db"
	"github.com/friendsincode/grimnir_autodj/internal/eventbus"
	"github.com/friendsincode/grimnir_autodj/internal/events"
)

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a YAML catalog seed",
	Long: `Create or update channels, playlists and tracks from a YAML seed file.

Records are upserted by id, so importing the same file twice is harmless.
Every touched channel is announced on the configured change feed, so running
daemons pick the new catalog up without a restart.

Examples:
  # Check a seed file without writing anything
  autodj import --dry-run catalog.yaml

  # Import and notify running daemons
  AUTODJ_CHANGE_FEED=redis autodj import catalog.yaml
`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the file without importing")
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()

	doc, err := catalog.ParseDocument(f)
	if err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	if importDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d channel(s) valid\n", args[0], len(doc.Channels))
		return nil
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	feed := eventbus.Open(cfg, database, events.NewBus(), logger)
	defer feed.Close()

	summary, err := catalog.NewImporter(database, feed, logger).Import(cmd.Context(), doc)
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
