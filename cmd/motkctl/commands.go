// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL     string
	originalValue string
	forceWrite    bool
	onConflict    string // overwrite / keep-server / edit-again / ask

	rootCmd = &cobra.Command{
		Use:   "motkctl",
		Short: "A cli to inspect and edit MOTK tracked cell values",
		Long: `motkctl talks to a running tracker service to read cells,
apply optimistic updates, and resolve write-write conflicts.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadConfigFile()
			if serverURL != "" {
				config.ServerURL = serverURL
			}
			if config.ServerURL == "" {
				config.ServerURL = "http://localhost:12410"
			}
		},
	}

	getCmd = &cobra.Command{
		Use:   "get <collection> <entity> <field>",
		Short: "Read the current value of one cell",
		Args:  cobra.ExactArgs(3),
		Run:   runGet, // Defined in cmd_cells.go
	}

	setCmd = &cobra.Command{
		Use:   "set <collection> <entity> <field> <json-value>",
		Short: "Apply an optimistic update to one cell",
		Args:  cobra.ExactArgs(4),
		Run:   runSet, // Defined in cmd_cells.go
	}

	batchCmd = &cobra.Command{
		Use:   "batch [json_file]",
		Short: "Apply a batch of independent cell updates from a JSON file",
		Args:  cobra.ExactArgs(1),
		Run:   runBatch, // Defined in cmd_cells.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream committed cell updates from the server",
		Run:   runWatch, // Defined in cmd_watch.go
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check tracker service health",
		Run:   runHealth, // Defined in cmd_cells.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Tracker service URL (overrides motkctl.yaml)")

	setCmd.Flags().StringVar(&originalValue, "original", "",
		"JSON value the edit is based on; fetched from the server when omitted")
	setCmd.Flags().BoolVar(&forceWrite, "force", false,
		"Skip the compare check (last-write-wins)")
	setCmd.Flags().StringVar(&onConflict, "on-conflict", "ask",
		"Conflict resolution: overwrite, keep-server, edit-again, or ask")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(healthCmd)
}
