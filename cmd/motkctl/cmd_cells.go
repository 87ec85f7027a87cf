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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/OliverTaki/MOTK2.1-sub002/pkg/trackerclient"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

// newClient builds the tracker API client from the loaded config.
func newClient() *trackerclient.Client {
	timeout := 30 * time.Second
	if config.TimeoutMS > 0 {
		timeout = time.Duration(config.TimeoutMS) * time.Millisecond
	}
	client, err := trackerclient.NewClient(trackerclient.ClientConfig{
		BaseURL: config.ServerURL,
		Timeout: timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func mustKey(collection, entity, field string) cell.Key {
	key, err := cell.NewKey(collection, entity, field)
	if err != nil {
		log.Fatalf("Invalid cell key: %v", err)
	}
	return key
}

func mustValue(raw string) cell.Value {
	v, err := cell.NewValue([]byte(raw))
	if err != nil {
		log.Fatalf("Invalid JSON value %q: %v", raw, err)
	}
	return v
}

// runGet reads and prints one cell value.
func runGet(cmd *cobra.Command, args []string) {
	client := newClient()
	key := mustKey(args[0], args[1], args[2])

	value, err := client.ReadCell(context.Background(), key)
	if err != nil {
		log.Fatalf("Read failed: %v", err)
	}
	fmt.Printf("%s = %s\n", key.String(), value.String())
}

// runSet applies one optimistic update, resolving conflicts per the
// --on-conflict flag.
func runSet(cmd *cobra.Command, args []string) {
	client := newClient()
	key := mustKey(args[0], args[1], args[2])
	newValue := mustValue(args[3])
	ctx := context.Background()

	var original cell.Value
	if originalValue != "" {
		original = mustValue(originalValue)
	} else if !forceWrite {
		// Base the compare on the server's current value.
		current, err := client.ReadCell(ctx, key)
		if err != nil {
			log.Fatalf("Read of current value failed: %v", err)
		}
		original = current
	}

	controller, err := trackerclient.NewController(client)
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	intent := cell.UpdateIntent{
		Key:           key,
		OriginalValue: original,
		NewValue:      newValue,
		Force:         forceWrite,
	}

	outcome := controller.SubmitResolved(ctx, intent, resolutionPolicy())
	switch {
	case outcome.IsCommitted():
		fmt.Printf("committed: %s = %s\n", key.String(), outcome.NewValue.String())
	case outcome.IsConflicted():
		fmt.Printf("conflict left unresolved; server has %s\n",
			outcome.Conflict.ServerCurrentValue.String())
		os.Exit(1)
	default:
		log.Fatalf("Update failed: %v", outcome.Err)
	}
}

// resolutionPolicy maps the --on-conflict flag to a policy. "ask"
// prompts on a terminal and falls back to edit-again otherwise.
func resolutionPolicy() trackerclient.ResolutionPolicy {
	switch onConflict {
	case "overwrite":
		return func(cell.ConflictRecord) trackerclient.Resolution {
			return trackerclient.ResolutionOverwrite
		}
	case "keep-server":
		return func(cell.ConflictRecord) trackerclient.Resolution {
			return trackerclient.ResolutionKeepServer
		}
	case "edit-again":
		return func(cell.ConflictRecord) trackerclient.Resolution {
			return trackerclient.ResolutionEditAgain
		}
	default:
		return askPolicy
	}
}

// askPolicy prompts the user with both values and reads their choice.
func askPolicy(conflict cell.ConflictRecord) trackerclient.Resolution {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		fmt.Fprintln(os.Stderr, "conflict detected and stdin is not a terminal; leaving unresolved")
		return trackerclient.ResolutionEditAgain
	}

	fmt.Printf("Conflict on %s\n", conflict.Key.String())
	fmt.Printf("  your base value:   %s\n", conflict.ClientOriginalValue.String())
	fmt.Printf("  server now has:    %s\n", conflict.ServerCurrentValue.String())
	fmt.Print("Resolve with [o]verwrite, [k]eep server, or [e]dit again? ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return trackerclient.ResolutionEditAgain
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "o", "overwrite":
		return trackerclient.ResolutionOverwrite
	case "k", "keep", "keep-server":
		return trackerclient.ResolutionKeepServer
	default:
		return trackerclient.ResolutionEditAgain
	}
}

// batchFileItem is one entry in a batch JSON file.
type batchFileItem struct {
	Collection    string          `json:"collection"`
	EntityID      string          `json:"entity_id"`
	FieldID       string          `json:"field_id"`
	OriginalValue json.RawMessage `json:"original_value"`
	NewValue      json.RawMessage `json:"new_value"`
	Force         bool            `json:"force,omitempty"`
}

// runBatch applies a batch of independent updates from a JSON file.
func runBatch(cmd *cobra.Command, args []string) {
	data, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatalf("Failed to read batch file: %v", err)
	}

	var items []batchFileItem
	if err := json.Unmarshal(data, &items); err != nil {
		log.Fatalf("Failed to parse batch file: %v", err)
	}
	if len(items) == 0 {
		log.Fatal("Batch file contains no items")
	}

	intents := make(cell.BatchIntent, len(items))
	for i, item := range items {
		key := mustKey(item.Collection, item.EntityID, item.FieldID)
		original, err := cell.NewValue(item.OriginalValue)
		if err != nil {
			log.Fatalf("Item %d: invalid original_value: %v", i, err)
		}
		next, err := cell.NewValue(item.NewValue)
		if err != nil {
			log.Fatalf("Item %d: invalid new_value: %v", i, err)
		}
		intents[i] = cell.UpdateIntent{
			Key:           key,
			OriginalValue: original,
			NewValue:      next,
			Force:         item.Force,
		}
	}

	client := newClient()
	outcome := client.SubmitBatch(context.Background(), intents)

	committed := 0
	for i, item := range outcome.PerItem {
		switch {
		case item.IsCommitted():
			committed++
		case item.IsConflicted():
			fmt.Printf("item %d (%s): conflict, server has %s\n",
				i, intents[i].Key.String(), item.Conflict.ServerCurrentValue.String())
		default:
			fmt.Printf("item %d (%s): failed: %v\n",
				i, intents[i].Key.String(), item.Err)
		}
	}
	fmt.Printf("%d/%d committed, overall success: %v\n",
		committed, len(intents), outcome.OverallSuccess)
	if !outcome.OverallSuccess {
		os.Exit(1)
	}
}

// runHealth checks the tracker's health endpoint.
func runHealth(cmd *cobra.Command, args []string) {
	resp, err := http.Get(config.ServerURL + "/health")
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		log.Fatalf("Failed to decode health response: %v", err)
	}
	fmt.Printf("status: %s, version: %s\n", health.Status, health.Version)
}
