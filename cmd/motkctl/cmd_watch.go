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
	"fmt"
	"log"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/feed"
)

// runWatch streams committed cell updates until interrupted.
func runWatch(cmd *cobra.Command, args []string) {
	wsURL := strings.Replace(config.ServerURL, "http", "ws", 1) + "/v1/cells/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", wsURL, err)
	}
	defer conn.Close()

	fmt.Printf("watching committed updates from %s\n", config.ServerURL)
	for {
		var event feed.CommitEvent
		if err := conn.ReadJSON(&event); err != nil {
			log.Fatalf("Feed closed: %v", err)
		}
		marker := ""
		if event.Forced {
			marker = " (forced)"
		}
		fmt.Printf("%s %s/%s/%s = %s%s\n",
			event.At.Format("15:04:05"),
			event.Collection, event.EntityID, event.FieldID,
			event.Value.String(), marker)
	}
}
