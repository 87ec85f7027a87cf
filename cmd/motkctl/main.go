// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command motkctl is a cli for inspecting and editing tracked cell
// values against a running tracker service.
package main

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the motkctl configuration, loaded from motkctl.yaml when
// present. Flags override file values.
type Config struct {
	ServerURL string `yaml:"server_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

var config Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// loadConfigFile populates config from motkctl.yaml if it exists.
// A missing file is fine; flags and defaults cover everything.
func loadConfigFile() {
	yamlFile, err := os.ReadFile("motkctl.yaml")
	if err != nil {
		return
	}
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		log.Fatalf("Error parsing motkctl.yaml: %v", err)
	}
}
