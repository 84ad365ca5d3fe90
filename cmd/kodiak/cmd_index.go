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
	"time"

	"github.com/spf13/cobra"
)

// runIndex executes one index cycle and prints the report.
func runIndex(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd.Context(), "kodiak-index")
	if err != nil {
		return err
	}
	defer app.close()

	report, err := app.indexer.RunCycle(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Cycle finished in %s\n", report.Duration.Round(time.Millisecond))
	fmt.Printf("  added:    %d\n", report.Added)
	fmt.Printf("  modified: %d\n", report.Modified)
	fmt.Printf("  removed:  %d\n", report.Removed)
	fmt.Printf("  skipped:  %d\n", report.Skipped)
	fmt.Printf("  failed:   %d\n", report.Failed)
	fmt.Printf("  fragments written: %d\n", report.Fragments)
	return nil
}
