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
	"strings"

	"github.com/spf13/cobra"
)

// runRecall prints the memory context a conversation would receive for
// a query.
func runRecall(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	app, err := newApp(cmd.Context(), "kodiak-recall")
	if err != nil {
		return err
	}
	defer app.close()

	text, err := app.memory.GetContext(cmd.Context(), conversationID, query)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Println("Conversation has no usable memory.")
		return nil
	}
	fmt.Println(text)
	return nil
}
