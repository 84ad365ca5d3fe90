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
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/services/retrieval/memory"
	"github.com/AleutianAI/kodiak/services/retrieval/planner"
)

// runSearch retrieves assembled context for a query.
func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	app, err := newApp(cmd.Context(), "kodiak-search")
	if err != nil {
		return err
	}
	defer app.close()

	if searchMemory {
		hits, err := app.memory.SearchLongTerm(cmd.Context(), query, memory.SearchOptions{})
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("No memory matched the query.")
			return nil
		}
		for i, h := range hits {
			fmt.Printf("%d. [%s #%d, score %.3f]\n%s\n\n", i+1, h.ConversationID, h.SequenceIndex, h.Score, h.Text)
		}
		return nil
	}

	result, err := app.planner.Retrieve(cmd.Context(), query, planner.Options{ConversationID: conversationID})
	if errors.Is(err, planner.ErrNoRelevantContext) {
		fmt.Println("Nothing in the vault matched the query.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Band: %s  Intent: %s  Fragments: %d  Size: %d bytes\n\n",
		result.Band, result.Intent.Type, result.FragmentCount, result.ContextSize)
	fmt.Println(result.Text)
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return nil
}
