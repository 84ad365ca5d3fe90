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
	conversationID string
	hardDelete     bool
	purgeDeleted   bool
	searchMemory   bool

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "A local retrieval engine for your document vault",
		Long: `Kodiak indexes a folder of notes into a searchable vector index
and serves query-sized context for LLM prompts, with conversational
memory on the side. Everything runs locally except embedding calls.`,
		SilenceUsage: true,
	}

	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Run one index cycle over the vault",
		RunE:  runIndex, // Defined in cmd_index.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Keep the index in sync continuously (periodic + filesystem events)",
		RunE:  runWatch, // Defined in cmd_watch.go
	}

	searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Retrieve assembled context for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch, // Defined in cmd_search.go
	}

	recallCmd = &cobra.Command{
		Use:   "recall [query]",
		Short: "Show the memory context a conversation would receive",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRecall, // Defined in cmd_recall.go
	}

	forgetCmd = &cobra.Command{
		Use:   "forget [conversation-id]",
		Short: "Delete a conversation from memory (soft by default)",
		RunE:  runForget, // Defined in cmd_forget.go
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show index and memory statistics",
		RunE:  runStats, // Defined in cmd_stats.go
	}
)

func init() {
	searchCmd.Flags().BoolVar(&searchMemory, "memory", false, "search conversational memory instead of documents")
	searchCmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "merge memory from this conversation into the context")

	recallCmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation id (required)")
	_ = recallCmd.MarkFlagRequired("conversation")

	forgetCmd.Flags().BoolVar(&hardDelete, "hard", false, "remove rows instead of hiding them")
	forgetCmd.Flags().BoolVar(&purgeDeleted, "purge", false, "hard-delete every soft-deleted conversation")

	rootCmd.AddCommand(indexCmd, watchCmd, searchCmd, recallCmd, forgetCmd, statsCmd)
}
