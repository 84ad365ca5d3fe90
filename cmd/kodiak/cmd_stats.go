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

	"github.com/spf13/cobra"
)

// runStats prints index and memory statistics.
func runStats(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd.Context(), "kodiak-stats")
	if err != nil {
		return err
	}
	defer app.close()

	docs, err := app.indexer.CollectStats(cmd.Context())
	if err != nil {
		return err
	}
	mem, err := app.memory.CollectStats(cmd.Context())
	if err != nil {
		return err
	}
	usage := app.gateway.Usage()

	fmt.Println("Documents:")
	fmt.Printf("  files: %d  fragments: %d  total size: %d bytes\n",
		len(docs.Documents), docs.Fragments, docs.TotalSize)
	fmt.Printf("  index entries: %d  version: %d\n", docs.IndexEntries, docs.IndexVersion)
	for _, d := range docs.Documents {
		fmt.Printf("    %-40s %6d bytes  %3d fragment(s)\n", d.Path, d.Size, d.Fragments)
	}

	fmt.Println("Memory:")
	fmt.Printf("  conversations: %d (%d soft-deleted)  exchanges: %d\n",
		mem.Conversations, mem.DeletedConversations, mem.Exchanges)
	fmt.Printf("  fragments: %d  index entries: %d\n", mem.Fragments, mem.IndexEntries)

	fmt.Println("Cache:")
	fmt.Printf("  hits: %d  misses: %d  evictions: %d  len: %d/%d\n",
		docs.Cache.Hits, docs.Cache.Misses, docs.Cache.Evictions, docs.Cache.Len, docs.Cache.Capacity)

	fmt.Println("Embedding:")
	fmt.Printf("  requests: %d  tokens: %d  truncations: %d\n",
		usage.Requests, usage.Tokens, usage.Truncations)
	return nil
}
