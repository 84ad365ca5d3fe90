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

	"github.com/spf13/cobra"
)

// runForget deletes conversations from memory.
func runForget(cmd *cobra.Command, args []string) error {
	if !purgeDeleted && len(args) != 1 {
		return errors.New("pass a conversation id, or --purge to compact all soft-deleted conversations")
	}

	app, err := newApp(cmd.Context(), "kodiak-forget")
	if err != nil {
		return err
	}
	defer app.close()

	if purgeDeleted {
		purged, err := app.memory.PurgeDeleted(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d soft-deleted conversation(s).\n", purged)
		return nil
	}

	convID := args[0]
	if err := app.memory.Delete(cmd.Context(), convID, hardDelete); err != nil {
		return err
	}
	if hardDelete {
		fmt.Printf("Conversation %s removed.\n", convID)
	} else {
		fmt.Printf("Conversation %s hidden from recall. Use --hard to remove its data.\n", convID)
	}
	return nil
}
