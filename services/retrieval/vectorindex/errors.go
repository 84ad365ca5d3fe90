// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorindex

import "errors"

// ErrEmptyRebuild is returned when Rebuild is called with no entries.
// The previous snapshot stays published; an intentional wipe goes
// through Reset.
var ErrEmptyRebuild = errors.New("vectorindex: rebuild with empty entry set")

// ConsistencyError reports vectors that cannot coexist in one index.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string {
	return "vectorindex: " + e.Reason
}
