// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTargetNotFound marks a patch against a unit that does not exist
// in the file. Match with errors.Is; the concrete *TargetNotFoundError
// carries the available names.
var ErrTargetNotFound = errors.New("target unit not found")

// ErrRestoreFailed marks an I/O failure while restoring original
// content after a rejected patch. The one genuinely fatal condition
// here: on-disk state no longer matches either version.
var ErrRestoreFailed = errors.New("restore of original content failed")

// TargetNotFoundError reports a missing unit with the names that do
// exist in the file, so a caller can surface a useful diagnostic.
type TargetNotFoundError struct {
	FilePath  string
	UnitName  string
	Available []string
}

func (e *TargetNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unit %q not found in %s (no definitions in file)", e.UnitName, e.FilePath)
	}
	names := e.Available
	suffix := ""
	if len(names) > 10 {
		suffix = fmt.Sprintf(" and %d more", len(names)-10)
		names = names[:10]
	}
	return fmt.Sprintf("unit %q not found in %s (available: %s%s)",
		e.UnitName, e.FilePath, strings.Join(names, ", "), suffix)
}

func (e *TargetNotFoundError) Unwrap() error { return ErrTargetNotFound }
