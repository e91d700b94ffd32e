// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"path/filepath"
	"regexp"
)

// tracebackFramePattern matches one Python traceback frame:
//
//	File "app/main.py", line 520, in predict_batch
var tracebackFramePattern = regexp.MustCompile(`File\s+"([^"]+)",\s+line\s+(\d+),\s+in\s+(\w+)`)

// TracebackFunctions extracts the function names of traceback frames
// located in sourceFile. Frames match on absolute path or bare filename,
// covering failures several calls below the test itself.
func TracebackFunctions(errorText, sourceFile string) []string {
	if errorText == "" || sourceFile == "" {
		return nil
	}

	sourceAbs, err := filepath.Abs(sourceFile)
	if err != nil {
		sourceAbs = sourceFile
	}
	sourceBase := filepath.Base(sourceFile)

	seen := make(map[string]bool)
	var functions []string

	for _, match := range tracebackFramePattern.FindAllStringSubmatch(errorText, -1) {
		framePath, frameFunc := match[1], match[3]

		frameAbs, err := filepath.Abs(framePath)
		if err != nil {
			frameAbs = framePath
		}
		if frameAbs != sourceAbs && filepath.Base(framePath) != sourceBase {
			continue
		}
		if !seen[frameFunc] {
			seen[frameFunc] = true
			functions = append(functions, frameFunc)
		}
	}
	return functions
}
