// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"errors"
	"fmt"
)

var (
	// ErrFileTooLarge indicates the content exceeds the parser size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrInvalidContent indicates the content is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid file content")

	// ErrSyntax indicates tree-sitter flagged syntax errors in the source.
	ErrSyntax = errors.New("source contains syntax errors")
)

// ParseError wraps a parse failure with the file it occurred in.
// Callers use errors.Is(err, ast.ErrSyntax) to distinguish broken source
// from I/O or cancellation failures.
type ParseError struct {
	FilePath string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.FilePath, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
