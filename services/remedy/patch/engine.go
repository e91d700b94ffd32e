// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch replaces one unit definition inside a Python file with
// proposed replacement text, validating before and after the splice.
// With a Runner configured, an apply is transactional: write the
// candidate, run the scoped test, restore the original, and commit
// only on a pass. A rejected patch never leaves the file modified.
package patch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/remedy/services/remedy/ast"
	"github.com/AleutianAI/remedy/services/remedy/index"
)

const instrumentationName = "github.com/AleutianAI/remedy/services/remedy/patch"

// Rejection reasons carried on PatchResult. A rejection is an expected
// outcome, not an error; the file is guaranteed untouched (syntax) or
// restored (validation).
const (
	ReasonSyntaxRejected     = "syntax_rejected"
	ReasonValidationRejected = "validation_rejected"
)

// PatchRequest names one unit in one file and the text to replace it
// with. Replacement may arrive fenced and arbitrarily indented; the
// engine normalizes it.
type PatchRequest struct {
	FilePath    string `json:"file_path"`
	UnitName    string `json:"unit_name"`
	Replacement string `json:"replacement"`
}

// PatchResult reports the outcome of one apply.
type PatchResult struct {
	Applied bool `json:"applied"`

	// Reason is set on rejection, one of the Reason* constants.
	Reason string `json:"reason,omitempty"`

	// ValidationOutput is the scoped runner's raw output when a
	// validation run happened. Returned verbatim so a caller can feed
	// it back to the proposer.
	ValidationOutput string `json:"validation_output,omitempty"`
}

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// WithRunner enables transactional validation through the given
// runner. Without it, applies commit after syntax validation alone.
func WithRunner(r Runner) EngineOption {
	return func(e *Engine) { e.runner = r }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine performs span-precise unit replacement.
//
// # Description
//
// The replaced span runs from the unit's def/class keyword line
// through its last line; a decorator block above the unit survives the
// splice. Replacement text is cleaned (markdown fences, common leading
// indentation) and re-indented to the original declaration's level, so
// alignment holds regardless of upstream formatting.
//
// # Thread Safety
//
// Safe for concurrent use. Applies to the same file serialize on a
// per-file lock, since the validation protocol mutates and restores
// the same path. Applies to different files proceed independently.
type Engine struct {
	index  *index.SourceIndex
	runner Runner
	logger *slog.Logger

	mu        sync.Mutex
	fileLocks map[string]*sync.Mutex
}

// NewEngine creates an Engine over the given source index.
func NewEngine(idx *index.SourceIndex, opts ...EngineOption) *Engine {
	e := &Engine{
		index:     idx,
		logger:    slog.Default(),
		fileLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply replaces one unit and reports the outcome.
//
// # Outputs
//
//   - *PatchResult: Non-nil on every non-error return; Applied false
//     means a rejection with Reason set.
//   - error: File I/O failure, unparseable original (*ast.ParseError),
//     missing unit (ErrTargetNotFound), or a failed restore
//     (ErrRestoreFailed). Rejections are not errors.
func (e *Engine) Apply(ctx context.Context, req PatchRequest) (*PatchResult, error) {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "patch.Apply")
	span.SetAttributes(
		attribute.String("file.path", req.FilePath),
		attribute.String("patch.unit", req.UnitName),
	)
	defer span.End()

	lock := e.fileLock(req.FilePath)
	lock.Lock()
	defer lock.Unlock()

	original, mode, err := readWithMode(req.FilePath)
	if err != nil {
		return nil, err
	}

	table, err := e.index.Parse(ctx, original, req.FilePath)
	if err != nil {
		return nil, err
	}

	el, ok := table.Get(req.UnitName)
	if !ok {
		return nil, &TargetNotFoundError{
			FilePath:  req.FilePath,
			UnitName:  req.UnitName,
			Available: table.Names(),
		}
	}

	lines := strings.Split(string(original), "\n")
	declIdx := el.DeclLine - 1
	if declIdx < 0 || declIdx >= len(lines) || el.EndLine > len(lines) {
		return nil, fmt.Errorf("unit %q has span %d-%d outside file of %d lines",
			req.UnitName, el.DeclLine, el.EndLine, len(lines))
	}
	indent := len(lines[declIdx]) - len(strings.TrimLeft(lines[declIdx], " \t"))

	prepared, ok := prepareReplacement(ctx, req.Replacement, indent)
	if !ok {
		e.logger.Info("patch rejected: replacement does not parse",
			slog.String("file", req.FilePath),
			slog.String("unit", req.UnitName),
		)
		return &PatchResult{Reason: ReasonSyntaxRejected}, nil
	}

	patched := splice(lines, declIdx, el.EndLine, prepared)

	if err := ast.CheckSyntax(ctx, []byte(patched)); err != nil {
		e.logger.Info("patch rejected: patched file does not parse",
			slog.String("file", req.FilePath),
			slog.String("unit", req.UnitName),
		)
		return &PatchResult{Reason: ReasonSyntaxRejected}, nil
	}

	// The decorator block survives the splice, so a replacement that
	// repeats a parametrize decorator produces a duplicate. Keep the
	// first occurrence and revalidate before giving up.
	if hasDuplicateParametrize(ctx, patched) {
		cleaned, changed := dedupeParametrize(ctx, patched)
		if !changed ||
			ast.CheckSyntax(ctx, []byte(cleaned)) != nil ||
			hasDuplicateParametrize(ctx, cleaned) {
			return &PatchResult{Reason: ReasonSyntaxRejected}, nil
		}
		patched = cleaned
	}

	if patched == string(original) {
		// Re-applying an already committed patch is a no-op.
		return &PatchResult{Applied: true}, nil
	}

	var output string
	if e.runner != nil {
		passed, runOutput, err := e.validateScoped(ctx, req, original, patched, mode)
		if err != nil {
			return nil, err
		}
		if !passed {
			e.logger.Info("patch rejected: scoped test failed",
				slog.String("file", req.FilePath),
				slog.String("unit", req.UnitName),
			)
			return &PatchResult{Reason: ReasonValidationRejected, ValidationOutput: runOutput}, nil
		}
		output = runOutput
	}

	if err := os.WriteFile(req.FilePath, []byte(patched), mode); err != nil {
		return nil, fmt.Errorf("write patched %s: %w", req.FilePath, err)
	}
	e.index.Evict(req.FilePath)

	span.SetAttributes(attribute.Bool("patch.applied", true))
	e.logger.Info("patch applied",
		slog.String("file", req.FilePath),
		slog.String("unit", req.UnitName),
		slog.Bool("validated", e.runner != nil),
	)
	return &PatchResult{Applied: true, ValidationOutput: output}, nil
}

// ApplyWithFeedback is Apply with the rejection output surfaced
// directly, for callers feeding runner output back to the proposer.
func (e *Engine) ApplyWithFeedback(ctx context.Context, filePath, unitName, replacement string) (bool, string, error) {
	result, err := e.Apply(ctx, PatchRequest{
		FilePath:    filePath,
		UnitName:    unitName,
		Replacement: replacement,
	})
	if err != nil {
		return false, "", err
	}
	return result.Applied, result.ValidationOutput, nil
}

// ApplyFile replaces an entire file after validating the new content
// parses. No scoped validation run; this is the bulk escape hatch for
// proposers that rewrote the whole file.
func (e *Engine) ApplyFile(ctx context.Context, filePath, content string) error {
	lock := e.fileLock(filePath)
	lock.Lock()
	defer lock.Unlock()

	if err := ast.CheckSyntax(ctx, []byte(content)); err != nil {
		return fmt.Errorf("full-file patch for %s: %w", filePath, err)
	}

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(filePath); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(filePath, []byte(content), mode); err != nil {
		return fmt.Errorf("write %s: %w", filePath, err)
	}
	e.index.Evict(filePath)
	return nil
}

// Validate re-checks an on-disk file as a standalone gate: syntactic
// validity plus the duplicate-parametrize pathology.
func (e *Engine) Validate(ctx context.Context, filePath string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", filePath, err)
	}
	if err := ast.CheckSyntax(ctx, content); err != nil {
		return err
	}
	if hasDuplicateParametrize(ctx, string(content)) {
		return fmt.Errorf("%s: duplicate @pytest.mark.parametrize decorators", filePath)
	}
	return nil
}

// validateScoped runs the transactional apply-test-rollback protocol.
// The original content is restored unconditionally; a failed restore
// is the one fatal error, wrapped in ErrRestoreFailed.
func (e *Engine) validateScoped(ctx context.Context, req PatchRequest, original []byte, patched string, mode fs.FileMode) (bool, string, error) {
	if err := os.WriteFile(req.FilePath, []byte(patched), mode); err != nil {
		return false, "", fmt.Errorf("write candidate %s: %w", req.FilePath, err)
	}

	unit := ast.NormalizeUnitName(req.UnitName)
	passed, output, runErr := e.runner.Run(ctx, req.FilePath, unit)

	if restoreErr := os.WriteFile(req.FilePath, original, mode); restoreErr != nil {
		return false, output, fmt.Errorf("%w: %s: %v", ErrRestoreFailed, req.FilePath, restoreErr)
	}

	if runErr != nil {
		// Runner crash counts as failed validation, not an engine
		// error; the file is already restored.
		return false, strings.TrimSpace(output + "\n" + runErr.Error()), nil
	}
	return passed, output, nil
}

// fileLock returns the mutex serializing applies for one path.
func (e *Engine) fileLock(filePath string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.fileLocks[filePath]
	if !ok {
		lock = &sync.Mutex{}
		e.fileLocks[filePath] = lock
	}
	return lock
}

// =============================================================================
// Replacement Preparation
// =============================================================================

// prepareReplacement normalizes proposed text into indented lines:
// fences stripped, duplicate decorators dropped, common leading
// indentation removed, then re-indented to the target level. Reports
// false when the cleaned snippet does not parse standalone.
func prepareReplacement(ctx context.Context, replacement string, indent int) ([]string, bool) {
	code := stripFences(replacement)

	lines := strings.Split(code, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil, false
	}

	minIndent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		leading := len(line) - len(strings.TrimLeft(line, " "))
		if minIndent < 0 || leading < minIndent {
			minIndent = leading
		}
	}
	if minIndent < 0 {
		minIndent = 0
	}

	dedented := make([]string, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			dedented[i] = ""
			continue
		}
		if len(line) > minIndent {
			dedented[i] = line[minIndent:]
		} else {
			dedented[i] = strings.TrimLeft(line, " ")
		}
	}

	snippet := strings.Join(dedented, "\n")
	snippet, _ = dedupeParametrize(ctx, snippet)
	if err := ast.CheckSyntax(ctx, []byte(snippet)); err != nil {
		return nil, false
	}

	prefix := strings.Repeat(" ", indent)
	out := strings.Split(snippet, "\n")
	for i, line := range out {
		if line == "" {
			continue
		}
		out[i] = prefix + line
	}
	return out, true
}

// stripFences unwraps markdown code fences around a snippet.
func stripFences(code string) string {
	if strings.Contains(code, "```python") {
		code = strings.SplitN(code, "```python", 2)[1]
		code = strings.SplitN(code, "```", 2)[0]
	} else if strings.Contains(code, "```") {
		parts := strings.Split(code, "```")
		if len(parts) >= 3 {
			code = parts[1]
		}
	}
	return strings.TrimSpace(code)
}

// splice replaces lines[declIdx:endLine] with replacement.
func splice(lines []string, declIdx, endLine int, replacement []string) string {
	out := make([]string, 0, declIdx+len(replacement)+len(lines)-endLine)
	out = append(out, lines[:declIdx]...)
	out = append(out, replacement...)
	out = append(out, lines[endLine:]...)
	return strings.Join(out, "\n")
}

// readWithMode reads a file and its permission bits.
func readWithMode(filePath string) ([]byte, fs.FileMode, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, 0, fmt.Errorf("stat %s: %w", filePath, err)
	}
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", filePath, err)
	}
	return content, info.Mode().Perm(), nil
}
