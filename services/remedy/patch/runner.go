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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultRunTimeout bounds one scoped test invocation. A hung test
// counts as failed validation, never as an indefinite block.
const DefaultRunTimeout = 30 * time.Second

// Runner executes the external test command scoped to one file::unit.
//
// Implementations report pass/fail plus the combined output; a
// returned error means the runner itself could not execute, which the
// engine also treats as failed validation.
type Runner interface {
	Run(ctx context.Context, filePath, unitName string) (passed bool, output string, err error)
}

// PytestRunner invokes pytest as a subprocess scoped to exactly one
// unit.
//
// # Thread Safety
//
// Safe for concurrent use; each Run spawns an independent process.
type PytestRunner struct {
	// PytestPath is the executable. Empty means "pytest" from PATH.
	PytestPath string

	// Timeout bounds one invocation. Non-positive means
	// DefaultRunTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// Run executes `pytest <file>::<unit> -v --tb=short -x` and reports
// whether it passed. Timeout returns passed=false with a descriptive
// output, not an error.
func (r *PytestRunner) Run(ctx context.Context, filePath, unitName string) (bool, string, error) {
	pytest := r.PytestPath
	if pytest == "" {
		pytest = "pytest"
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	nodeID := filePath + "::" + unitName
	cmd := exec.CommandContext(runCtx, pytest, nodeID, "-v", "--tb=short", "-x")

	started := time.Now()
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(started)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("scoped test run timed out",
			slog.String("node_id", nodeID),
			slog.Duration("timeout", timeout),
		)
		return false, fmt.Sprintf("test execution timed out after %s", timeout), nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is a plain test failure.
			logger.Debug("scoped test run failed",
				slog.String("node_id", nodeID),
				slog.Int("exit_code", exitErr.ExitCode()),
				slog.Duration("elapsed", elapsed),
			)
			return false, string(out), nil
		}
		return false, string(out), fmt.Errorf("run %s: %w", nodeID, err)
	}

	logger.Debug("scoped test run passed",
		slog.String("node_id", nodeID),
		slog.Duration("elapsed", elapsed),
	)
	return true, string(out), nil
}
