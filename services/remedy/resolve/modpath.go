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
	"os"
	"path/filepath"
	"strings"
)

// stdlibModules are common standard-library top-level modules that never
// resolve to project files.
var stdlibModules = map[string]bool{
	"os": true, "sys": true, "json": true, "ast": true, "re": true,
	"typing": true, "pathlib": true, "collections": true, "itertools": true,
	"functools": true, "datetime": true, "unittest": true, "pytest": true,
	"asyncio": true,
}

// thirdPartyPrefixes are framework prefixes that never resolve to project
// files.
var thirdPartyPrefixes = []string{
	"django", "flask", "fastapi", "pydantic", "sqlalchemy",
	"requests", "httpx", "pytest", "unittest", "mock",
}

// IsStdlibOrThirdParty reports whether the module path belongs to the
// standard library or a known third-party framework.
func IsStdlibOrThirdParty(modulePath string) bool {
	top := modulePath
	if idx := strings.Index(top, "."); idx >= 0 {
		top = top[:idx]
	}
	if stdlibModules[top] {
		return true
	}
	for _, prefix := range thirdPartyPrefixes {
		if strings.HasPrefix(modulePath, prefix) {
			return true
		}
	}
	return false
}

// entryPointFiles are conventional application entry points tried as a
// last resort for any unresolved project module, bare and under the
// common app/ and src/ layouts.
var entryPointFiles = []string{"main.py", "app.py", "server.py", "api.py", "__init__.py"}

// ModuleToFile resolves a dotted module path to an existing file under
// projectRoot by trying an ordered list of layout conventions; the first
// existing file wins. Returns "" when nothing matches.
func ModuleToFile(projectRoot, modulePath string) string {
	modulePath = strings.TrimLeft(modulePath, ".")
	if modulePath == "" {
		return ""
	}
	parts := strings.Split(modulePath, ".")
	slashed := strings.ReplaceAll(modulePath, ".", "/")

	variations := []string{
		slashed + ".py",
		slashed + "/__init__.py",
	}
	if len(parts) > 1 {
		variations = append(variations, strings.Join(parts[1:], "/")+".py")
	}
	if len(parts) >= 2 {
		variations = append(variations,
			parts[len(parts)-1]+".py",
			parts[0]+".py",
			"src/"+slashed+".py",
		)
	}
	for _, f := range entryPointFiles {
		variations = append(variations, f, "app/"+f, "src/"+f)
	}

	seen := make(map[string]bool, len(variations))
	for _, v := range variations {
		if seen[v] {
			continue
		}
		seen[v] = true
		full := filepath.Join(projectRoot, v)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return full
		}
	}
	return ""
}

// endpointSearchPaths are conventional files searched for route handlers
// when import resolution finds nothing but the test hits HTTP endpoints.
var endpointSearchPaths = []string{
	"app/main.py",
	"app/__init__.py",
	"main.py",
	"src/main.py",
	"src/app/main.py",
	"api/main.py",
	"server.py",
	"app.py",
}

// endpointSearchGlobs are route-file patterns searched after the direct
// paths.
var endpointSearchGlobs = []string{
	"app/routes*.py",
	"app/api*.py",
	"routes/*.py",
	"api/*.py",
}

// endpointCandidateFiles lists existing conventional entry-point and
// route files under projectRoot, direct paths first, then glob matches,
// deduplicated in order.
func endpointCandidateFiles(projectRoot string) []string {
	var candidates []string
	seen := make(map[string]bool)

	add := func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true
		candidates = append(candidates, path)
	}

	for _, p := range endpointSearchPaths {
		full := filepath.Join(projectRoot, p)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			add(full)
		}
	}
	for _, pattern := range endpointSearchGlobs {
		matches, err := filepath.Glob(filepath.Join(projectRoot, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			add(m)
		}
	}
	return candidates
}
