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
	"strings"
	"testing"
)

func TestDedupeParametrizeKeepsFirst(t *testing.T) {
	src := `import pytest


@pytest.mark.parametrize("value", [1, 2])
@pytest.mark.parametrize("other", ["a"])
@pytest.mark.parametrize("value", [3, 4])
def test_thing(value, other):
    assert value
`
	ctx := context.Background()

	if !hasDuplicateParametrize(ctx, src) {
		t.Fatal("duplicate not detected")
	}

	cleaned, changed := dedupeParametrize(ctx, src)
	if !changed {
		t.Fatal("nothing removed")
	}
	if !strings.Contains(cleaned, "[1, 2]") {
		t.Error("first occurrence removed")
	}
	if strings.Contains(cleaned, "[3, 4]") {
		t.Error("duplicate survived")
	}
	if !strings.Contains(cleaned, `"other"`) {
		t.Error("distinct key removed")
	}
	if hasDuplicateParametrize(ctx, cleaned) {
		t.Error("cleaned source still reports duplicates")
	}
}

func TestDedupeParametrizeLeavesCleanSourceAlone(t *testing.T) {
	src := `import pytest


@pytest.mark.parametrize("value", [1, 2])
def test_thing(value):
    assert value


@pytest.mark.parametrize("value", [3])
def test_second(value):
    assert value
`
	ctx := context.Background()

	// The same key on different functions is fine.
	if hasDuplicateParametrize(ctx, src) {
		t.Error("cross-function keys flagged as duplicates")
	}
	cleaned, changed := dedupeParametrize(ctx, src)
	if changed || cleaned != src {
		t.Error("clean source was modified")
	}
}

func TestDedupeIgnoresOtherDecorators(t *testing.T) {
	src := `import pytest


@pytest.mark.parametrize("value", [1])
@pytest.mark.skipif(True, reason="n/a")
@custom.mark.parametrize("value", [2])
def test_thing(value):
    assert value
`
	ctx := context.Background()

	// <x>.mark.parametrize matches regardless of the root name, so the
	// custom decorator with the same key is a duplicate; skipif is not.
	cleaned, changed := dedupeParametrize(ctx, src)
	if !changed {
		t.Fatal("custom parametrize duplicate not removed")
	}
	if !strings.Contains(cleaned, "skipif") {
		t.Error("unrelated decorator removed")
	}
}
