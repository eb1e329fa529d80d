// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"slices"

	"github.com/holomush/extd/internal/extension/manifest"
)

// Compare orders a before b when b declares a dependency matching a, and
// after b when a declares one matching b. Unrelated and mutually dependent
// pairs compare equal.
func Compare(a, b *Extension) int {
	aOnB := dependsOn(a, b)
	bOnA := dependsOn(b, a)
	switch {
	case bOnA && !aOnB:
		return -1
	case aOnB && !bOnA:
		return 1
	default:
		return 0
	}
}

func dependsOn(a, b *Extension) bool {
	return slices.ContainsFunc(a.Manifest().ExtensionDependencies, func(d manifest.ExtensionDependency) bool {
		return d.Matches(b.Manifest())
	})
}

// Sort returns exts ordered so that every extension comes after the
// extensions it depends on. Compare only relates direct pairs, so the order
// is built as a topological sort over those relations; ties keep the input
// order. Members of a dependency cycle longer than two are released in input
// order.
func Sort(exts []*Extension) []*Extension {
	n := len(exts)
	successors := make([][]int, n)
	pending := make([]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch Compare(exts[i], exts[j]) {
			case -1:
				successors[i] = append(successors[i], j)
				pending[j]++
			case 1:
				successors[j] = append(successors[j], i)
				pending[i]++
			}
		}
	}

	out := make([]*Extension, 0, n)
	placed := make([]bool, n)
	for len(out) < n {
		next := -1
		for i := range exts {
			if !placed[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			next = slices.Index(placed, false)
		}
		placed[next] = true
		out = append(out, exts[next])
		for _, j := range successors[next] {
			pending[j]--
		}
	}
	return out
}
