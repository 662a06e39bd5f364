// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// Tree maps slash-separated paths relative to a root to a description of what
// is there: "dir", "file <perm> <content>" or "link -> <target>".
type Tree map[string]string

// Snapshot records every entry below root, byte for byte.
func Snapshot(t testing.TB, root string) Tree {
	t.Helper()
	tree := make(Tree)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			tree[rel] = "link -> " + filepath.ToSlash(target)
		case info.IsDir():
			tree[rel] = "dir"
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			tree[rel] = fmt.Sprintf("file %v %s", info.Mode().Perm(), data)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("snapshotting %s: %v", root, err)
	}
	return tree
}

// AssertTree fails the test with a per-path diff when got differs from want.
func AssertTree(t testing.TB, want, got Tree) {
	t.Helper()
	keys := slices.Sorted(maps.Keys(want))
	for k := range maps.Keys(got) {
		if _, ok := want[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var diffs []string
	for _, k := range keys {
		w, inWant := want[k]
		g, inGot := got[k]
		switch {
		case !inGot:
			diffs = append(diffs, fmt.Sprintf("- %s: %q", k, w))
		case !inWant:
			diffs = append(diffs, fmt.Sprintf("+ %s: %q", k, g))
		case w != g:
			diffs = append(diffs, fmt.Sprintf("~ %s: want %q, got %q", k, w, g))
		}
	}
	if len(diffs) > 0 {
		t.Errorf("tree mismatch (-want +got):\n%s", strings.Join(diffs, "\n"))
	}
}

// Names returns the sorted names of the entries directly inside dir.
func Names(t testing.TB, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names
}
