// Package workspace provisions run working directories: clean copies of a
// seed application tree, one per run index, with evaluation-owned files
// excluded.
package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// RunDir returns the working directory for run index n under outputDir.
func RunDir(outputDir string, n int) string {
	return filepath.Join(outputDir, fmt.Sprintf("run_%d", n))
}

// Provision recreates dst as a copy of the seed tree at src, minus entries
// matching the exclude patterns. Any existing dst is removed first so a
// rerun never appends onto stale agent output.
func Provision(src, dst string, excludes []string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("workspace: seed %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace: seed %s is not a directory", src)
	}
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("workspace: clean %s: %w", dst, err)
	}
	if err := copyTree(src, dst, excludes); err != nil {
		return fmt.Errorf("workspace: seed %s -> %s: %w", src, dst, err)
	}
	return nil
}

func copyTree(src, dst string, excludes []string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		if Excluded(rel, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// Symlinks and other specials are not part of the seed contract.
			return nil
		}
		return copyFile(path, target)
	})
}

// Excluded reports whether the relative path matches any exclude pattern.
// Patterns apply to the slash path, the base name, and every ancestor
// directory name, so "target/" or "*.class" both behave as expected.
// A trailing slash restricts the pattern to directories by name.
func Excluded(rel string, patterns []string) bool {
	slashPath := filepath.ToSlash(rel)
	parts := strings.Split(slashPath, "/")
	for _, raw := range patterns {
		p := strings.TrimSuffix(raw, "/")
		if p == "" {
			continue
		}
		if ok, _ := doublestar.Match(p, slashPath); ok {
			return true
		}
		for _, name := range parts {
			if ok, _ := doublestar.Match(p, name); ok {
				return true
			}
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
