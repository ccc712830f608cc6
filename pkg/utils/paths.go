// Package utils provides utility functions
package utils

import (
	"path"
	"path/filepath"
	"strings"
)

// NormalizePath converts a path to forward-slash form and strips any
// leading "./" segments. Paths in a project structure are always stored
// in this form.
func NormalizePath(p string) string {
	p = filepath.ToSlash(p)
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	return p
}

// IsSafePath reports whether a normalized path stays inside the project
// root. Absolute paths and paths that climb out via ".." are rejected.
func IsSafePath(p string) bool {
	if p == "" {
		return false
	}
	p = filepath.ToSlash(p)
	if strings.HasPrefix(p, "/") {
		return false
	}
	// Windows-style drive or UNC prefixes
	if strings.Contains(p, ":") || strings.HasPrefix(p, `\\`) {
		return false
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// ExtensionSet answers membership questions about file extensions
type ExtensionSet struct {
	exts map[string]bool
}

// NewExtensionSet creates an extension set. Extensions are stored
// lowercase with a leading dot.
func NewExtensionSet(exts []string) *ExtensionSet {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return &ExtensionSet{exts: set}
}

// Contains checks whether the path's extension is in the set
func (s *ExtensionSet) Contains(p string) bool {
	return s.exts[strings.ToLower(path.Ext(p))]
}

// SourceForTestFile maps a test artifact path back to the source file it
// tests by stripping the "test_" prefix or "_test" suffix naming
// convention. The directory portion of the artifact path is dropped
// because test trees rarely mirror source trees.
func SourceForTestFile(testPath string) string {
	base := path.Base(filepath.ToSlash(testPath))
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)

	if strings.HasPrefix(name, "test_") {
		name = strings.TrimPrefix(name, "test_")
	} else if strings.HasSuffix(name, "_test") {
		name = strings.TrimSuffix(name, "_test")
	}

	return name + ext
}
