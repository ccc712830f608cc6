package utils_test

import (
	"testing"

	"github.com/taskmesh/taskmesh/pkg/utils"
)

func TestIsSafePath(t *testing.T) {
	tests := []struct {
		path string
		safe bool
	}{
		{"src/main.py", true},
		{"idea.md", true},
		{"a/b/c.go", true},
		{"./src/main.py", true},
		{"src/../main.py", true},
		{"", false},
		{"/etc/passwd", false},
		{"../outside.py", false},
		{"src/../../outside.py", false},
		{"..", false},
		{`C:\windows\system32`, false},
		{`\\server\share`, false},
	}

	for _, tt := range tests {
		if got := utils.IsSafePath(tt.path); got != tt.safe {
			t.Errorf("IsSafePath(%q) = %v, want %v", tt.path, got, tt.safe)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"./src/main.py", "src/main.py"},
		{"src//main.py", "src/main.py"},
		{"src/./main.py", "src/main.py"},
		{"main.py", "main.py"},
	}

	for _, tt := range tests {
		if got := utils.NormalizePath(tt.input); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestExtensionSet(t *testing.T) {
	set := utils.NewExtensionSet([]string{".py", "go", ".JS"})

	tests := []struct {
		path string
		want bool
	}{
		{"main.py", true},
		{"src/app.PY", true},
		{"server.go", true},
		{"app.js", true},
		{"readme.md", false},
		{"Makefile", false},
	}

	for _, tt := range tests {
		if got := set.Contains(tt.path); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSourceForTestFile(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"test_main.py", "main.py"},
		{"tests/test_main.py", "main.py"},
		{"main_test.go", "main.go"},
		{"pkg/server/server_test.go", "server.go"},
		{"main.py", "main.py"},
		{"test_utils_test.py", "utils_test.py"},
	}

	for _, tt := range tests {
		if got := utils.SourceForTestFile(tt.input); got != tt.want {
			t.Errorf("SourceForTestFile(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
