package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitAppConversion(t *testing.T) {
	cases := []struct {
		in, app, conv string
	}{
		{"tribe-jakarta-to-quarkus", "tribe", "jakarta-to-quarkus"},
		{"cargo-tracker-spring-to-jakarta", "cargo-tracker", "spring-to-jakarta"},
		{"spring-petclinic-spring-to-quarkus", "spring-petclinic", "spring-to-quarkus"},
	}
	for _, tc := range cases {
		app, conv := splitAppConversion(tc.in)
		if app != tc.app || conv != tc.conv {
			t.Errorf("splitAppConversion(%q) = (%q, %q), want (%q, %q)", tc.in, app, conv, tc.app, tc.conv)
		}
	}
}

func TestParseRunPath(t *testing.T) {
	cases := []struct {
		path string
		want Components
		ok   bool
	}{
		{
			path: "agentic/claude/whole_applications/tribe-jakarta-to-quarkus",
			want: Components{CliTool: "claude", Model: "claude-sonnet-4.5", Layer: "whole_applications", Conversion: "jakarta-to-quarkus", App: "tribe"},
			ok:   true,
		},
		{
			path: "/work/agentic/codex/whole_applications/cargo-tracker-spring-to-jakarta/run_3",
			want: Components{CliTool: "codex", Model: "gpt-5", Layer: "whole_applications", Conversion: "spring-to-jakarta", App: "cargo-tracker"},
			ok:   true,
		},
		{
			path: "agentic/gemini/whole_applications/tribe-jakarta-to-quarkus/run_2/.agent_out/stdout.txt",
			want: Components{CliTool: "gemini", Model: "gemini-2.5-pro", Layer: "whole_applications", Conversion: "jakarta-to-quarkus", App: "tribe"},
			ok:   true,
		},
		{path: "run_1", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseRunPath(tc.path)
		if ok != tc.ok {
			t.Errorf("ParseRunPath(%q) ok = %v, want %v", tc.path, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("ParseRunPath(%q) = %+v, want %+v", tc.path, got, tc.want)
		}
	}
}

func TestRunNumber(t *testing.T) {
	cases := []struct {
		path string
		want int
	}{
		{"agentic/claude/whole_applications/tribe-jakarta-to-quarkus/run_2", 2},
		{"x/run_14/pom.xml", 14},
		{"agentic/claude/whole_applications/tribe-jakarta-to-quarkus", 1},
	}
	for _, tc := range cases {
		if got := RunNumber(tc.path); got != tc.want {
			t.Errorf("RunNumber(%q) = %d, want %d", tc.path, got, tc.want)
		}
	}
}

func TestIsRunDir(t *testing.T) {
	for name, want := range map[string]bool{
		"run_1":   true,
		"run_12":  true,
		"run_":    false,
		"rerun_1": false,
		"src":     false,
	} {
		if got := IsRunDir(name); got != want {
			t.Errorf("IsRunDir(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestModelAlias(t *testing.T) {
	if got := Model("codex"); got != "gpt-5" {
		t.Errorf("Model(codex) = %q", got)
	}
	if got := Model("mystery-tool"); got != "mystery-tool" {
		t.Errorf("unknown tool should alias to itself, got %q", got)
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	mkEntry := func(layer, app, fw string) {
		dir := filepath.Join(root, layer, app, fw)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "Makefile"), []byte("test:\n\ttrue\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mkEntry("whole_applications", "tribe", "jakarta")
	mkEntry("whole_applications", "tribe", "quarkus")
	mkEntry("data_access", "bookstore", "spring")
	// A Makefile at the wrong depth is not an entry.
	if err := os.WriteFile(filepath.Join(root, "whole_applications", "Makefile"), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := List(root, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(all), all)
	}

	wholeApp, err := List(root, "whole_applications")
	if err != nil {
		t.Fatalf("List(layer): %v", err)
	}
	if len(wholeApp) != 2 {
		t.Fatalf("expected 2 whole_applications entries, got %d", len(wholeApp))
	}
	for _, e := range wholeApp {
		if e.Layer != "whole_applications" || e.Application != "tribe" {
			t.Errorf("unexpected entry %+v", e)
		}
	}

	if _, err := List(filepath.Join(root, "missing"), ""); err == nil {
		t.Error("expected error for missing root")
	}
}
