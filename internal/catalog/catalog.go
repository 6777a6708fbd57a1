// Package catalog understands the benchmark's directory conventions: the
// layout of sample applications under the benchmark root, and the mapping
// from a conversion output path back to its identifying components.
package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Entry is one benchmark application variant. Every leaf directory holding
// a Makefile at benchmark/<layer>/<app>/<framework> is an entry.
type Entry struct {
	Layer       string
	Application string
	Framework   string
	Path        string
}

// List walks the benchmark root and returns all application entries,
// optionally restricted to one layer.
func List(benchRoot, layer string) ([]Entry, error) {
	base := benchRoot
	if layer != "" {
		base = filepath.Join(benchRoot, layer)
	}
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	var entries []Entry
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "Makefile" {
			return nil
		}
		leaf := filepath.Dir(path)
		rel, err := filepath.Rel(benchRoot, leaf)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			return nil
		}
		entries = append(entries, Entry{
			Layer:       parts[0],
			Application: parts[1],
			Framework:   parts[2],
			Path:        leaf,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: walk %s: %w", base, err)
	}
	return entries, nil
}

// modelAliases maps a cli tool name to the model it fronts. Unknown tools
// report themselves as the model.
var modelAliases = map[string]string{
	"codex":  "gpt-5",
	"claude": "claude-sonnet-4.5",
	"gemini": "gemini-2.5-pro",
	"qwen":   "qwen3-coder-480b",
}

// Model returns the model name for a cli tool.
func Model(cliTool string) string {
	if m, ok := modelAliases[cliTool]; ok {
		return m
	}
	return cliTool
}

// frameworks the benchmark converts between; used to recognize the source
// framework prefix inside an "<app>-<from>-to-<to>" directory name.
var frameworks = []string{"jakarta", "quarkus", "spring"}

// Components identifies one conversion output directory.
type Components struct {
	CliTool    string
	Model      string
	Layer      string
	Conversion string
	App        string
}

var (
	runSuffixRe = regexp.MustCompile(`/run_\d+(/.*)?$`)
	agentOutRe  = regexp.MustCompile(`/\.agent_out(/.*)?$`)
	runNumRe    = regexp.MustCompile(`/run_(\d+)(/|$)`)
	runDirRe    = regexp.MustCompile(`^run_\d+$`)
)

// IsRunDir reports whether name is a run-level directory name (run_<N>).
func IsRunDir(name string) bool { return runDirRe.MatchString(name) }

// RunNumber extracts the run index from a path containing a run_<N>
// component. Returns 1 when none is present.
func RunNumber(path string) int {
	m := runNumRe.FindStringSubmatch(filepath.ToSlash(path))
	if m == nil {
		return 1
	}
	n := 0
	fmt.Sscanf(m[1], "%d", &n)
	return n
}

// ParseRunPath maps a conversion output path (optionally ending in run_<N>
// or .agent_out components) to its components. The path is expected to end
// in <cli-tool>/<layer>/<app>-<conversion>. Returns false when the path
// does not follow the convention.
func ParseRunPath(path string) (Components, bool) {
	p := filepath.ToSlash(filepath.Clean(path))
	p = runSuffixRe.ReplaceAllString(p, "")
	p = agentOutRe.ReplaceAllString(p, "")

	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 {
		return Components{}, false
	}
	cliTool := parts[len(parts)-3]
	layer := parts[len(parts)-2]
	appConv := parts[len(parts)-1]

	app, conversion := splitAppConversion(appConv)
	if app == "" {
		return Components{}, false
	}
	return Components{
		CliTool:    cliTool,
		Model:      Model(cliTool),
		Layer:      layer,
		Conversion: conversion,
		App:        app,
	}, true
}

// splitAppConversion separates "<app>-<from>-to-<to>" into the app base
// name and the "<from>-to-<to>" conversion. App names may themselves
// contain hyphens, so the split point is the last recognized framework
// token before "-to-".
func splitAppConversion(appConv string) (app, conversion string) {
	idx := strings.Index(appConv, "-to-")
	if idx < 0 {
		i := strings.LastIndex(appConv, "-")
		if i < 0 {
			return appConv, ""
		}
		return appConv[:i], appConv[i+1:]
	}

	before := appConv[:idx]
	after := appConv[idx+len("-to-"):]
	i := strings.LastIndex(before, "-")
	if i >= 0 {
		last := strings.ToLower(before[i+1:])
		for _, fw := range frameworks {
			if last == fw {
				return before[:i], last + "-to-" + after
			}
		}
	}
	return before, "to-" + after
}
