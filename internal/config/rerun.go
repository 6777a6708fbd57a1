package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Failure identifies a conversion that needs another attempt.
type Failure struct {
	CliTool    string
	Layer      string
	App        string
	Conversion string // "<from>-to-<to>"
}

// frameworkTitles maps the lowercase framework token to its display name
// used in prompt substitution.
var frameworkTitles = map[string]string{
	"jakarta": "Jakarta",
	"quarkus": "Quarkus",
	"spring":  "Spring",
}

// commandTemplates holds the known agent invocation templates per cli tool.
var commandTemplates = map[string]string{
	"claude": "cd {working_dir}; claude --model aws/claude-sonnet-4-5 --output-format stream-json --print --verbose --tools default --add-dir {working_dir} --permission-mode bypassPermissions  {prompt}",
	"codex":  "codex exec {prompt} --skip-git-repo-check --sandbox workspace-write -C {working_dir}",
	"gemini": "cd {working_dir}; gemini {prompt} --model gemini-2.5-pro --yolo --debug",
	"qwen":   "cd {working_dir}; qwen -p  {prompt}  --approval-mode auto-edit",
}

// promptFiles holds the prompt file used per cli tool, relative to the
// generated spec's location.
var promptFiles = map[string]string{
	"claude": "../../prompts/claude-sonnet-4.5.txt",
	"codex":  "../../prompts/gpt-5.txt",
	"gemini": "../../prompts/gemini-2.5-pro.txt",
	"qwen":   "../../prompts/qwen-3.txt",
}

// defaultExcludes are the evaluation-owned files stripped from every seed
// copy so the agent cannot see them.
var defaultExcludes = []string{"smoke.py", "justfile", "Dockerfile", ".idea/"}

// WriteRerunSpecs generates one spec YAML per (cli tool, conversion) group
// covering only the failed conversions, mirroring the layout of the
// hand-written spec files. Returns the number of files written.
func WriteRerunSpecs(failures []Failure, outDir, conversionsDir string) (int, error) {
	groups := make(map[string][]Failure)
	for _, f := range failures {
		k := f.CliTool + "\x00" + f.Conversion
		groups[k] = append(groups[k], f)
	}
	if len(groups) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("config: create %s: %w", outDir, err)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := 0
	for _, k := range keys {
		cliTool, conversion, _ := strings.Cut(k, "\x00")
		from, to, ok := strings.Cut(conversion, "-to-")
		if !ok {
			continue
		}
		cfg := Config{
			Command: commandTemplate(cliTool),
			Runs:    3,
			Timeout: 300,
			Before:  frameworkTitle(from),
			After:   frameworkTitle(to),
		}
		fs := groups[k]
		sort.Slice(fs, func(i, j int) bool {
			if fs[i].Layer != fs[j].Layer {
				return fs[i].Layer < fs[j].Layer
			}
			return fs[i].App < fs[j].App
		})
		prompt := promptFile(cliTool)
		for _, f := range fs {
			output := filepath.Join(conversionsDir, f.CliTool, f.Layer, f.App+"-"+f.Conversion)
			cfg.Seeds = append(cfg.Seeds, Seed{
				Source:       seedSource(f.Layer, f.App, from),
				Output:       output,
				ExcludeFiles: append([]string(nil), defaultExcludes...),
			})
			cfg.Conversions = append(cfg.Conversions, output+" | "+prompt)
		}

		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return written, fmt.Errorf("config: marshal rerun spec: %w", err)
		}
		name := fmt.Sprintf("%s-%s-rerun.yaml", cliTool, conversion)
		if err := os.WriteFile(filepath.Join(outDir, name), data, 0o644); err != nil {
			return written, fmt.Errorf("config: write rerun spec %s: %w", name, err)
		}
		written++
	}
	return written, nil
}

func commandTemplate(cliTool string) string {
	if c, ok := commandTemplates[cliTool]; ok {
		return c
	}
	return fmt.Sprintf("cd {working_dir}; %s {prompt}", cliTool)
}

func promptFile(cliTool string) string {
	if p, ok := promptFiles[cliTool]; ok {
		return p
	}
	return promptFiles["claude"]
}

// seedSource locates the benchmark source application for a layer. Most
// layers nest framework under layer/app; a couple invert that order.
func seedSource(layer, app, from string) string {
	switch layer {
	case "business_domain":
		return filepath.Join("../../bench", layer, app, from)
	case "dependency_injection":
		if app == "producermethods" || app == "simplegreeting" {
			return filepath.Join("../../bench", layer, from, app)
		}
		return filepath.Join("../../bench", layer, app, from)
	default:
		return filepath.Join("../../bench", layer, from, app)
	}
}

func frameworkTitle(fw string) string {
	if t, ok := frameworkTitles[strings.ToLower(fw)]; ok {
		return t
	}
	return fw
}
