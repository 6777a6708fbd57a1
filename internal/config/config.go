// Package config provides YAML-based loading of conversion job
// specifications for refit.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/refit-bench/refit/internal/catalog"
	"gopkg.in/yaml.v3"
)

// Config is the top-level job specification, loaded from a spec YAML file.
type Config struct {
	Command     string        `yaml:"command"`
	Runs        int           `yaml:"runs"`
	Timeout     int           `yaml:"timeout"` // seconds of agent inactivity; 0 disables
	Before      string        `yaml:"before"`  // source framework display name
	After       string        `yaml:"after"`   // target framework display name
	Seeds       []Seed        `yaml:"seeds"`
	Conversions []string      `yaml:"conversions"` // "output_dir | prompt_file" lines
	Results     ResultsConfig `yaml:"results"`
	Notify      NotifyConfig  `yaml:"notify"`
}

// Seed pairs a source application directory with the output directory its
// run copies are provisioned under.
type Seed struct {
	Source       string   `yaml:"source"`
	Output       string   `yaml:"output"`
	ExcludeFiles []string `yaml:"exclude_files"`
}

// UnmarshalYAML accepts both the mapping form and the legacy
// "source | output" string form.
func (s *Seed) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		left, right, ok := strings.Cut(raw, "|")
		if !ok {
			return fmt.Errorf("config: seed %q: want \"source | output\"", raw)
		}
		s.Source = strings.TrimSpace(left)
		s.Output = strings.TrimSpace(right)
		return nil
	}
	type plain Seed
	return value.Decode((*plain)(s))
}

// ResultsConfig selects the attempt-history database: a local SQLite file
// by default, or a MySQL-compatible server when Host is set.
type ResultsConfig struct {
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// NotifyConfig holds optional webhook targets for stage-completion
// notifications.
type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordWebhook string `yaml:"discord_webhook"`
}

// Load reads a YAML spec file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Runs == 0 {
		c.Runs = 1
	}
	if c.Results.Path == "" && c.Results.Host == "" {
		c.Results.Path = "refit.db"
	}
	if c.Results.Host != "" && c.Results.Port == 0 {
		c.Results.Port = 3306
	}
}

func (c *Config) validate() error {
	var errs []string
	if c.Runs < 1 {
		errs = append(errs, "runs must be >= 1")
	}
	if c.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}
	for i, s := range c.Seeds {
		if s.Source == "" || s.Output == "" {
			errs = append(errs, fmt.Sprintf("seeds[%d]: source and output are required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Job is one concrete conversion: an agent command to run against copies of
// one seeded application. A job expands into Runs independent run units.
type Job struct {
	Solution       string
	FromFramework  string
	ToFramework    string
	OutputDir      string
	PromptFile     string
	Runs           int
	TimeoutSeconds int
}

// Jobs expands the conversion lines into concrete jobs. Relative paths
// resolve against baseDir (the spec file's directory). Commented and
// malformed lines are skipped, so hand-maintained spec files can carry
// section comments.
func (c *Config) Jobs(baseDir string) []Job {
	var jobs []Job
	for _, raw := range c.Conversions {
		outputDir, promptFile, ok := parseConversionLine(raw)
		if !ok {
			continue
		}
		job := Job{
			FromFramework:  strings.ToLower(c.Before),
			ToFramework:    strings.ToLower(c.After),
			OutputDir:      resolve(baseDir, outputDir),
			PromptFile:     resolve(baseDir, promptFile),
			Runs:           c.Runs,
			TimeoutSeconds: c.Timeout,
		}
		if comp, ok := catalog.ParseRunPath(job.OutputDir); ok {
			job.Solution = comp.CliTool
			if job.FromFramework == "" || job.ToFramework == "" {
				from, to, _ := strings.Cut(comp.Conversion, "-to-")
				job.FromFramework = from
				job.ToFramework = to
			}
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// SeedFor finds the seed whose output directory provisions the given job
// output directory. Paths resolve against baseDir before comparison.
func (c *Config) SeedFor(baseDir, outputDir string) (Seed, bool) {
	for _, s := range c.Seeds {
		if resolve(baseDir, s.Output) == outputDir {
			return s, true
		}
	}
	return Seed{}, false
}

// parseConversionLine splits an "output_dir | prompt_file" line. Blank
// lines and #-comments yield ok == false.
func parseConversionLine(raw string) (outputDir, promptFile string, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "#") {
		return "", "", false
	}
	left, right, found := strings.Cut(s, "|")
	if !found {
		return "", "", false
	}
	outputDir = strings.TrimSpace(left)
	promptFile = strings.TrimSpace(right)
	if outputDir == "" || promptFile == "" {
		return "", "", false
	}
	return outputDir, promptFile, true
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(filepath.Join(baseDir, path))
	if err != nil {
		return filepath.Join(baseDir, path)
	}
	return abs
}
