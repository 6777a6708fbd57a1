// Package buildcheck verifies that converted projects compile. It walks the
// conversion tree for Maven and Gradle projects at the run directory level,
// builds them in a bounded worker pool, and records the outcomes as a CSV
// plus per-project error artifacts.
package buildcheck

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/refit-bench/refit/internal/catalog"
	"github.com/refit-bench/refit/internal/ledger"
	"golang.org/x/sync/errgroup"
)

// Build systems recognized in run directories.
const (
	SystemMaven  = "Maven"
	SystemGradle = "Gradle"
)

// Status values written to the result CSV.
const (
	StatusSuccess = "Success"
	StatusFailure = "Failure"
)

// ArtifactRoot is where failing build output is preserved, mirroring the
// conversion tree layout underneath.
const ArtifactRoot = "evaluation-outputs"

// Project is one buildable run directory.
type Project struct {
	Dir    string
	System string
}

// Result is one CSV row.
type Result struct {
	Path   string
	System string
	Status string
	Error  string
}

// Succeeded reports whether the build passed.
func (r Result) Succeeded() bool { return r.Status == StatusSuccess }

// Options tunes the verification pass.
type Options struct {
	ConversionsDir string
	MaxWorkers     int
	Timeout        time.Duration
}

// FindProjects locates Maven and Gradle projects directly inside run
// directories under root. Nested modules below a run directory are the
// build tool's business, not separate projects. When include is non-nil,
// only run directories in the set are returned.
func FindProjects(root string, include map[string]bool) ([]Project, error) {
	var projects []Project
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || !catalog.IsRunDir(d.Name()) {
			return nil
		}
		if include != nil {
			abs, _ := filepath.Abs(path)
			if !include[path] && !include[abs] {
				return filepath.SkipDir
			}
		}
		switch {
		case fileExists(filepath.Join(path, "pom.xml")):
			projects = append(projects, Project{Dir: path, System: SystemMaven})
		case fileExists(filepath.Join(path, "build.gradle")) || fileExists(filepath.Join(path, "build.gradle.kts")):
			projects = append(projects, Project{Dir: path, System: SystemGradle})
		}
		return filepath.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("buildcheck: scan %s: %w", root, err)
	}
	return projects, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// CheckAll builds every project in a bounded pool and returns the results
// sorted by path. Individual build failures are results, not errors.
func CheckAll(ctx context.Context, projects []Project, opts Options) ([]Result, error) {
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	results := make([]Result, 0, len(projects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, p := range projects {
		p := p
		g.Go(func() error {
			res := buildProject(gctx, p, opts)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

func buildProject(ctx context.Context, p Project, opts Options) Result {
	log.Printf("buildcheck: building %s project %s", p.System, p.Dir)

	var ok bool
	var errMsg string
	if p.System == SystemMaven {
		ok, errMsg = runBuild(ctx, p.Dir, opts.Timeout,
			"mvn", "clean", "package", "-Dmaven.test.skip=true", "-Dmaven.repo.local=.m2repo")
		if !ok {
			// A stale or corrupt local repo override can poison the first try.
			log.Printf("buildcheck: retrying without custom repo: %s", p.Dir)
			ok, errMsg = runBuild(ctx, p.Dir, opts.Timeout,
				"mvn", "clean", "package", "-Dmaven.test.skip=true")
		}
	} else {
		gradle := "gradle"
		if fileExists(filepath.Join(p.Dir, "gradlew")) {
			gradle = "./gradlew"
		}
		ok, errMsg = runBuild(ctx, p.Dir, opts.Timeout, gradle, "build", "--exclude-task", "test")
	}

	res := Result{Path: p.Dir, System: p.System, Status: StatusFailure, Error: "No error"}
	if ok {
		res.Status = StatusSuccess
	} else if errMsg != "" {
		res.Error = errMsg
		saveErrorArtifact(p, opts.ConversionsDir, errMsg)
	}
	return res
}

// runBuild runs one build command and returns success plus the failure
// output, preferring stderr over stdout.
func runBuild(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (bool, string) {
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(cmdCtx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if cmdCtx.Err() == context.DeadlineExceeded {
		return false, fmt.Sprintf("Command timed out after %d seconds", int(timeout.Seconds()))
	}
	if err == nil {
		return true, ""
	}
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = strings.TrimSpace(stdout.String())
	}
	if msg == "" {
		msg = err.Error()
	}
	return false, msg
}

func saveErrorArtifact(p Project, conversionsDir, errMsg string) {
	rel, err := filepath.Rel(conversionsDir, p.Dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	outDir := filepath.Join(ArtifactRoot, rel)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Printf("buildcheck: could not save error output: %v", err)
		return
	}
	name := "gradle_error.txt"
	if p.System == SystemMaven {
		name = "mvn_error.txt"
	}
	sep := strings.Repeat("=", 80)
	body := fmt.Sprintf("Build System: %s\nBuild Directory: %s\nStatus: Failed\n%s\nError Output:\n%s\n%s",
		p.System, p.Dir, sep, sep, errMsg)
	if err := os.WriteFile(filepath.Join(outDir, name), []byte(body), 0o644); err != nil {
		log.Printf("buildcheck: could not save error output: %v", err)
	}
}

// WriteCSV writes results to path, creating parent directories as needed.
func WriteCSV(path string, results []Result) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("buildcheck: create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("buildcheck: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Path", "Build System", "Status", "Error"}); err != nil {
		return fmt.Errorf("buildcheck: write %s: %w", path, err)
	}
	for _, r := range results {
		if err := w.Write([]string{r.Path, r.System, r.Status, r.Error}); err != nil {
			return fmt.Errorf("buildcheck: write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("buildcheck: write %s: %w", path, err)
	}
	return nil
}

// LoadCSV reads a previously written result file. A missing file is not an
// error; it just yields no results.
func LoadCSV(path string) ([]Result, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("buildcheck: open %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("buildcheck: read %s: %w", path, err)
	}
	var results []Result
	for i, rec := range records {
		if i == 0 || len(rec) < 4 {
			continue
		}
		results = append(results, Result{Path: rec[0], System: rec[1], Status: rec[2], Error: rec[3]})
	}
	return results, nil
}

// Merge overlays fresh results onto existing ones keyed by path, so a
// failures-only rerun updates just the rows it rebuilt.
func Merge(existing, fresh []Result) []Result {
	byPath := make(map[string]Result, len(existing)+len(fresh))
	for _, r := range existing {
		byPath[r.Path] = r
	}
	for _, r := range fresh {
		byPath[r.Path] = r
	}
	merged := make([]Result, 0, len(byPath))
	for _, r := range byPath {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Path < merged[j].Path })
	return merged
}

// FailedEntries extracts the run directories whose compiled column shows a
// failure in the ledger, keyed the way FindProjects expects.
func FailedEntries(t *ledger.Table, conversionsDir string) map[string]bool {
	include := make(map[string]bool)
	for _, row := range t.Rows() {
		for i, sym := range row.Slots(ledger.StageCompiled) {
			if sym != ledger.Fail {
				continue
			}
			dir := filepath.Join(conversionsDir, row.Key.CliTool, row.Key.Layer,
				row.Key.App+"-"+row.Key.Conversion, fmt.Sprintf("run_%d", i+1))
			include[dir] = true
			if abs, err := filepath.Abs(dir); err == nil {
				include[abs] = true
			}
		}
	}
	if len(include) == 0 {
		return nil
	}
	return include
}

// ApplyToLedger writes each project's compiled status into the ledger,
// rebuilding the full compiled vector per row so missing runs read as
// failures.
func ApplyToLedger(t *ledger.Table, results []Result) int {
	type slot struct {
		run int
		ok  bool
	}
	perKey := make(map[ledger.Key][]slot)
	for _, r := range results {
		comps, ok := catalog.ParseRunPath(r.Path)
		if !ok {
			continue
		}
		key := ledger.Key{
			CliTool:    comps.CliTool,
			Model:      comps.Model,
			Layer:      comps.Layer,
			Conversion: comps.Conversion,
			App:        comps.App,
		}
		perKey[key] = append(perKey[key], slot{run: catalog.RunNumber(r.Path), ok: r.Succeeded()})
	}

	updated := 0
	for key, slots := range perKey {
		maxRun := 0
		for _, s := range slots {
			if s.run > maxRun {
				maxRun = s.run
			}
		}
		symbols := make([]string, maxRun)
		for i := range symbols {
			symbols[i] = ledger.Fail
		}
		for _, s := range slots {
			if s.ok {
				symbols[s.run-1] = ledger.Pass
			}
		}
		t.SetSlots(key, ledger.StageCompiled, symbols)
		updated++
	}
	return updated
}
