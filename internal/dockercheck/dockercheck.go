// Package dockercheck verifies that compiled conversions actually run. Each
// eligible run is containerized with a per-framework Dockerfile template,
// started, watched for a readiness banner in its logs, and smoke-tested
// inside the container. Outcomes land in the ledger's ran column as one of
// four mutually exclusive symbols.
package dockercheck

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/refit-bench/refit/internal/catalog"
	"github.com/refit-bench/refit/internal/ledger"
	"golang.org/x/sync/errgroup"
)

// safeDockerignore keeps host build output and tool litter out of the image
// build context. Written into every run directory before building.
const safeDockerignore = `target/
build/
out/
bin/
*.class
*.jar
*.war
*.ear

.mvn/
.m2/
.m2repo/
.gradle/

.idea/
.vscode/
*.iml
.classpath
.project
.settings/

.git/
.gitignore
.gitattributes

.DS_Store

.dockerignore
.agent_out/

*.log
*.tmp
`

// Options tunes the runtime verification pass.
type Options struct {
	BaseDir        string // holds the Dockerfile templates and evaluation-outputs
	ConversionsDir string
	BenchRoot      string // benchmark tree supplying smoke scripts
	SkipExisting   bool
	MaxWorkers     int
	BuildTimeout   time.Duration
	StartupWait    time.Duration
	SmokeWait      time.Duration
	SmokeAttempts  int
	SmokeDelay     time.Duration
	PollInterval   time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 128
	}
	if o.BuildTimeout <= 0 {
		o.BuildTimeout = 600 * time.Second
	}
	if o.SmokeAttempts <= 0 {
		o.SmokeAttempts = 5
	}
	if o.SmokeDelay <= 0 {
		o.SmokeDelay = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
}

// Task is one run directory scheduled for containerized verification.
type Task struct {
	Key         ledger.Key
	RunNum      int
	RunDir      string
	Conversion  string
	Target      string // target framework token, selects template and readiness pattern
	CompiledOK  bool
	SmokeScript string // host path of the smoke entrypoint, may be empty
}

// TaskResult is the classified outcome of one task.
type TaskResult struct {
	Task   Task
	Symbol string
	Error  string
}

// Plan is the scheduled work for one verifier invocation: tasks that get a
// worker slot, plus the symbols already decided without one (skips and
// preserved prior outcomes). Empty pending slots belong to tasks.
type Plan struct {
	Tasks   []Task
	Pending map[ledger.Key][]string
}

// TargetFramework extracts the destination framework from a conversion
// token such as "jakarta-to-quarkus".
func TargetFramework(conversion string) string {
	idx := strings.LastIndex(conversion, "to-")
	if idx < 0 {
		return ""
	}
	return conversion[idx+len("to-"):]
}

func shouldReattempt(sym string) bool { return !ledger.IsTerminalRun(sym) }

// PlanTasks decides, per ledger row and run slot, whether the run gets a
// worker slot or an immediate symbol. Runs whose compile stage failed are
// skipped without a slot; prior terminal outcomes are kept.
func PlanTasks(t *ledger.Table, opts Options) Plan {
	plan := Plan{Pending: make(map[ledger.Key][]string)}
	for _, row := range t.Rows() {
		numRuns := 0
		for _, sym := range row.Slots(ledger.StageConverted) {
			if sym == ledger.Pass {
				numRuns++
			}
		}
		if numRuns == 0 {
			continue
		}

		compiled := row.Slots(ledger.StageCompiled)
		ran := row.Slots(ledger.StageRan)
		pending := make([]string, numRuns)
		plan.Pending[row.Key] = pending

		appDir := filepath.Join(opts.ConversionsDir, row.Key.CliTool, row.Key.Layer,
			row.Key.App+"-"+row.Key.Conversion)
		if _, err := os.Stat(appDir); err != nil {
			log.Printf("dockercheck: missing %s", appDir)
			continue
		}
		target := TargetFramework(row.Key.Conversion)

		for runNum := 1; runNum <= numRuns; runNum++ {
			i := runNum - 1
			existing := ""
			if i < len(ran) {
				existing = ran[i]
			}
			compiledOK := i < len(compiled) && compiled[i] == ledger.Pass
			if !compiledOK {
				if existing == "" || existing == ledger.Pending {
					pending[i] = ledger.RunSkipped
				} else {
					pending[i] = existing
				}
				continue
			}
			if opts.SkipExisting && existing == ledger.RunPass {
				pending[i] = existing
				continue
			}
			if !shouldReattempt(existing) {
				pending[i] = existing
				continue
			}
			plan.Tasks = append(plan.Tasks, Task{
				Key:         row.Key,
				RunNum:      runNum,
				RunDir:      filepath.Join(appDir, fmt.Sprintf("run_%d", runNum)),
				Conversion:  row.Key.Conversion,
				Target:      target,
				CompiledOK:  compiledOK,
				SmokeScript: findSmokeScript(opts.BenchRoot, row.Key.Layer, row.Key.App, row.Key.Conversion),
			})
		}
	}
	return plan
}

// findSmokeScript locates the application's smoke entrypoint in the
// benchmark tree. The source framework's copy is authoritative since it
// encodes the behavior the conversion must preserve.
func findSmokeScript(benchRoot, layer, app, conversion string) string {
	if benchRoot == "" {
		return ""
	}
	source := ""
	if idx := strings.Index(conversion, "-to-"); idx > 0 {
		source = conversion[:idx]
	}
	for _, fw := range []string{source, TargetFramework(conversion)} {
		if fw == "" {
			continue
		}
		path := filepath.Join(benchRoot, layer, app, fw, "smoke.py")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ProcessAll runs every task through the container state machine in a
// bounded pool. Task failures are results, never errors.
func ProcessAll(ctx context.Context, eng Engine, tasks []Task, opts Options) []TaskResult {
	opts.applyDefaults()

	var mu sync.Mutex
	results := make([]TaskResult, 0, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxWorkers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			res := processTask(gctx, eng, task, opts)
			mu.Lock()
			results = append(results, res)
			done := len(results)
			mu.Unlock()
			log.Printf("dockercheck: [%d/%d] %s/%s/%s-%s run_%d = %s",
				done, len(tasks), task.Key.CliTool, task.Key.Layer,
				task.Key.App, task.Key.Conversion, task.RunNum, res.Symbol)
			return nil
		})
	}
	g.Wait()
	return results
}

// machine states; each task walks them in order, exiting early on a
// terminal failure.
type state int

const (
	stateBuilding state = iota
	stateStarting
	statePollingReady
	stateSmokeWaiting
	stateSmokeAttempting
	stateDone
)

func processTask(ctx context.Context, eng Engine, task Task, opts Options) TaskResult {
	fail := func(errText string) TaskResult {
		sym := ledger.RunSmokeFailed
		if isBuildError(errText) {
			sym = ledger.RunBuildFailed
		}
		return TaskResult{Task: task, Symbol: sym, Error: ClassifyError(errText)}
	}

	info, err := os.Stat(task.RunDir)
	if err != nil || !info.IsDir() {
		return fail(fmt.Sprintf("run directory does not exist: %s", task.RunDir))
	}
	if !catalog.IsRunDir(filepath.Base(task.RunDir)) {
		return fail(fmt.Sprintf("path is not at run level: %s", task.RunDir))
	}

	templatePath := filepath.Join(opts.BaseDir, task.Target+"_Dockerfile")
	template, err := os.ReadFile(templatePath)
	if err != nil {
		return fail(fmt.Sprintf("Dockerfile source not found: %s", templatePath))
	}

	buildSystem := detectBuildSystem(task.RunDir)
	if buildSystem == "maven" && !fileExists(filepath.Join(task.RunDir, "pom.xml")) {
		return fail(fmt.Sprintf("pom.xml not found in %s", task.RunDir))
	}
	if buildSystem == "gradle" &&
		!fileExists(filepath.Join(task.RunDir, "build.gradle")) &&
		!fileExists(filepath.Join(task.RunDir, "build.gradle.kts")) {
		return fail(fmt.Sprintf("build.gradle(.kts) not found in %s", task.RunDir))
	}

	if err := os.WriteFile(filepath.Join(task.RunDir, ".dockerignore"), []byte(safeDockerignore), 0o644); err != nil {
		return fail(fmt.Sprintf("write .dockerignore: %v", err))
	}

	outDir := filepath.Join(opts.BaseDir, "evaluation-outputs",
		task.Key.CliTool, task.Key.Layer,
		task.Key.App+"-"+task.Conversion, fmt.Sprintf("run_%d", task.RunNum))

	javaVersion := detectJavaVersion(task.RunDir)
	if javaVersion == 0 {
		javaVersion = 17
	}
	// A compiled project is worth one more try on the current LTS, since
	// agents sometimes pin a version the template's base image lacks.
	candidates := []int{javaVersion}
	if task.CompiledOK && javaVersion != 21 {
		candidates = append(candidates, 21)
	}

	imageName := fmt.Sprintf("%s_%d_%d",
		strings.ReplaceAll(task.Conversion, "-", "_"), task.RunNum, time.Now().UnixNano())
	containerName := imageName + "_container"

	var logs, buildOut, smokeLog strings.Builder
	st := stateBuilding
	built := false
	for st != stateDone {
		select {
		case <-ctx.Done():
			return fail("docker run cancelled")
		default:
		}

		switch st {
		case stateBuilding:
			var lastErr error
			var lastOut string
			for _, jv := range candidates {
				content := renderDockerfile(string(template), buildSystem, jv)
				if err := os.WriteFile(filepath.Join(task.RunDir, "Dockerfile"), []byte(content), 0o644); err != nil {
					return fail(fmt.Sprintf("write Dockerfile: %v", err))
				}
				out, err := eng.BuildImage(ctx, task.RunDir, imageName, opts.BuildTimeout)
				lastOut, lastErr = out, err
				if err == nil {
					built = true
					break
				}
			}
			fmt.Fprintf(&buildOut, "cwd: %s\ncmd: docker build -t %s .\n%s\n", task.RunDir, imageName, lastOut)
			if !built {
				buildOut.WriteString(lastErr.Error() + "\n")
				writeArtifact(outDir, "docker_build.out", "DOCKER BUILD FAILED\n"+buildOut.String())
				return fail(lastErr.Error())
			}
			writeArtifact(outDir, "docker_build.out", "DOCKER BUILD OK\n"+buildOut.String())
			st = stateStarting

		case stateStarting:
			defer eng.Remove(context.WithoutCancel(ctx), containerName, imageName)
			out, err := eng.RunDetached(ctx, imageName, containerName)
			if err != nil {
				writeArtifact(outDir, "docker_run.out", "DOCKER RUN FAILED\n"+out+"\n"+err.Error())
				return fail(err.Error())
			}
			st = statePollingReady

		case statePollingReady:
			decision := pollReadiness(ctx, eng, containerName, task.Target, opts, &logs)
			writeArtifact(outDir, "docker_run.out", "--- logs ---\n"+logs.String())
			if decision == StartupFailed {
				return fail("BUILD FAILED during container startup")
			}
			// Undecided falls through: readiness detection is best-effort
			// and must not fail a quietly healthy application.
			st = stateSmokeWaiting

		case stateSmokeWaiting:
			if !sleepCtx(ctx, opts.SmokeWait) {
				return fail("docker run cancelled")
			}
			st = stateSmokeAttempting

		case stateSmokeAttempting:
			ok := runSmoke(ctx, eng, containerName, task.SmokeScript, opts, &smokeLog)
			finalLogs, _ := eng.Logs(ctx, containerName)
			verdict := "SMOKE TEST FAILED"
			if ok {
				verdict = "SMOKE TEST PASSED"
			}
			writeArtifact(outDir, "smoke.out",
				verdict+"\n"+smokeLog.String()+"--- logs ---\n"+finalLogs)
			if !ok {
				return fail(fmt.Sprintf("smoke test failed after %d attempts", opts.SmokeAttempts))
			}
			st = stateDone
		}
	}
	return TaskResult{Task: task, Symbol: ledger.RunPass}
}

// pollReadiness reads container logs on a fixed interval until the target
// framework's readiness banner or a failure signature appears, or the
// startup budget runs out.
func pollReadiness(ctx context.Context, eng Engine, container, target string, opts Options, logs *strings.Builder) StartupDecision {
	deadline := time.Now().Add(opts.StartupWait)
	for {
		out, err := eng.Logs(ctx, container)
		if err == nil {
			logs.Reset()
			logs.WriteString(out)
			if d := ClassifyStartup(out, target); d != StartupUndecided {
				return d
			}
		}
		if time.Now().After(deadline) {
			return StartupUndecided
		}
		if !sleepCtx(ctx, opts.PollInterval) {
			return StartupUndecided
		}
	}
}

// runSmoke executes the smoke entrypoint inside the container, accepting
// the first exit-zero attempt. Every attempt's output is appended to
// smokeLog.
func runSmoke(ctx context.Context, eng Engine, container, smokeScript string, opts Options, smokeLog *strings.Builder) bool {
	cmd := []string{"python3", "smoke.py"}
	if smokeScript != "" {
		if err := eng.CopyIn(ctx, container, smokeScript, "/tmp/smoke.py"); err != nil {
			fmt.Fprintf(smokeLog, "copy smoke script: %v\n", err)
		} else {
			cmd = []string{"python3", "/tmp/smoke.py"}
		}
	}
	for attempt := 1; attempt <= opts.SmokeAttempts; attempt++ {
		out, err := eng.Exec(ctx, container, cmd...)
		fmt.Fprintf(smokeLog, "--- attempt %d ---\n%s\n", attempt, out)
		if err == nil {
			fmt.Fprintf(smokeLog, "attempt %d: exit 0\n", attempt)
			return true
		}
		fmt.Fprintf(smokeLog, "attempt %d: %v\n", attempt, err)
		if attempt < opts.SmokeAttempts && !sleepCtx(ctx, opts.SmokeDelay) {
			return false
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func writeArtifact(dir, name, content string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("dockercheck: artifact dir %s: %v", dir, err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		log.Printf("dockercheck: write %s: %v", name, err)
	}
}

// detectBuildSystem prefers Maven when a project carries both build files.
func detectBuildSystem(runDir string) string {
	if fileExists(filepath.Join(runDir, "pom.xml")) {
		return "maven"
	}
	if fileExists(filepath.Join(runDir, "build.gradle")) || fileExists(filepath.Join(runDir, "build.gradle.kts")) {
		return "gradle"
	}
	return "maven"
}

var javaVersionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<maven\.compiler\.(?:source|target)>(\d+)</maven\.compiler\.(?:source|target)>`),
	regexp.MustCompile(`<java\.version>(\d+)</java\.version>`),
	regexp.MustCompile(`sourceCompatibility\s*=\s*JavaVersion\.VERSION_(\d+)`),
	regexp.MustCompile(`java\.toolchain\.languageVersion\s*=\s*JavaLanguageVersion\.of\((\d+)\)`),
}

// detectJavaVersion scrapes the build file for a pinned Java version.
// Returns 0 when none is declared.
func detectJavaVersion(runDir string) int {
	for _, name := range []string{"pom.xml", "build.gradle", "build.gradle.kts"} {
		data, err := os.ReadFile(filepath.Join(runDir, name))
		if err != nil {
			continue
		}
		for _, re := range javaVersionPatterns {
			if m := re.FindSubmatch(data); m != nil {
				v, _ := strconv.Atoi(string(m[1]))
				return v
			}
		}
	}
	return 0
}

var temurinRe = regexp.MustCompile(`FROM eclipse-temurin:\d+-jdk`)

// renderDockerfile adapts a framework template to the project's build
// system and Java version. Templates are written for Maven on Java 17.
func renderDockerfile(template, buildSystem string, javaVersion int) string {
	content := template
	if buildSystem == "gradle" {
		content = strings.ReplaceAll(content, "mvn clean package -Dmaven.test.skip=true", "./gradlew clean build -x test")
		content = strings.ReplaceAll(content, "mvn liberty:run", "./gradlew libertyRun")
		content = strings.ReplaceAll(content, "mvn spring-boot:run", "./gradlew bootRun")
		content = strings.ReplaceAll(content, "mvn quarkus:dev", "./gradlew quarkusDev")
	}
	if javaVersion != 0 && javaVersion != 17 {
		content = temurinRe.ReplaceAllString(content, fmt.Sprintf("FROM eclipse-temurin:%d-jdk", javaVersion))
	}
	return content
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ApplyResults merges planned symbols and task outcomes into the ledger's
// ran column. Only slots attempted or decided this invocation are replaced;
// everything else keeps its prior value.
func ApplyResults(t *ledger.Table, plan Plan, results []TaskResult) {
	for _, res := range results {
		if pending, ok := plan.Pending[res.Task.Key]; ok && res.Task.RunNum <= len(pending) {
			pending[res.Task.RunNum-1] = res.Symbol
		}
	}
	for key, pending := range plan.Pending {
		existing := []string{}
		if row := t.Find(key); row != nil {
			existing = row.Slots(ledger.StageRan)
		}
		merged := make([]string, len(pending))
		for i, sym := range pending {
			switch {
			case sym != "":
				merged[i] = sym
			case i < len(existing) && existing[i] != "":
				merged[i] = existing[i]
			default:
				merged[i] = ledger.Pending
			}
		}
		t.SetSlots(key, ledger.StageRan, merged)
	}
}

// WriteCSV records per-run outcomes for postmortem queries.
func WriteCSV(path string, results []TaskResult) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("dockercheck: create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dockercheck: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Path", "Status", "Error"}); err != nil {
		return fmt.Errorf("dockercheck: write %s: %w", path, err)
	}
	for _, r := range results {
		if err := w.Write([]string{r.Task.RunDir, r.Symbol, r.Error}); err != nil {
			return fmt.Errorf("dockercheck: write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("dockercheck: write %s: %w", path, err)
	}
	return nil
}
