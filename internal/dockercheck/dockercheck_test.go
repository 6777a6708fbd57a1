package dockercheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/refit-bench/refit/internal/ledger"
)

// fakeEngine scripts the container runtime for state machine tests.
type fakeEngine struct {
	mu        sync.Mutex
	buildErr  error
	runErr    error
	logs      string
	execFails int // attempts that fail before Exec starts succeeding
	execCalls int
	copiedTo  string
	removed   bool
}

func (f *fakeEngine) BuildImage(ctx context.Context, dir, tag string, timeout time.Duration) (string, error) {
	return "build output", f.buildErr
}

func (f *fakeEngine) RunDetached(ctx context.Context, image, name string) (string, error) {
	return "abc123", f.runErr
}

func (f *fakeEngine) Logs(ctx context.Context, name string) (string, error) {
	return f.logs, nil
}

func (f *fakeEngine) CopyIn(ctx context.Context, name, hostPath, containerPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copiedTo = containerPath
	return nil
}

func (f *fakeEngine) Exec(ctx context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls++
	if f.execCalls <= f.execFails {
		return "connection refused", errors.New("exit status 1")
	}
	return "ok", nil
}

func (f *fakeEngine) Remove(ctx context.Context, name, image string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
}

func testKey() ledger.Key {
	return ledger.Key{
		CliTool:    "claude",
		Model:      "claude-sonnet-4.5",
		Layer:      "whole_applications",
		Conversion: "jakarta-to-quarkus",
		App:        "tribe",
	}
}

// testTask lays out a base dir with a quarkus template and a maven run dir,
// returning options tuned for fast tests.
func testTask(t *testing.T) (Task, Options) {
	t.Helper()
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "quarkus_Dockerfile"),
		[]byte("FROM eclipse-temurin:17-jdk\nRUN mvn clean package -Dmaven.test.skip=true\nCMD mvn quarkus:dev\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runDir := filepath.Join(base, "agentic", "claude", "whole_applications", "tribe-jakarta-to-quarkus", "run_1")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "pom.xml"), []byte("<project/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	task := Task{
		Key:        testKey(),
		RunNum:     1,
		RunDir:     runDir,
		Conversion: "jakarta-to-quarkus",
		Target:     "quarkus",
		CompiledOK: true,
	}
	opts := Options{
		BaseDir:        base,
		ConversionsDir: filepath.Join(base, "agentic"),
		SmokeAttempts:  5,
		SmokeDelay:     time.Millisecond,
		PollInterval:   time.Millisecond,
		StartupWait:    time.Millisecond,
	}
	return task, opts
}

func readArtifact(t *testing.T, opts Options, name string) string {
	t.Helper()
	path := filepath.Join(opts.BaseDir, "evaluation-outputs",
		"claude", "whole_applications", "tribe-jakarta-to-quarkus", "run_1", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact %s: %v", name, err)
	}
	return string(data)
}

func TestProcessTaskBuildFailure(t *testing.T) {
	task, opts := testTask(t)
	eng := &fakeEngine{buildErr: errors.New("docker build failed: exit status 1")}

	res := processTask(context.Background(), eng, task, opts)
	if res.Symbol != ledger.RunBuildFailed {
		t.Fatalf("symbol = %q, want %q", res.Symbol, ledger.RunBuildFailed)
	}
	if res.Error != "docker build error" {
		t.Errorf("error = %q", res.Error)
	}
	if eng.execCalls != 0 {
		t.Error("smoke must not run after a build failure")
	}
	if got := readArtifact(t, opts, "docker_build.out"); !strings.HasPrefix(got, "DOCKER BUILD FAILED") {
		t.Errorf("build artifact = %q", got)
	}
}

func TestProcessTaskStartupFailureMarker(t *testing.T) {
	task, opts := testTask(t)
	eng := &fakeEngine{logs: "[ERROR] BUILD FAILURE\n[ERROR] compilation error\n"}

	res := processTask(context.Background(), eng, task, opts)
	if res.Symbol != ledger.RunBuildFailed {
		t.Fatalf("symbol = %q, want %q", res.Symbol, ledger.RunBuildFailed)
	}
	if eng.execCalls != 0 {
		t.Error("smoke must not run when startup shows a build failure")
	}
	if !eng.removed {
		t.Error("container must be cleaned up")
	}
}

func TestProcessTaskSmokeRetriesThenPasses(t *testing.T) {
	task, opts := testTask(t)
	eng := &fakeEngine{
		logs:      "app started in 2.31s. Listening on: http://0.0.0.0:8080\n",
		execFails: 4,
	}

	res := processTask(context.Background(), eng, task, opts)
	if res.Symbol != ledger.RunPass {
		t.Fatalf("symbol = %q (%s), want %q", res.Symbol, res.Error, ledger.RunPass)
	}
	if eng.execCalls != 5 {
		t.Errorf("exec calls = %d, want 5", eng.execCalls)
	}
	smoke := readArtifact(t, opts, "smoke.out")
	if !strings.HasPrefix(smoke, "SMOKE TEST PASSED") {
		t.Errorf("smoke artifact = %q", smoke)
	}
	if !strings.Contains(smoke, "--- attempt 5 ---") {
		t.Errorf("smoke artifact missing attempts:\n%s", smoke)
	}
}

func TestProcessTaskSmokeExhausted(t *testing.T) {
	task, opts := testTask(t)
	eng := &fakeEngine{
		logs:      "app started in 2.31s. Listening on: http://0.0.0.0:8080\n",
		execFails: 100,
	}

	res := processTask(context.Background(), eng, task, opts)
	if res.Symbol != ledger.RunSmokeFailed {
		t.Fatalf("symbol = %q, want %q", res.Symbol, ledger.RunSmokeFailed)
	}
	if res.Error != "docker ping error" {
		t.Errorf("error = %q", res.Error)
	}
	if eng.execCalls != 5 {
		t.Errorf("exec calls = %d, want 5", eng.execCalls)
	}
	if got := readArtifact(t, opts, "smoke.out"); !strings.HasPrefix(got, "SMOKE TEST FAILED") {
		t.Errorf("smoke artifact = %q", got)
	}
}

func TestProcessTaskCopiesSmokeScript(t *testing.T) {
	task, opts := testTask(t)
	script := filepath.Join(t.TempDir(), "smoke.py")
	if err := os.WriteFile(script, []byte("print('ok')"), 0o644); err != nil {
		t.Fatal(err)
	}
	task.SmokeScript = script
	eng := &fakeEngine{logs: "started in 1.2s. Listening on: http://0.0.0.0:8080"}

	res := processTask(context.Background(), eng, task, opts)
	if res.Symbol != ledger.RunPass {
		t.Fatalf("symbol = %q (%s)", res.Symbol, res.Error)
	}
	if eng.copiedTo != "/tmp/smoke.py" {
		t.Errorf("copied to %q, want /tmp/smoke.py", eng.copiedTo)
	}
}

func TestProcessTaskMissingRunDir(t *testing.T) {
	task, opts := testTask(t)
	task.RunDir = filepath.Join(opts.BaseDir, "nope", "run_1")

	res := processTask(context.Background(), &fakeEngine{}, task, opts)
	if res.Symbol != ledger.RunSmokeFailed {
		t.Fatalf("symbol = %q, want %q", res.Symbol, ledger.RunSmokeFailed)
	}
	if res.Error != "run directory not found" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestTargetFramework(t *testing.T) {
	cases := map[string]string{
		"jakarta-to-quarkus": "quarkus",
		"spring-to-jakarta":  "jakarta",
		"broken":             "",
	}
	for in, want := range cases {
		if got := TargetFramework(in); got != want {
			t.Errorf("TargetFramework(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassifyStartup(t *testing.T) {
	cases := []struct {
		logs, target string
		want         StartupDecision
	}{
		{"The defaultServer server is ready to run a smarter planet.", "jakarta", StartupReady},
		{"Started PetClinicApplication in 4.521 seconds (process running)", "spring", StartupReady},
		{"tribe 1.0 on JVM started in 2.31s. Listening on: http://0.0.0.0:8080", "quarkus", StartupReady},
		{"[INFO] BUILD FAILURE", "quarkus", StartupFailed},
		{"APPLICATION FAILED TO START", "spring", StartupFailed},
		{"still warming up", "quarkus", StartupUndecided},
		// A spring banner does not satisfy a quarkus target.
		{"Started App in 4.5 seconds", "quarkus", StartupUndecided},
	}
	for _, tc := range cases {
		if got := ClassifyStartup(tc.logs, tc.target); got != tc.want {
			t.Errorf("ClassifyStartup(%q, %s) = %v, want %v", tc.logs, tc.target, got, tc.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	cases := map[string]string{
		"":                                      "docker error",
		"Dockerfile source not found: /x":       "no dockerfile found",
		"run directory does not exist: /x":      "run directory not found",
		"pom.xml not found in /x":               "build file not found",
		"build.gradle(.kts) not found in /x":    "build file not found",
		"docker build failed: exit status 1":    "docker build error",
		"docker build timed out (600s)":         "docker build error",
		"docker run failed: exit status 125":    "docker run error",
		"smoke test failed after 5 attempts":    "docker ping error",
		"something odd happened\nsecond line":   "something odd happened",
	}
	for in, want := range cases {
		if got := ClassifyError(in); got != want {
			t.Errorf("ClassifyError(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderDockerfile(t *testing.T) {
	template := "FROM eclipse-temurin:17-jdk\nRUN mvn clean package -Dmaven.test.skip=true\nCMD mvn quarkus:dev\n"

	same := renderDockerfile(template, "maven", 17)
	if same != template {
		t.Errorf("maven/17 should be the template verbatim:\n%s", same)
	}

	gradle := renderDockerfile(template, "gradle", 21)
	if !strings.Contains(gradle, "./gradlew clean build -x test") {
		t.Errorf("gradle build command missing:\n%s", gradle)
	}
	if !strings.Contains(gradle, "./gradlew quarkusDev") {
		t.Errorf("gradle run command missing:\n%s", gradle)
	}
	if !strings.Contains(gradle, "FROM eclipse-temurin:21-jdk") {
		t.Errorf("java version not rewritten:\n%s", gradle)
	}
}

func TestDetectBuildSystem(t *testing.T) {
	dir := t.TempDir()
	if got := detectBuildSystem(dir); got != "maven" {
		t.Errorf("empty dir = %q, want maven default", got)
	}
	if err := os.WriteFile(filepath.Join(dir, "build.gradle"), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := detectBuildSystem(dir); got != "gradle" {
		t.Errorf("gradle-only dir = %q, want gradle", got)
	}
	// Both build files present: Maven wins.
	if err := os.WriteFile(filepath.Join(dir, "pom.xml"), []byte("<project/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := detectBuildSystem(dir); got != "maven" {
		t.Errorf("mixed dir = %q, want maven", got)
	}
}

func TestDetectJavaVersion(t *testing.T) {
	dir := t.TempDir()
	if got := detectJavaVersion(dir); got != 0 {
		t.Errorf("no build file should yield 0, got %d", got)
	}
	if err := os.WriteFile(filepath.Join(dir, "pom.xml"),
		[]byte("<properties><maven.compiler.source>21</maven.compiler.source></properties>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := detectJavaVersion(dir); got != 21 {
		t.Errorf("pom version = %d, want 21", got)
	}

	gdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(gdir, "build.gradle"),
		[]byte("sourceCompatibility = JavaVersion.VERSION_11"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := detectJavaVersion(gdir); got != 11 {
		t.Errorf("gradle version = %d, want 11", got)
	}
}

func TestPlanTasks(t *testing.T) {
	base := t.TempDir()
	appDir := filepath.Join(base, "agentic", "claude", "whole_applications", "tribe-jakarta-to-quarkus")
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		t.Fatal(err)
	}

	table := ledger.New()
	key := testKey()
	table.SetSlots(key, ledger.StageConverted, []string{ledger.Pass, ledger.Pass, ledger.Pass})
	table.SetSlots(key, ledger.StageCompiled, []string{ledger.Pass, ledger.Fail, ledger.Pass})
	table.SetSlots(key, ledger.StageRan, []string{ledger.Pending, ledger.Pending, ledger.RunPass})

	opts := Options{ConversionsDir: filepath.Join(base, "agentic")}
	plan := PlanTasks(table, opts)

	// Run 1: compiled, no terminal outcome yet -> task. Run 2: compile
	// failed -> immediate skip. Run 3: prior pass is terminal -> kept.
	if len(plan.Tasks) != 1 {
		t.Fatalf("tasks = %+v, want exactly one", plan.Tasks)
	}
	task := plan.Tasks[0]
	if task.RunNum != 1 || task.Target != "quarkus" || !task.CompiledOK {
		t.Errorf("task = %+v", task)
	}
	if task.RunDir != filepath.Join(appDir, "run_1") {
		t.Errorf("run dir = %q", task.RunDir)
	}
	pending := plan.Pending[key]
	want := []string{"", ledger.RunSkipped, ledger.RunPass}
	if !reflect.DeepEqual(pending, want) {
		t.Errorf("pending = %v, want %v", pending, want)
	}

	// Build failures are retried even with SkipExisting set.
	table.SetSlots(key, ledger.StageRan, []string{ledger.RunBuildFailed, ledger.Pending, ledger.RunPass})
	opts.SkipExisting = true
	plan = PlanTasks(table, opts)
	if len(plan.Tasks) != 1 || plan.Tasks[0].RunNum != 1 {
		t.Errorf("build-failed run not rescheduled: %+v", plan.Tasks)
	}
}

func TestApplyResults(t *testing.T) {
	table := ledger.New()
	key := testKey()
	table.SetSlots(key, ledger.StageRan, []string{ledger.RunBuildFailed, ledger.RunPass, ledger.Pending})

	plan := Plan{Pending: map[ledger.Key][]string{
		key: {"", ledger.RunPass, ledger.RunSkipped},
	}}
	results := []TaskResult{
		{Task: Task{Key: key, RunNum: 1}, Symbol: ledger.RunPass},
	}
	ApplyResults(table, plan, results)

	row := table.Find(key)
	want := []string{ledger.RunPass, ledger.RunPass, ledger.RunSkipped}
	if !reflect.DeepEqual(row.Ran, want) {
		t.Errorf("ran = %v, want %v", row.Ran, want)
	}
}

func TestApplyResultsKeepsExistingForEmptySlots(t *testing.T) {
	table := ledger.New()
	key := testKey()
	table.SetSlots(key, ledger.StageRan, []string{ledger.RunSmokeFailed, ledger.Pending})

	plan := Plan{Pending: map[ledger.Key][]string{key: {"", ""}}}
	ApplyResults(table, plan, nil)

	row := table.Find(key)
	want := []string{ledger.RunSmokeFailed, ledger.Pending}
	if !reflect.DeepEqual(row.Ran, want) {
		t.Errorf("ran = %v, want %v", row.Ran, want)
	}
}

func TestProcessAll(t *testing.T) {
	task, opts := testTask(t)
	eng := &fakeEngine{logs: "started in 1.0s. Listening on: http://0.0.0.0:8080"}

	results := ProcessAll(context.Background(), eng, []Task{task}, opts)
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Symbol != ledger.RunPass {
		t.Errorf("symbol = %q (%s)", results[0].Symbol, results[0].Error)
	}
}
