package dockercheck

import (
	"regexp"
	"strings"
)

// StartupDecision is the verdict of one readiness inspection of a
// container's log stream.
type StartupDecision int

const (
	// StartupUndecided means the logs show neither a readiness signal nor
	// a failure signature yet.
	StartupUndecided StartupDecision = iota
	StartupReady
	StartupFailed
)

// readyPatterns recognizes the per-framework startup banner in container
// logs. Readiness detection is inherently best-effort; an unmatched log
// only delays, never fails, the run.
var readyPatterns = map[string]*regexp.Regexp{
	"jakarta": regexp.MustCompile(`defaultServer server is ready`),
	"spring":  regexp.MustCompile(`Started \S+ in [\d.]+ seconds`),
	"quarkus": regexp.MustCompile(`started in [\d.]+s\. Listening on`),
}

// failureMarkers are generic build or startup failure signatures that make
// a run terminal without smoke testing.
var failureMarkers = []string{
	"BUILD FAILURE",
	"BUILD FAILED",
	"APPLICATION FAILED TO START",
}

// ClassifyStartup inspects a container log excerpt for the target
// framework's readiness banner or a failure signature. Pure function so it
// can be tested against captured log fixtures.
func ClassifyStartup(logs, targetFramework string) StartupDecision {
	for _, marker := range failureMarkers {
		if strings.Contains(strings.ToUpper(logs), marker) {
			return StartupFailed
		}
	}
	if re, ok := readyPatterns[targetFramework]; ok && re.MatchString(logs) {
		return StartupReady
	}
	return StartupUndecided
}

// ClassifyError maps free-text failure output to a short error type for
// the result CSV.
func ClassifyError(errText string) string {
	e := strings.ToLower(errText)
	switch {
	case e == "":
		return "docker error"
	case strings.Contains(e, "dockerfile source not found"):
		return "no dockerfile found"
	case strings.Contains(e, "run directory does not exist"):
		return "run directory not found"
	case strings.Contains(e, "pom.xml not found"),
		strings.Contains(e, "build.gradle") && strings.Contains(e, "not found"):
		return "build file not found"
	case strings.Contains(e, "docker build timed out"),
		strings.Contains(e, "docker build failed"),
		strings.Contains(e, "build failed"):
		return "docker build error"
	case strings.Contains(e, "docker run failed"),
		strings.Contains(e, "container not running"):
		return "docker run error"
	case strings.Contains(e, "unreachable"),
		strings.Contains(e, "smoke test failed"):
		return "docker ping error"
	case strings.Contains(e, "docker build"),
		strings.Contains(e, "mvn"),
		strings.Contains(e, "gradle"):
		return "docker build error"
	default:
		first := strings.TrimSpace(strings.SplitN(errText, "\n", 2)[0])
		if first == "" {
			return "docker error"
		}
		if len(first) > 100 {
			first = first[:100]
		}
		return first
	}
}

// isBuildError reports whether failure text should be attributed to the
// build rather than the running application.
func isBuildError(errText string) bool {
	e := strings.ToLower(errText)
	for _, needle := range []string{"docker build", "mvn", "gradle", "build failed", "build timed out"} {
		if strings.Contains(e, needle) {
			return true
		}
	}
	return false
}
