package verify

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// defaultCheckTimeout bounds a single verification command. Verification
// runs synchronously inside the tool-call pipeline, so it must not hang
// the agent loop indefinitely.
const defaultCheckTimeout = 120 * time.Second

// checkSpec describes one command run by the gate, plus the regexp used to
// extract file/line from its output for CheckError reporting.
type checkSpec struct {
	name       string
	args       []string
	lineRegexp *regexp.Regexp
}

// cargoLineRegexp matches rustc/cargo diagnostic lines: "src/lib.rs:12:5".
var cargoLineRegexp = regexp.MustCompile(`^\s*(?:-->)?\s*([\w./\\-]+\.rs):(\d+):\d+`)

// goLineRegexp matches go build/vet/test diagnostic lines: "./main.go:10:2:".
var goLineRegexp = regexp.MustCompile(`^\s*([\w./\\-]+\.go):(\d+):\d+`)

// Gate is the in-core default implementation of the Verification Gate. It
// runs cargo check/test/clippy when the workspace looks like a Rust
// project, and falls back to go build/vet/test otherwise — a
// Go-repo-appropriate default for a workspace with no Cargo.toml.
type Gate struct {
	workspaceDir string
	checks       []checkSpec
}

// NewGate builds a Gate for the given workspace, auto-detecting whether to
// drive cargo or the Go toolchain based on the presence of Cargo.toml.
func NewGate(workspaceDir string) *Gate {
	if _, err := os.Stat(filepath.Join(workspaceDir, "Cargo.toml")); err == nil {
		return &Gate{
			workspaceDir: workspaceDir,
			checks: []checkSpec{
				{name: "cargo_check", args: []string{"check", "--message-format=short"}, lineRegexp: cargoLineRegexp},
				{name: "cargo_test", args: []string{"test"}, lineRegexp: cargoLineRegexp},
				{name: "cargo_clippy", args: []string{"clippy", "--message-format=short"}, lineRegexp: cargoLineRegexp},
			},
		}
	}
	return &Gate{
		workspaceDir: workspaceDir,
		checks: []checkSpec{
			{name: "go_build", args: []string{"build", "./..."}, lineRegexp: goLineRegexp},
			{name: "go_vet", args: []string{"vet", "./..."}, lineRegexp: goLineRegexp},
			{name: "go_test", args: []string{"test", "./..."}, lineRegexp: goLineRegexp},
		},
	}
}

// VerifyChange runs every configured check against the workspace and
// returns the aggregate Report. paths is advisory (future checks may scope
// to it); the current checks always verify the whole module/crate since
// cargo/go diagnostics are not reliably per-file scoped.
func (g *Gate) VerifyChange(ctx context.Context, paths []string, trigger string) Report {
	report := Report{Trigger: trigger, Paths: paths, OverallPassed: true}

	for _, spec := range g.checks {
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)

		binary := "cargo"
		if strings.HasPrefix(spec.name, "go_") {
			binary = "go"
		}
		cmd := exec.CommandContext(cctx, binary, spec.args...)
		cmd.Dir = g.workspaceDir
		output, err := cmd.CombinedOutput()
		cancel()

		result := CheckResult{
			Name:       spec.name,
			Passed:     err == nil,
			DurationMs: time.Since(start).Milliseconds(),
			Output:     string(output),
		}
		if err != nil {
			result.Errors = parseDiagnostics(string(output), spec.lineRegexp)
			report.OverallPassed = false
			report.NextSteps = append(report.NextSteps, "修复 "+spec.name+" 报告的问题后重新验证")
		}
		report.Checks = append(report.Checks, result)
	}

	return report
}

// parseDiagnostics extracts CheckError entries from compiler/test output,
// best-effort: lines that match lineRegexp carry file and line; other lines
// are kept as file-less CheckErrors only when they contain "error"
// (case-insensitive), and the rest are dropped.
func parseDiagnostics(output string, lineRegexp *regexp.Regexp) []CheckError {
	var errs []CheckError
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := lineRegexp.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			errs = append(errs, CheckError{
				File:     m[1],
				Line:     lineNo,
				Severity: classifySeverity(line),
				Message:  strings.TrimSpace(line),
			})
			continue
		}
		if strings.Contains(strings.ToLower(line), "error") {
			errs = append(errs, CheckError{
				Severity: SeverityError,
				Message:  strings.TrimSpace(line),
			})
		}
	}
	return errs
}

func classifySeverity(line string) Severity {
	if strings.Contains(strings.ToLower(line), "warning") {
		return SeverityWarning
	}
	return SeverityError
}
