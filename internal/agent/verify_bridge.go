package agent

import (
	"context"

	"github.com/pocketomega/omega-core/internal/verify"
)

// verifyGateAdapter adapts *verify.Gate to the package-local ChangeVerifier
// contract so tool_node.go's pipeline doesn't need to know about
// verify.Report directly — it only cares about pass/fail and the text to
// attach on failure.
type verifyGateAdapter struct {
	gate *verify.Gate
}

// NewVerifyGate builds the default in-core Verification Gate for a
// workspace, auto-detecting cargo vs. the Go toolchain.
func NewVerifyGate(workspaceDir string) ChangeVerifier {
	return verifyGateAdapter{gate: verify.NewGate(workspaceDir)}
}

func (a verifyGateAdapter) VerifyChange(ctx context.Context, paths []string, trigger string) (bool, string) {
	report := a.gate.VerifyChange(ctx, paths, trigger)
	return report.OverallPassed, report.Render()
}
