package agent

import "fmt"

// DefaultMinCompletionSteps bounds how early a zero-tool-call answer may
// terminate the run when AgentState does not override MinCompletionSteps.
const DefaultMinCompletionSteps = 1

// verificationToolNames are the tool names whose successful execution
// satisfies the completion gate's verification requirement.
var verificationToolNames = map[string]bool{
	"cargo_check":  true,
	"cargo_test":   true,
	"cargo_clippy": true,
}

// completionGateResult reports whether a zero-tool-call "answer" decision
// may be accepted as Completed, and if not, why.
type completionGateResult struct {
	Passed bool
	Reason string
}

// checkCompletionGate implements the completion gate (spec §4.1, §8): a
// step with no tool calls is accepted as Completed only if the step count
// has reached the configured minimum and, when verification is required,
// at least one cargo_check/cargo_test/cargo_clippy tool call in the step
// history succeeded.
func checkCompletionGate(state *AgentState) completionGateResult {
	min := state.MinCompletionSteps
	if min <= 0 {
		min = DefaultMinCompletionSteps
	}

	if len(state.StepHistory) < min {
		return completionGateResult{
			Reason: fmt.Sprintf("当前步数 %d 未达到最小完成步数 %d，请先完成必要的操作，再给出最终回答。", len(state.StepHistory), min),
		}
	}

	if !state.RequireVerification || hasSuccessfulVerification(state.StepHistory) {
		return completionGateResult{Passed: true}
	}

	return completionGateResult{
		Reason: "尚未记录一次成功的验证（cargo_check/cargo_test/cargo_clippy），请先验证改动是否可编译/通过测试，再给出最终回答。",
	}
}

// hasSuccessfulVerification reports whether StepHistory contains a
// non-error tool step for one of the verification tool names.
func hasSuccessfulVerification(steps []StepRecord) bool {
	for _, s := range steps {
		if s.Type == "tool" && verificationToolNames[s.ToolName] && !s.IsError {
			return true
		}
	}
	return false
}
