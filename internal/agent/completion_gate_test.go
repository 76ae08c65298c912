package agent

import "testing"

func TestCheckCompletionGate_BelowMinStepsFails(t *testing.T) {
	state := &AgentState{MinCompletionSteps: 3, StepHistory: []StepRecord{{Type: "decide"}}}
	if checkCompletionGate(state).Passed {
		t.Fatalf("expected gate to fail when step_count < min_completion_steps")
	}
}

func TestCheckCompletionGate_RequiresSuccessfulVerification(t *testing.T) {
	state := &AgentState{
		MinCompletionSteps:  1,
		RequireVerification: true,
		StepHistory: []StepRecord{
			{Type: "tool", ToolName: "file_write"},
			{Type: "tool", ToolName: "cargo_check", IsError: true},
		},
	}
	if checkCompletionGate(state).Passed {
		t.Fatalf("expected gate to fail with no successful cargo verification")
	}

	state.StepHistory = append(state.StepHistory, StepRecord{Type: "tool", ToolName: "cargo_test", IsError: false})
	if !checkCompletionGate(state).Passed {
		t.Fatalf("expected gate to pass once a successful cargo_test step exists")
	}
}

func TestCheckCompletionGate_PassesWithoutVerificationRequirement(t *testing.T) {
	state := &AgentState{MinCompletionSteps: 1, StepHistory: []StepRecord{{Type: "decide"}}}
	if !checkCompletionGate(state).Passed {
		t.Fatalf("expected gate to pass when verification is not required and min steps met")
	}
}
