package agent

import (
	"time"

	"github.com/pocketomega/omega-core/internal/checkpoint"
)

// ToCheckpoint builds a durable snapshot of the run's state for the
// Checkpoint Engine. It does not carry the full conversation history that
// the LLM provider sees (that lives in ConversationHistory/LastDecision,
// reconstructible from StepHistory) — only the parts that matter for
// resuming or auditing a task: step history as messages, tool call log, and
// error log.
//
// Each call bumps CheckpointVersion so repeated saves within one run always
// produce a strictly increasing version, as the write protocol requires.
func (s *AgentState) ToCheckpoint() *checkpoint.Checkpoint {
	s.CheckpointVersion++
	now := s.lastStepTime()
	if s.checkpointCreatedAt.IsZero() {
		s.checkpointCreatedAt = now
	}

	status := checkpoint.StatusInProgress
	if s.Solution != "" {
		status = checkpoint.StatusCompleted
	}

	messages := make([]checkpoint.Message, 0, len(s.StepHistory)+1)
	if s.Problem != "" {
		messages = append(messages, checkpoint.Message{Role: "user", Content: s.Problem})
	}

	var toolCalls []checkpoint.ToolCallLog
	var errs []checkpoint.ErrorLog

	for _, step := range s.StepHistory {
		switch step.Type {
		case "tool":
			messages = append(messages, checkpoint.Message{
				Role:       "tool",
				Content:    step.Output,
				Name:       step.ToolName,
				ToolCallID: step.ToolCallID,
			})
			toolCalls = append(toolCalls, checkpoint.ToolCallLog{
				CallID:    step.ToolCallID,
				Name:      step.ToolName,
				Output:    step.Output,
				Success:   !step.IsError,
				Timestamp: now,
			})
			if step.IsError {
				errs = append(errs, checkpoint.ErrorLog{
					Step:      step.StepNumber,
					Kind:      "tool_error",
					Message:   step.Output,
					Timestamp: now,
				})
			}
		case "think":
			messages = append(messages, checkpoint.Message{Role: "assistant", ReasoningContent: step.Output})
		case "answer":
			messages = append(messages, checkpoint.Message{Role: "assistant", Content: step.Output})
		case "recover":
			if step.IsError {
				errs = append(errs, checkpoint.ErrorLog{
					Step:      step.StepNumber,
					Kind:      "recovery_exhausted",
					Message:   step.Input,
					Timestamp: now,
				})
			}
		}
	}

	return &checkpoint.Checkpoint{
		Version:         s.CheckpointVersion,
		TaskID:          s.TaskID,
		TaskDescription: s.Problem,
		CreatedAt:       s.checkpointCreatedAt,
		UpdatedAt:       now,
		Status:          status,
		CurrentStep:     len(s.StepHistory),
		Messages:        messages,
		ToolCalls:       toolCalls,
		Errors:          errs,
	}
}

// lastStepTime approximates "now" as the checkpoint timestamp without
// calling time.Now() directly from node logic that tests drive
// deterministically; in production this always returns the real wall clock.
func (s *AgentState) lastStepTime() time.Time {
	return time.Now().UTC()
}
