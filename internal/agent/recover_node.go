package agent

import (
	"context"
	"log"
	"time"

	"github.com/pocketomega/omega-core/internal/core"
)

// RecoverPrep carries the signal that routed the flow into recovery: the
// most recent tool error and how many consecutive recovery trips have
// already happened without a clean tool success resetting the counter.
type RecoverPrep struct {
	LastError string
	Attempts  int
	MaxRetry  int
}

// RecoverResult says whether another attempt is worth making.
type RecoverResult struct {
	ShouldRetry bool
	Note        string
}

// RecoverNodeImpl implements BaseNode[AgentState, RecoverPrep, RecoverResult].
// It is the error-recovery stop reached when the LoopDetector's
// consecutive_errors rule fires: rather than giving up immediately like a
// repetition loop does, it gives the run a bounded number of additional
// attempts, checkpointing state before each one so a crash mid-recovery
// does not lose the steps already taken.
type RecoverNodeImpl struct{}

func NewRecoverNode() *RecoverNodeImpl {
	return &RecoverNodeImpl{}
}

// Prep reads the recovery bookkeeping off state.
func (n *RecoverNodeImpl) Prep(state *AgentState) []RecoverPrep {
	maxRetry := state.MaxRecoverAttempts
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRecoverAttempts
	}

	lastErr := ""
	if step := lastToolStep(state.StepHistory); step != nil && step.IsError {
		lastErr = step.Output
	}

	return []RecoverPrep{{
		LastError: lastErr,
		Attempts:  state.RecoverAttempts,
		MaxRetry:  maxRetry,
	}}
}

// Exec is a deterministic decision — no LLM call — since the only question
// is whether the retry budget is exhausted.
func (n *RecoverNodeImpl) Exec(ctx context.Context, prep RecoverPrep) (RecoverResult, error) {
	if prep.Attempts >= prep.MaxRetry {
		return RecoverResult{
			ShouldRetry: false,
			Note:        "recovery attempts exhausted",
		}, nil
	}
	return RecoverResult{ShouldRetry: true}, nil
}

// ExecFallback treats an internal failure in the recovery decision itself as
// non-retryable — recovery must not be the thing that hangs the run.
func (n *RecoverNodeImpl) ExecFallback(err error) RecoverResult {
	return RecoverResult{ShouldRetry: false, Note: "recovery node failed: " + err.Error()}
}

// Post records the recovery step, checkpoints the run if a Checkpoint
// Engine is attached, and routes back to DecideNode for another attempt or
// forward to ActionFail when the budget is spent.
func (n *RecoverNodeImpl) Post(state *AgentState, prep []RecoverPrep, results ...RecoverResult) core.Action {
	if len(results) == 0 {
		return core.ActionFail
	}
	result := results[0]

	state.RecoverAttempts++

	step := StepRecord{
		StepNumber: len(state.StepHistory) + 1,
		Type:       "recover",
		Action:     "recover",
		Input:      result.Note,
		IsError:    !result.ShouldRetry,
	}
	state.StepHistory = append(state.StepHistory, step)
	if state.OnStepComplete != nil {
		state.OnStepComplete(step)
	}

	if state.CheckpointEngine != nil && state.TaskID != "" {
		if err := state.CheckpointEngine.SaveWithRetry(state.ToCheckpoint()); err != nil {
			log.Printf("[Recover] checkpoint save failed: %v", err)
		}
	}

	if !result.ShouldRetry {
		log.Printf("[Recover] giving up after %d attempts", state.RecoverAttempts)
		return core.ActionFail
	}

	log.Printf("[Recover] retrying after consecutive tool errors (attempt %d)", state.RecoverAttempts)
	// Reset the loop-detection streak. The LoopDetector itself reads
	// StepHistory, so the errors already recorded there still count toward
	// its consecutive_errors rule.
	state.LoopDetectionStreak = 0
	return core.ActionDefault
}

// recoverBackoff is a delay value for recovery trips. Post does not sleep
// on it: the next decision attempt starts immediately.
var recoverBackoff = 500 * time.Millisecond
