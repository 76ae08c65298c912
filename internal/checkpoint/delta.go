package checkpoint

import "fmt"

// computeDelta builds a Delta from onDisk → inMemory. ok is false when the
// pair isn't delta-representable and the caller must force a full write:
// task id mismatch, a non-strictly-increasing version, a non-prefix-extension
// on any of the four appendable sequences, or a git-state change that would
// need to clear an existing value (the delta format cannot encode clearing).
func computeDelta(onDisk, inMemory *Checkpoint) (*Delta, bool) {
	if onDisk.TaskID != inMemory.TaskID {
		return nil, false
	}
	if inMemory.Version <= onDisk.Version {
		return nil, false
	}

	msgNew, ok := extendedSuffix(len(onDisk.Messages), inMemory.Messages)
	if !ok {
		return nil, false
	}
	memNew, ok := extendedSuffix(len(onDisk.MemoryEntries), inMemory.MemoryEntries)
	if !ok {
		return nil, false
	}
	toolNew, ok := extendedSuffix(len(onDisk.ToolCalls), inMemory.ToolCalls)
	if !ok {
		return nil, false
	}
	errNew, ok := extendedSuffix(len(onDisk.Errors), inMemory.Errors)
	if !ok {
		return nil, false
	}

	if onDisk.GitCheckpoint != nil && inMemory.GitCheckpoint == nil {
		// Clearing an existing value cannot be encoded by the delta format.
		return nil, false
	}

	d := &Delta{
		TaskID:        inMemory.TaskID,
		BaseVersion:   onDisk.Version,
		TargetVersion: inMemory.Version,
		UpdatedAt:     inMemory.UpdatedAt,
		MessagesNew:   msgNew,
		MemoryNew:     memNew,
		ToolCallsNew:  toolNew,
		ErrorsNew:     errNew,
	}
	if onDisk.Status != inMemory.Status {
		s := inMemory.Status
		d.Status = &s
	}
	if onDisk.CurrentStep != inMemory.CurrentStep {
		v := inMemory.CurrentStep
		d.CurrentStep = &v
	}
	if onDisk.CurrentIteration != inMemory.CurrentIteration {
		v := inMemory.CurrentIteration
		d.CurrentIteration = &v
	}
	if onDisk.EstimatedTokens != inMemory.EstimatedTokens {
		v := inMemory.EstimatedTokens
		d.EstimatedTokens = &v
	}
	if inMemory.GitCheckpoint != nil {
		d.GitCheckpoint = inMemory.GitCheckpoint
	}
	return d, true
}

// extendedSuffix returns the elements of full beyond baseLen, or ok=false
// if full is shorter than baseLen (not a prefix-extension at all — the
// caller forces a full write in that case).
func extendedSuffix[T any](baseLen int, full []T) ([]T, bool) {
	if len(full) < baseLen {
		return nil, false
	}
	if len(full) == baseLen {
		return nil, true
	}
	return full[baseLen:], true
}

// applyDelta mutates cp in place per the read-protocol replay rule: the
// base version must equal cp's current version, then cp advances to the
// target version, updated_at, scalar replacements, and the four appendable
// sequences are extended.
func applyDelta(cp *Checkpoint, d *Delta) error {
	if cp.TaskID != d.TaskID {
		return fmt.Errorf("checkpoint: delta task id %q does not match checkpoint %q", d.TaskID, cp.TaskID)
	}
	if cp.Version != d.BaseVersion {
		return fmt.Errorf("checkpoint: delta base version %d does not match checkpoint version %d", d.BaseVersion, cp.Version)
	}

	cp.Version = d.TargetVersion
	cp.UpdatedAt = d.UpdatedAt
	if d.Status != nil {
		cp.Status = *d.Status
	}
	if d.CurrentStep != nil {
		cp.CurrentStep = *d.CurrentStep
	}
	if d.CurrentIteration != nil {
		cp.CurrentIteration = *d.CurrentIteration
	}
	if d.EstimatedTokens != nil {
		cp.EstimatedTokens = *d.EstimatedTokens
	}
	if d.GitCheckpoint != nil {
		cp.GitCheckpoint = d.GitCheckpoint
	}
	cp.Messages = append(cp.Messages, d.MessagesNew...)
	cp.MemoryEntries = append(cp.MemoryEntries, d.MemoryNew...)
	cp.ToolCalls = append(cp.ToolCalls, d.ToolCallsNew...)
	cp.Errors = append(cp.Errors, d.ErrorsNew...)
	return nil
}
