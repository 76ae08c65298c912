package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pocketomega/omega-core/internal/core"
	"github.com/pocketomega/omega-core/internal/safety"
	"github.com/pocketomega/omega-core/internal/tool"
	"github.com/pocketomega/omega-core/internal/walkthrough"
)

// DefaultStepTimeoutSecs bounds a single tool invocation when AgentState
// does not override StepTimeoutSecs.
const DefaultStepTimeoutSecs = 60

// maxContextFiles bounds the context-file tracking set (§4.1 step 10).
const maxContextFiles = 500

// destructiveTools snapshot their target's prior content into the undo
// ring before executing (§4.1 step 5). file_patch is this harness's
// line-level editor and stands in for the spec's file_edit.
var destructiveTools = map[string]bool{
	"file_write":  true,
	"file_patch":  true,
	"file_delete": true,
}

// editVerifyTriggers are the tools whose successful execution hands off to
// the Verification Gate (§4.1 step 7).
var editVerifyTriggers = map[string]bool{
	"file_write": true,
	"file_patch": true,
}

// ToolNodeImpl implements BaseNode[AgentState, ToolPrep, ToolExecResult].
// It reads LastDecision, validates the call against the Safety Validator,
// executes the requested tool, and returns results.
type ToolNodeImpl struct {
	registry  *tool.Registry
	validator *safety.Validator
}

func NewToolNode(registry *tool.Registry) *ToolNodeImpl {
	return &ToolNodeImpl{registry: registry, validator: safety.New(safety.Config{})}
}

// NewToolNodeWithValidator builds a ToolNodeImpl with an explicit Safety
// Validator configuration, for callers that populate allowed/denied paths,
// protected branches, or a volume-mount denylist.
func NewToolNodeWithValidator(registry *tool.Registry, validator *safety.Validator) *ToolNodeImpl {
	return &ToolNodeImpl{registry: registry, validator: validator}
}

// Prep reads LastDecision, resolves the tool from state.ToolRegistry (per-request),
// converts ToolParams (map[string]any) to json.RawMessage, and gathers
// everything later pipeline steps need (confirmation, timeout, undo
// snapshot, repetition gate) while state is still reachable.
func (n *ToolNodeImpl) Prep(state *AgentState) []ToolPrep {
	if state.LastDecision == nil {
		return nil
	}

	// Step 1: synthesize a call ID when the model/YAML path didn't provide one.
	if state.LastDecision.ToolCallID == "" {
		state.LastDecision.ToolCallID = "call_" + uuid.NewString()
	}

	argsJSON, err := json.Marshal(state.LastDecision.ToolParams)
	if err != nil {
		log.Printf("[ToolNode] Failed to marshal tool params: %v", err)
		argsJSON = []byte("{}")
	}

	toolName := state.LastDecision.ToolName

	reg := state.ToolRegistry
	if reg == nil {
		reg = n.registry
	}
	resolved, _ := reg.Get(toolName)

	prep := ToolPrep{
		ToolName:     toolName,
		Args:         argsJSON,
		ToolCallID:   state.LastDecision.ToolCallID,
		ResolvedTool: resolved,
		ReadCache:    state.ReadCache,

		ConfirmRequired: state.ConfirmRequired[toolName],
		NonInteractive:  state.NonInteractive,
		ConfirmBypass:   state.ConfirmBypass,
		TimeoutSecs:     state.StepTimeoutSecs,
		VerifyGate:      state.VerifyGate,
	}

	// Step 0 (layered ahead of everything else): repetition FIFO. A blocked
	// call still consumes this iteration's tool slot but never reaches Exec's
	// tool invocation.
	if rep := checkRepetition(state, toolName, argsJSON); rep.Detected {
		prep.RepetitionBlocked = true
		prep.RepetitionAdvisory = fmt.Sprintf(
			"⚠️ 循环检测: %s。已跳过本次执行，请改变策略、检查之前的结果或直接给出结论，不要重复相同的调用。",
			rep.Description,
		)
	}

	// Step 5 prep: snapshot the destructive tool's target before execution.
	if destructiveTools[toolName] {
		prep.IsDestructive = true
		prep.TargetPath = extractParam(string(argsJSON), "path")
		if prep.TargetPath != "" {
			prep.PriorContent, prep.HadPriorFile = readPriorContent(state.WorkspaceDir, prep.TargetPath)
		}
	}

	return []ToolPrep{prep}
}

// readPriorContent best-effort reads a workspace-relative path's current
// content ahead of a destructive tool call. Unreadable/missing files are not
// an error here — they just mean "no prior content to restore".
func readPriorContent(workspaceDir, relPath string) (content string, existed bool) {
	path := relPath
	if workspaceDir != "" && !filepath.IsAbs(relPath) {
		path = filepath.Join(workspaceDir, relPath)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Exec executes the pre-resolved tool carried in ToolPrep.
func (n *ToolNodeImpl) Exec(ctx context.Context, prep ToolPrep) (ToolExecResult, error) {
	start := time.Now()

	// Step 0: repetition gate — guarantees no tool executes this iteration.
	if prep.RepetitionBlocked {
		return ToolExecResult{
			ToolName:   prep.ToolName,
			Error:      prep.RepetitionAdvisory,
			ToolCallID: prep.ToolCallID,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	if prep.ResolvedTool == nil {
		return ToolExecResult{
			ToolName:   prep.ToolName,
			Error:      fmt.Sprintf("工具 %q 未找到", prep.ToolName),
			ToolCallID: prep.ToolCallID,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	// Step 2: Safety Validator. Reject before execution; the tool is never
	// invoked, and the reason is surfaced as a tool-result error so the
	// model can see the failure and retry a different approach.
	if n.validator != nil {
		if err := n.validator.Check(prep.ToolName, prep.Args); err != nil {
			log.Printf("[ToolNode] Safety rejected %s: %v", prep.ToolName, err)
			return ToolExecResult{
				ToolName:   prep.ToolName,
				Error:      fmt.Sprintf("安全限制: %v", err),
				ToolCallID: prep.ToolCallID,
				DurationMs: time.Since(start).Milliseconds(),
			}, nil
		}
	}

	// Step 3: confirmation. This harness exposes no interactive TTY prompt
	// (it is driven over HTTP/SSE), so a confirm-required tool with no
	// standing bypass always surfaces as a terminal ConfirmationRequired —
	// in non-interactive mode per the spec, and as the honest fallback in
	// interactive mode since there is nothing to prompt.
	if prep.ConfirmRequired && !prep.ConfirmBypass {
		return ToolExecResult{
			ToolName:             prep.ToolName,
			Error:                fmt.Sprintf("工具 %q 需要用户确认才能执行", prep.ToolName),
			ToolCallID:           prep.ToolCallID,
			ConfirmationRequired: true,
			DurationMs:           time.Since(start).Milliseconds(),
		}, nil
	}

	// ReadCache: intercept duplicate calls for cacheable tools
	if prep.ReadCache != nil && isCacheable(prep.ToolName) {
		key := CacheKey(prep.ToolName, string(prep.Args))
		if cached, ok := prep.ReadCache.Get(key); ok {
			return ToolExecResult{
				ToolName:   prep.ToolName,
				Output:     fmt.Sprintf("⚠️ 此内容与步骤 %d 相同（已缓存），请直接复用之前的结果。\n\n%s", cached.StepNumber, cached.Output),
				ToolCallID: prep.ToolCallID,
				DurationMs: time.Since(start).Milliseconds(),
			}, nil
		}
	}

	// Step 6: bounded per-tool timeout via select. Any tool — not just the
	// ones that already build their own exec.CommandContext — gets a hard
	// wall-clock bound here.
	timeout := time.Duration(prep.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = DefaultStepTimeoutSecs * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execOutcome struct {
		result tool.ToolResult
		err    error
	}
	done := make(chan execOutcome, 1)
	go func() {
		r, err := prep.ResolvedTool.Execute(execCtx, prep.Args)
		done <- execOutcome{r, err}
	}()

	var result tool.ToolResult
	select {
	case out := <-done:
		if out.err != nil {
			return ToolExecResult{
				ToolName:   prep.ToolName,
				Error:      fmt.Sprintf("执行失败: %v", out.err),
				ToolCallID: prep.ToolCallID,
				DurationMs: time.Since(start).Milliseconds(),
			}, nil
		}
		result = out.result
	case <-execCtx.Done():
		return ToolExecResult{
			ToolName:   prep.ToolName,
			Error:      fmt.Sprintf("工具执行超时 (%v)", timeout),
			ToolCallID: prep.ToolCallID,
			TimedOut:   true,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}
	elapsed := time.Since(start).Milliseconds()

	execResult := ToolExecResult{
		ToolName:   prep.ToolName,
		Output:     result.Output,
		Error:      result.Error,
		ToolCallID: prep.ToolCallID,
		DurationMs: elapsed,
	}

	// Step 8: cargo_check error-analyzer. cargo/go tools report structured
	// failure via a {"success":false,...} JSON payload rather than a
	// non-nil Go error, so success/failure of the *check* is read from the
	// payload, not from execResult.Error.
	if prep.ToolName == "cargo_check" {
		if enhanced, ok := enhanceCargoCheckFailure(result); ok {
			execResult.Error = enhanced
		}
	}

	// Step 7: post-edit Verification Gate hand-off.
	if execResult.Error == "" && editVerifyTriggers[prep.ToolName] && prep.VerifyGate != nil {
		paths := []string{prep.TargetPath}
		if prep.TargetPath == "" {
			paths = nil
		}
		passed, rendered := prep.VerifyGate.VerifyChange(ctx, paths, prep.ToolName)
		execResult.VerifyReport = VerifyReport{Ran: true, OverallPassed: passed, Rendered: rendered}
		if !passed {
			execResult.Error = rendered
		}
	}

	return execResult, nil
}

// enhanceCargoCheckFailure inspects a cargo_check/go_build result's JSON
// payload (see builtin.cargoResultPayload) and, when it reports
// "success":false, appends best-effort remediation suggestions. ok is false
// when the output isn't the expected payload shape (e.g. the tool wasn't
// found, or its Error already carries a parse/exec failure) so callers know
// to leave execResult.Error untouched.
func enhanceCargoCheckFailure(result tool.ToolResult) (string, bool) {
	raw := result.Output
	if raw == "" {
		raw = result.Error
	}
	var payload struct {
		Success bool   `json:"success"`
		Output  string `json:"output"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", false
	}
	if payload.Success {
		return "", false
	}

	suggestions := analyzeCompilerOutput(payload.Output)
	msg := fmt.Sprintf("cargo_check 失败:\n%s", payload.Output)
	if len(suggestions) > 0 {
		msg += "\n\n建议:\n"
		for _, s := range suggestions {
			msg += "- " + s + "\n"
		}
	}
	return msg, true
}

// analyzeCompilerOutput scans compiler/test output for common, high-signal
// failure patterns and returns a short list of remediation hints.
func analyzeCompilerOutput(output string) []string {
	var hints []string
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "cannot find") || strings.Contains(lower, "undefined:"):
		hints = append(hints, "检查是否缺少 import/use 声明，或标识符拼写是否正确")
	case strings.Contains(lower, "mismatched types") || strings.Contains(lower, "expected") && strings.Contains(lower, "found"):
		hints = append(hints, "检查函数签名与调用处的类型是否一致")
	case strings.Contains(lower, "borrow") || strings.Contains(lower, "moved value"):
		hints = append(hints, "检查所有权/借用是否冲突，考虑 clone 或调整生命周期")
	case strings.Contains(lower, "does not implement"):
		hints = append(hints, "检查目标类型是否实现了所需的 trait/接口的全部方法")
	}
	return hints
}

// ExecFallback returns an error result.
func (n *ToolNodeImpl) ExecFallback(err error) ToolExecResult {
	return ToolExecResult{
		Error: fmt.Sprintf("工具执行失败: %v", err),
	}
}

// Post records the tool result, maintains the undo ring / context-file
// tracking set / failure memory, persists a per-step checkpoint, and routes
// back to DecideNode.
func (n *ToolNodeImpl) Post(state *AgentState, prep []ToolPrep, results ...ToolExecResult) core.Action {
	if len(results) == 0 || len(prep) == 0 {
		return core.ActionDefault
	}

	result := results[0]
	p := prep[0]

	// Merge output and error — preserve partial output when tools fail
	output := result.Output
	if result.Error != "" {
		if output != "" {
			output = fmt.Sprintf("%s\n\n错误: %s", output, result.Error)
		} else {
			output = fmt.Sprintf("错误: %s", result.Error)
		}
	}

	step := StepRecord{
		StepNumber: len(state.StepHistory) + 1,
		Type:       "tool",
		ToolName:   p.ToolName,
		Input:      string(p.Args),
		Output:     output,
		ToolCallID: p.ToolCallID,
		IsError:    result.Error != "",
		DurationMs: result.DurationMs,
	}
	state.StepHistory = append(state.StepHistory, step)

	// Step 5 (commit): record the undo-ring snapshot now that the call ran
	// and wasn't blocked/rejected pre-flight.
	if p.IsDestructive && p.TargetPath != "" && !result.ConfirmationRequired {
		state.EditHistory = append(state.EditHistory, EditSnapshot{
			ToolName:  p.ToolName,
			Path:      p.TargetPath,
			HadPrior:  p.HadPriorFile,
			Content:   p.PriorContent,
			Timestamp: time.Now().UTC(),
		})
		const maxEditHistory = 200
		if len(state.EditHistory) > maxEditHistory {
			state.EditHistory = state.EditHistory[len(state.EditHistory)-maxEditHistory:]
		}
	}

	// Step 10: context-file tracking set.
	updateContextFileTracking(state, p.ToolName, string(p.Args))

	// Step 11: self-improvement counters / failure memory.
	if result.Error != "" && !result.TimedOut {
		state.FailureMemory = append(state.FailureMemory, FailureMemoryEntry{
			Kind:   "tool_error",
			Detail: fmt.Sprintf("%s: %s", p.ToolName, truncate(result.Error, 200)),
		})
	}

	// ReadCache: cache results for cacheable tools + invalidate on writes
	isCacheHit := false
	if state.ReadCache != nil {
		if isCacheable(p.ToolName) && result.Error == "" {
			key := CacheKey(p.ToolName, string(p.Args))
			// Check if this was a cache hit (output starts with ⚠️)
			if strings.HasPrefix(result.Output, "⚠️") {
				isCacheHit = true
			} else {
				// First call: cache the result with step number
				state.ReadCache.Put(key, ReadCacheEntry{
					StepNumber: step.StepNumber,
					Output:     result.Output,
				})
			}
		}
		if isWriteTool(p.ToolName) {
			path := extractParam(string(p.Args), "path")
			if path != "" {
				state.ReadCache.Invalidate(FileReadCacheKey(path))
			}
		}
	}

	// Auto-write walkthrough entry (skip for cache hits — avoids memo noise)
	if !isCacheHit && state.WalkthroughStore != nil && state.WalkthroughSID != "" {
		if summary := buildAutoSummary(p.ToolName, string(p.Args), output, result.Error != ""); summary != "" {
			state.WalkthroughStore.Append(state.WalkthroughSID, walkthrough.Entry{
				StepNumber: step.StepNumber,
				Source:     walkthrough.SourceAuto,
				Content:    summary,
			})
		}
	}

	if state.OnStepComplete != nil {
		state.OnStepComplete(step)
	}

	// Step 12: per-step checkpoint persistence (§4.4's write protocol wants
	// a checkpoint after every tool call, not just at run end/recovery).
	if state.CheckpointEngine != nil && state.TaskID != "" {
		if err := state.CheckpointEngine.SaveWithRetry(state.ToCheckpoint()); err != nil {
			log.Printf("[ToolNode] checkpoint save failed: %v", err)
		}
	}

	log.Printf("[ToolNode] Executed %s: %s", p.ToolName, truncate(output, 100))

	return core.ActionDefault // Back to DecideNode
}

// updateContextFileTracking maintains the bounded context-file set (§4.1
// step 10): file_read adds to a ≤maxContextFiles set, file_write/file_patch
// marks the path stale, file_delete removes it from both sets.
func updateContextFileTracking(state *AgentState, toolName, argsJSON string) {
	path := extractParam(argsJSON, "path")
	if path == "" {
		return
	}
	if state.ContextFiles == nil {
		state.ContextFiles = make(map[string]bool)
	}
	if state.StaleContextFiles == nil {
		state.StaleContextFiles = make(map[string]bool)
	}

	switch toolName {
	case "file_read":
		if _, tracked := state.ContextFiles[path]; !tracked && len(state.ContextFiles) >= maxContextFiles {
			return // set is full; don't evict, just stop growing
		}
		state.ContextFiles[path] = true
		delete(state.StaleContextFiles, path)
	case "file_write", "file_patch":
		if state.ContextFiles[path] {
			state.StaleContextFiles[path] = true
		}
	case "file_delete":
		delete(state.ContextFiles, path)
		delete(state.StaleContextFiles, path)
	}
}

// skipAutoSummaryTools are meta-tools whose execution is not worth recording.
// ⚠️ Update this list when adding new meta-tools.
var skipAutoSummaryTools = map[string]bool{
	"walkthrough": true,
	"update_plan": true,
}

// autoSummaryParamKeys maps tool names to the JSON key for the "key parameter".
// Built from baseToolKeyParams (tool_params.go) + summary-specific extras.
var autoSummaryParamKeys = mergeToolKeyParams(map[string]string{
	"web_search": "query",
	"web_reader": "url",
})

// buildAutoSummary creates a one-line summary for walkthrough auto-write.
// Format: tool_name("key_param"): first_line_of_output — max 150 chars.
// Returns "" for meta-tools or empty output.
func buildAutoSummary(toolName, argsJSON, output string, isError bool) string {
	if skipAutoSummaryTools[toolName] {
		return ""
	}

	// Extract key parameter
	keyParam := ""
	if paramKey, ok := autoSummaryParamKeys[toolName]; ok {
		var params map[string]interface{}
		if json.Unmarshal([]byte(argsJSON), &params) == nil {
			if v, ok := params[paramKey]; ok {
				keyParam = fmt.Sprintf("%v", v)
			}
		}
	}

	// Build summary
	var sb strings.Builder
	sb.WriteString(toolName)
	if keyParam != "" {
		// Truncate key param to 60 runes (UTF-8 safe)
		if runes := []rune(keyParam); len(runes) > 60 {
			keyParam = string(runes[:57]) + "..."
		}
		sb.WriteString(fmt.Sprintf("(%q)", keyParam))
	}
	sb.WriteString(": ")

	if isError {
		sb.WriteString("❌ 失败")
	} else {
		// First non-empty line of output
		firstLine := output
		if idx := strings.IndexByte(output, '\n'); idx >= 0 {
			firstLine = output[:idx]
		}
		firstLine = strings.TrimSpace(firstLine)
		if firstLine == "" {
			firstLine = "(无输出)"
		}
		sb.WriteString(firstLine)
	}

	result := sb.String()
	// Truncate to 150 chars
	runes := []rune(result)
	if len(runes) > 150 {
		result = string(runes[:147]) + "..."
	}
	return result
}
