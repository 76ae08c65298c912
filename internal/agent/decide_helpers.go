package agent

import (
	"fmt"
	"strings"

	"github.com/pocketomega/omega-core/internal/llm"
	"github.com/pocketomega/omega-core/internal/tool"
)

// truncate shortens s to at most maxLen runes, appending "..." when cut.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// ── MetaToolGuard helpers ──

// countTrailingMetaTools counts how many consecutive meta-tool steps are at the
// end of the step history. Used by MetaToolGuard to detect bookkeeping loops.
func countTrailingMetaTools(steps []StepRecord) int {
	count := 0
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.Type == "tool" && metaTools[s.ToolName] {
			count++
		} else if s.Type == "tool" {
			break // non-meta tool step breaks the streak
		}
		// skip decide/think/answer steps — they don't break the meta-tool streak
	}
	return count
}

// lastToolStep returns the most recent type="tool" step, or nil if none.
// Used by proactive MetaToolGuard to check if the last tool returned an error.
func lastToolStep(steps []StepRecord) *StepRecord {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Type == "tool" {
			return &steps[i]
		}
	}
	return nil
}

// filterOutMetaToolDefs removes meta-tools from FC tool definitions.
// Used by SuppressMetaTools to physically prevent the LLM from calling meta-tools
// when it's stuck in a loop — the nuclear option for weaker models that ignore errors.
func filterOutMetaToolDefs(defs []llm.ToolDefinition) []llm.ToolDefinition {
	filtered := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if !metaTools[d.Name] {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// generateToolsPromptExcluding rebuilds the YAML tools prompt excluding meta-tools.
// Used instead of clearing toolsPrompt entirely, so the LLM still sees non-meta tools.
func generateToolsPromptExcluding(reg *tool.Registry, exclude map[string]bool) string {
	tools := reg.List()
	var sb strings.Builder
	sb.WriteString("可用工具：\n")
	count := 0
	for _, t := range tools {
		if exclude[t.Name()] {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n### %s\n%s\n", t.Name(), t.Description()))
		schema := t.InputSchema()
		if len(schema) > 0 {
			sb.WriteString(fmt.Sprintf("参数 Schema: %s\n", string(schema)))
		}
		count++
	}
	if count == 0 {
		return "（无可用工具）"
	}
	return sb.String()
}
