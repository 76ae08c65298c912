package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pocketomega/omega-core/internal/llm"
)

// Context Compressor. Keeps a conversation within a token budget while
// preserving the system message and the most recent task-relevant turns.
// Stateless: every function here operates only on its arguments.

const (
	compressionThresholdRatio = 0.85 // threshold = 0.85 * budget
	minRecentMessages         = 6    // min_recent
	summaryCharTruncate       = 500  // per-message truncation in the summarization request
	summarizationTimeout      = 120 * time.Second
	tokenOverheadPerMessage   = 50
)

// EstimateTokens approximates a conversation's token count. Per message:
// character count divided by 3 if the content looks structured (contains
// '{', '}', or ';' — code/JSON), else divided by 4, plus a fixed 50-token
// per-message overhead. Estimate only, never a hard bound.
func EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateMessageTokens(m.Content) + tokenOverheadPerMessage
	}
	return total
}

func estimateMessageTokens(content string) int {
	divisor := 4
	if strings.ContainsAny(content, "{};") {
		divisor = 3
	}
	return len(content) / divisor
}

// ShouldCompress reports whether a conversation's estimated size exceeds
// the compression threshold (85% of budget). budget <= 0 disables the check.
func ShouldCompress(messages []llm.Message, budget int) bool {
	if budget <= 0 {
		return false
	}
	threshold := float64(budget) * compressionThresholdRatio
	return float64(EstimateTokens(messages)) > threshold
}

// Summarizer is the minimal LLM dependency Compress needs. Any
// llm.LLMProvider already satisfies this.
type Summarizer interface {
	CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error)
}

// Compress enforces the token budget on messages. It prefers the
// summarizing path and falls back to hard structural truncation on
// timeout or LLM error. Both paths keep the system message first. The
// hard path ends with a user message; the summarizing path keeps the last
// minRecentMessages verbatim, so its output ends with whatever the input
// ended with.
func Compress(ctx context.Context, summarizer Summarizer, messages []llm.Message) []llm.Message {
	if len(messages) == 0 {
		return messages
	}

	first := messages[0]

	recentCount := minRecentMessages
	if recentCount > len(messages)-1 {
		recentCount = len(messages) - 1
	}
	if recentCount < 0 {
		recentCount = 0
	}
	recent := messages[len(messages)-recentCount:]
	middle := messages[1 : len(messages)-recentCount]

	if len(middle) == 0 {
		return messages
	}

	summary, err := summarize(ctx, summarizer, middle)
	if err != nil {
		log.Printf("[Compressor] soft compression failed (%v), falling back to hard compression", err)
		return hardCompress(messages)
	}

	out := make([]llm.Message, 0, 4+len(recent))
	out = append(out,
		first,
		llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("[CONTEXT SUMMARY - %d messages compressed]:\n%s", len(middle), summary)},
		llm.Message{Role: llm.RoleUser, Content: "[RECENT CONTEXT]:"},
		llm.Message{Role: llm.RoleUser, Content: "Based on the above summary, please continue the task."},
	)
	return append(out, recent...)
}

// summarize issues the single summarization LLM call, bounded by a 120s
// timeout. Middle message contents are truncated to 500 chars at rune
// boundaries before being listed in the request.
func summarize(ctx context.Context, summarizer Summarizer, middle []llm.Message) (string, error) {
	if summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}

	var sb strings.Builder
	sb.WriteString("Summarize the following conversation excerpt. Preserve facts, decisions, and file paths; omit routine tool outputs.\n\n")
	for _, m := range middle {
		content := m.Content
		if runes := []rune(content); len(runes) > summaryCharTruncate {
			content = string(runes[:summaryCharTruncate])
		}
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, content)
	}

	sctx, cancel := context.WithTimeout(ctx, summarizationTimeout)
	defer cancel()

	resp, err := summarizer.CallLLM(sctx, []llm.Message{{Role: llm.RoleUser, Content: sb.String()}})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// hardCompress performs bounded structural truncation: keep the system
// message, note that earlier context was dropped, then append the last 3
// messages with the invariant that no two consecutive assistant messages
// appear (adjacent duplicates skipped). If the resulting tail isn't a user
// message, a continuation prompt is appended. Output is always bounded.
func hardCompress(messages []llm.Message) []llm.Message {
	if len(messages) == 0 {
		return messages
	}

	out := []llm.Message{
		messages[0],
		{Role: llm.RoleUser, Content: "[Earlier context was compressed due to length limits]"},
	}

	var tail []llm.Message
	if len(messages) > 1 {
		tail = messages[1:]
	}
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}

	for _, m := range tail {
		if m.Role == llm.RoleAssistant && out[len(out)-1].Role == llm.RoleAssistant {
			continue
		}
		out = append(out, m)
	}

	if out[len(out)-1].Role != llm.RoleUser {
		out = append(out, llm.Message{Role: llm.RoleUser, Content: "Based on the above, please continue the task."})
	}

	return out
}
