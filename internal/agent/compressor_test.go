package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/pocketomega/omega-core/internal/llm"
)

type fixedSummarizer struct {
	summary string
	err     error
}

func (f fixedSummarizer) CallLLM(_ context.Context, _ []llm.Message) (llm.Message, error) {
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: llm.RoleAssistant, Content: f.summary}, nil
}

// Scenario 1 from the spec's testable-properties list: budget 100000,
// conversation of 1 system + 60 alternating user/assistant messages of 200
// chars each. should_compress must be true, and compressing with a mock LLM
// that returns "SUMMARY" must produce 10 messages shaped as documented.
func TestCompress_SoftCompressionScenario(t *testing.T) {
	messages := make([]llm.Message, 0, 61)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: strings.Repeat("s", 200)})
	for i := 0; i < 60; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: strings.Repeat("x", 200)})
	}

	if !ShouldCompress(messages, 100000) {
		t.Fatalf("expected should_compress to be true for a 61-message conversation against a 100000 budget")
	}

	out := Compress(context.Background(), fixedSummarizer{summary: "SUMMARY"}, messages)

	if len(out) != 10 {
		t.Fatalf("expected 10 output messages (4+6), got %d", len(out))
	}
	if out[0].Role != llm.RoleSystem {
		t.Fatalf("expected output[0].Role = system, got %s", out[0].Role)
	}
	if !strings.HasPrefix(out[1].Content, "[CONTEXT SUMMARY -") {
		t.Fatalf("expected output[1].Content to start with '[CONTEXT SUMMARY -', got %q", out[1].Content)
	}

	wantRecent := messages[len(messages)-6:]
	gotRecent := out[len(out)-6:]
	for i := range wantRecent {
		if gotRecent[i] != wantRecent[i] {
			t.Fatalf("output tail[%d] = %+v, want %+v", i, gotRecent[i], wantRecent[i])
		}
	}
}

func TestShouldCompress_ZeroBudgetDisabled(t *testing.T) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: strings.Repeat("x", 10000)}}
	if ShouldCompress(messages, 0) {
		t.Fatalf("budget<=0 must disable compression")
	}
}

func TestCompress_EmptyMiddleReturnsUnchanged(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "u1"},
	}
	out := Compress(context.Background(), fixedSummarizer{summary: "SUMMARY"}, messages)
	if len(out) != len(messages) {
		t.Fatalf("expected unchanged conversation when |middle|=0, got %d messages", len(out))
	}
}

func TestCompress_FallsBackToHardCompressionOnError(t *testing.T) {
	messages := make([]llm.Message, 0, 20)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: "sys"})
	for i := 0; i < 19; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: "turn"})
	}

	out := Compress(context.Background(), fixedSummarizer{err: context.DeadlineExceeded}, messages)

	if out[0].Role != llm.RoleSystem {
		t.Fatalf("expected output to begin with system, got %s", out[0].Role)
	}
	if out[len(out)-1].Role != llm.RoleUser {
		t.Fatalf("expected output to end with user, got %s", out[len(out)-1].Role)
	}
	for i := 1; i < len(out); i++ {
		if out[i].Role == llm.RoleAssistant && out[i-1].Role == llm.RoleAssistant {
			t.Fatalf("found two consecutive assistant messages at index %d", i)
		}
	}
}

func TestHardCompress_EmptyInput(t *testing.T) {
	out := hardCompress(nil)
	if len(out) != 0 {
		t.Fatalf("expected empty output for empty input, got %d messages", len(out))
	}
}

func TestEstimateTokens_StructuredContentUsesSmallerDivisor(t *testing.T) {
	plain := []llm.Message{{Content: strings.Repeat("a", 40)}}
	structured := []llm.Message{{Content: strings.Repeat("a", 37) + "{};"}}
	if EstimateTokens(structured) <= EstimateTokens(plain) {
		t.Fatalf("structured content (divisor 3) should estimate higher than plain content (divisor 4) of similar length")
	}
}
